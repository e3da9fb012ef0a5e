// Package registry is the persisted map from (contract name, chain id) to
// deployment record. A record is written only after the deployment reached
// the network's confirmation depth, and its presence is what makes a
// deployment step skip on later runs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidRecord is returned by Put for records missing identity fields.
var ErrInvalidRecord = errors.New("invalid deployment record")

// Key identifies a record.
type Key struct {
	Name    string
	ChainID uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ChainID, k.Name)
}

// Record is the durable trace of one confirmed deployment.
type Record struct {
	Name    string
	Network string
	ChainID uint64
	Address common.Address

	// ConstructorArgs is the human-readable rendering of the arguments, in
	// constructor order. EncodedArgs is their ABI encoding.
	ConstructorArgs []string
	EncodedArgs     []byte

	TxHash           common.Hash
	ConfirmedAtBlock uint64
	RunID            string
	DeployedAt       time.Time
}

// Key returns the record's registry key.
func (r *Record) Key() Key {
	return Key{Name: r.Name, ChainID: r.ChainID}
}

// Validate checks the identity fields.
func (r *Record) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	case r.ChainID == 0:
		return fmt.Errorf("%w: %s has no chain id", ErrInvalidRecord, r.Name)
	case r.Address == (common.Address{}):
		return fmt.Errorf("%w: %s has no address", ErrInvalidRecord, r.Name)
	}
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.ConstructorArgs = slices.Clone(r.ConstructorArgs)
	c.EncodedArgs = slices.Clone(r.EncodedArgs)
	return &c
}

// RecordNotFoundError is returned when no record exists for a key.
type RecordNotFoundError struct {
	Name    string
	ChainID uint64
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("no deployment of %s on chain %d", e.Name, e.ChainID)
}

// IsNotFound reports whether err is a RecordNotFoundError.
func IsNotFound(err error) bool {
	var nf *RecordNotFoundError
	return errors.As(err, &nf)
}

// Registry stores deployment records. There is at most one record per key;
// Put replaces an existing one.
type Registry interface {
	// Get returns the record for name on chainID, or *RecordNotFoundError.
	Get(ctx context.Context, name string, chainID uint64) (*Record, error)

	// Put stores a record.
	Put(ctx context.Context, record *Record) error

	// List returns every record for chainID in deployment order.
	List(ctx context.Context, chainID uint64) ([]*Record, error)
}
