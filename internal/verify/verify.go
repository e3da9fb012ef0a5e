// Package verify publishes deployed contract sources to a block explorer.
// Verification is best effort: callers log failures and carry on.
package verify

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/arbor/internal/artifacts"
)

// Request describes one deployed contract to verify.
type Request struct {
	Name    string
	ChainID uint64
	Address common.Address
	// ConstructorArgs is the ABI encoding of the constructor arguments.
	ConstructorArgs []byte
	Artifact        *artifacts.Artifact
}

// Verifier publishes source code for a deployed contract.
type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// VerificationFailure wraps any error raised while verifying a contract.
type VerificationFailure struct {
	Name    string
	Address common.Address
	Err     error
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verifying %s at %s: %v", e.Name, e.Address.Hex(), e.Err)
}

func (e *VerificationFailure) Unwrap() error { return e.Err }

// Noop accepts every request without doing anything.
type Noop struct{}

func (Noop) Verify(context.Context, Request) error { return nil }

// Func adapts a function to Verifier.
type Func func(ctx context.Context, req Request) error

func (f Func) Verify(ctx context.Context, req Request) error { return f(ctx, req) }
