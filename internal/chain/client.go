// Package chain is the network client capability used by deployment steps:
// submitting deployments and contract calls from the deployer account and
// blocking until transactions reach the required confirmation depth.
package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/arbor/internal/artifacts"
)

// Submission identifies a transaction that has been accepted by the node
// but not yet confirmed.
type Submission struct {
	TxHash common.Hash
	Nonce  uint64
	// ContractAddress is the CREATE address for deployments; zero otherwise.
	ContractAddress common.Address
}

// Receipt describes a confirmed transaction.
type Receipt struct {
	TxHash          common.Hash
	ContractAddress common.Address
	BlockNumber     uint64
	GasUsed         uint64
}

// Client submits transactions from the deployer account.
// Implementations serialize submissions; the deployer nonce is shared.
type Client interface {
	// ChainID returns the chain id reported by the network.
	ChainID(ctx context.Context) (uint64, error)

	// Deployer is the account that signs every transaction.
	Deployer() common.Address

	// Deploy submits the artifact's bytecode followed by the encoded
	// constructor arguments. A zero gasLimit asks the node for an estimate.
	Deploy(ctx context.Context, artifact *artifacts.Artifact, encodedArgs []byte, gasLimit uint64) (*Submission, error)

	// Transact calls a state-changing contract method.
	Transact(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*Submission, error)

	// Call executes a read-only contract method and returns its decoded outputs.
	Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error)

	// WaitConfirmations blocks until txHash is included and buried under
	// confirmations-1 further blocks. There is no internal timeout; the
	// wait ends early only when ctx is done.
	WaitConfirmations(ctx context.Context, txHash common.Hash, confirmations uint64) (*Receipt, error)
}

// TransactionFailure reports a submission that was rejected, reverted, or
// whose confirmations could not be observed.
type TransactionFailure struct {
	Op       string
	TxHash   common.Hash
	Reverted bool
	// Address is the CREATE address of a submitted deployment.
	Address common.Address
	Err     error
}

func (e *TransactionFailure) Error() string {
	var msg string
	switch {
	case e.Reverted:
		msg = fmt.Sprintf("%s: transaction %s reverted", e.Op, e.TxHash.Hex())
	case e.TxHash != (common.Hash{}):
		msg = fmt.Sprintf("%s: transaction %s: %v", e.Op, e.TxHash.Hex(), e.Err)
	default:
		msg = fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Address != (common.Address{}) {
		msg += " (contract " + e.Address.Hex() + ")"
	}
	return msg
}

func (e *TransactionFailure) Unwrap() error { return e.Err }
