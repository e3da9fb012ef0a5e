package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/zjrosen/arbor/internal/artifacts"
	"github.com/zjrosen/arbor/internal/log"
)

// DefaultPollInterval is how often receipts are polled while waiting for
// confirmations.
const DefaultPollInterval = 2 * time.Second

// backend is the subset of *ethclient.Client the Ethereum client uses.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Ethereum is a Client backed by a JSON-RPC node. Transactions are EIP-1559
// and signed locally with the deployer key.
type Ethereum struct {
	backend      backend
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration

	mu sync.Mutex // serializes nonce allocation and submission
}

// EthereumOption configures an Ethereum client.
type EthereumOption func(*Ethereum)

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) EthereumOption {
	return func(e *Ethereum) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// Dial connects to rpcURL and signs with key. The chain id is read once
// from the node.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, opts ...EthereumOption) (*Ethereum, error) {
	if key == nil {
		return nil, errors.New("deployer key is required")
	}
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}
	e, err := newEthereum(ctx, rpc, key, opts...)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return e, nil
}

func newEthereum(ctx context.Context, b backend, key *ecdsa.PrivateKey, opts ...EthereumOption) (*Ethereum, error) {
	id, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	e := &Ethereum{
		backend:      b,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      id,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ChainID returns the chain id read at dial time.
func (e *Ethereum) ChainID(_ context.Context) (uint64, error) {
	return e.chainID.Uint64(), nil
}

// Deployer returns the signing account.
func (e *Ethereum) Deployer() common.Address {
	return e.from
}

// Deploy submits a contract creation transaction.
func (e *Ethereum) Deploy(ctx context.Context, artifact *artifacts.Artifact, encodedArgs []byte, gasLimit uint64) (*Submission, error) {
	code := make([]byte, 0, len(artifact.Bytecode)+len(encodedArgs))
	code = append(code, artifact.Bytecode...)
	code = append(code, encodedArgs...)

	sub, err := e.send(ctx, nil, code, gasLimit)
	if err != nil {
		return nil, &TransactionFailure{Op: "deploy " + artifact.Name, Err: err}
	}
	sub.ContractAddress = crypto.CreateAddress(e.from, sub.Nonce)
	log.Debug(log.CatChain, "Deployment submitted", "contract", artifact.Name, "tx", sub.TxHash.Hex(), "address", sub.ContractAddress.Hex())
	return sub, nil
}

// Transact submits a call to a state-changing method.
func (e *Ethereum) Transact(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*Submission, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}
	sub, err := e.send(ctx, &to, data, 0)
	if err != nil {
		return nil, &TransactionFailure{Op: method, Err: err}
	}
	log.Debug(log.CatChain, "Transaction submitted", "method", method, "to", to.Hex(), "tx", sub.TxHash.Hex())
	return sub, nil
}

// Call executes a read-only method against the latest block.
func (e *Ethereum) Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{From: e.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", method, err)
	}
	return values, nil
}

// WaitConfirmations polls until the receipt is buried deep enough. The
// receipt is re-read on every poll so a reorg that drops the transaction
// restarts the wait.
func (e *Ethereum) WaitConfirmations(ctx context.Context, txHash common.Hash, confirmations uint64) (*Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, txHash)
		switch {
		case errors.Is(err, ethereum.NotFound):
			// not mined yet
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn(log.CatChain, "Receipt lookup failed", "tx", txHash.Hex(), "error", err)
		case receipt.Status == types.ReceiptStatusFailed:
			return nil, &TransactionFailure{Op: "confirm", TxHash: txHash, Reverted: true}
		default:
			head, err := e.backend.BlockNumber(ctx)
			if err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			included := receipt.BlockNumber.Uint64()
			if err == nil && head+1 >= included+confirmations {
				return &Receipt{
					TxHash:          txHash,
					ContractAddress: receipt.ContractAddress,
					BlockNumber:     included,
					GasUsed:         receipt.GasUsed,
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Ethereum) send(ctx context.Context, to *common.Address, data []byte, gasLimit uint64) (*Submission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggesting tip: %w", err)
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reading head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	if gasLimit == 0 {
		gasLimit, err = e.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      e.from,
			To:        to,
			GasFeeCap: feeCap,
			GasTipCap: tip,
			Data:      data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimating gas: %w", err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("sending: %w", err)
	}
	return &Submission{TxHash: signed.Hash(), Nonce: nonce}, nil
}
