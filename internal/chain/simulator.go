package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zjrosen/arbor/internal/artifacts"
)

// HardhatDeployer is the first default hardhat account, used as the
// simulator's deployer.
var HardhatDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// ErrReverted can be returned from a fault hook to have a submission
// accepted and then revert when its confirmations are awaited.
var ErrReverted = errors.New("execution reverted")

// OpKind distinguishes simulator operations passed to fault hooks.
type OpKind string

const (
	OpDeploy   OpKind = "deploy"
	OpTransact OpKind = "transact"
)

// Operation describes a submission about to be applied by the simulator.
type Operation struct {
	Kind OpKind
	// Name is the artifact name for deployments and the method for calls.
	Name string
	To   common.Address
	Args []any
}

// FaultFunc may reject an operation. Returning ErrReverted mines the
// transaction as reverted; any other error fails the submission.
type FaultFunc func(Operation) error

type simContract struct {
	name      string
	adminRole [32]byte
	roles     map[[32]byte]map[common.Address]bool
	delegates map[common.Address]common.Address
}

type simTx struct {
	block    uint64
	contract common.Address
	created  bool
	reverted bool
}

// Simulator is an in-memory Client. Every submission is mined into its own
// block; waiting for confirmations advances the head as needed. It models
// access-control roles and vote delegation so deployment and handover
// flows can run end to end without a node.
type Simulator struct {
	mu        sync.Mutex
	chainID   uint64
	deployer  common.Address
	nonce     uint64
	block     uint64
	contracts map[common.Address]*simContract
	txs       map[common.Hash]*simTx
	fault     FaultFunc

	deploys   int
	transacts map[string]int
	waits     int
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithDeployer sets the deployer account.
func WithDeployer(addr common.Address) SimulatorOption {
	return func(s *Simulator) { s.deployer = addr }
}

// WithFault installs a fault hook.
func WithFault(fn FaultFunc) SimulatorOption {
	return func(s *Simulator) { s.fault = fn }
}

// NewSimulator creates a simulator reporting chainID.
func NewSimulator(chainID uint64, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		chainID:   chainID,
		deployer:  HardhatDeployer,
		contracts: make(map[common.Address]*simContract),
		txs:       make(map[common.Hash]*simTx),
		transacts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault replaces the fault hook. Nil clears it.
func (s *Simulator) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// ChainID returns the simulated chain id.
func (s *Simulator) ChainID(_ context.Context) (uint64, error) {
	return s.chainID, nil
}

// Deployer returns the simulated deployer account.
func (s *Simulator) Deployer() common.Address {
	return s.deployer
}

// Deploy records a contract at the CREATE address for the current nonce.
func (s *Simulator) Deploy(ctx context.Context, artifact *artifacts.Artifact, encodedArgs []byte, _ uint64) (*Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var args []any
	if len(artifact.ABI.Constructor.Inputs) > 0 {
		unpacked, err := artifact.ABI.Constructor.Inputs.Unpack(encodedArgs)
		if err != nil {
			return nil, &TransactionFailure{Op: "deploy " + artifact.Name, Err: fmt.Errorf("decoding constructor args: %w", err)}
		}
		args = unpacked
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reverted, err := s.applyFault(Operation{Kind: OpDeploy, Name: artifact.Name, Args: args})
	if err != nil {
		return nil, &TransactionFailure{Op: "deploy " + artifact.Name, Err: err}
	}

	addr := crypto.CreateAddress(s.deployer, s.nonce)
	sub := s.mine(addr, true, reverted)
	sub.ContractAddress = addr
	s.deploys++
	if !reverted {
		s.contracts[addr] = s.newContract(addr, artifact, args)
	}
	return sub, nil
}

// Transact applies a state-changing call from the deployer.
func (s *Simulator) Transact(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := contract.Pack(method, args...); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[to]
	if !ok {
		return nil, &TransactionFailure{Op: method, Err: fmt.Errorf("no contract at %s", to.Hex())}
	}
	reverted, err := s.applyFault(Operation{Kind: OpTransact, Name: method, To: to, Args: args})
	if err != nil {
		return nil, &TransactionFailure{Op: method, Err: err}
	}
	if !reverted {
		reverted = !s.execute(c, method, args)
	}
	s.transacts[method]++
	return s.mine(to, false, reverted), nil
}

// Call answers read-only methods the simulator models: role getters,
// hasRole and delegates.
func (s *Simulator) Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := contract.Pack(method, args...); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[to]
	if !ok {
		return nil, fmt.Errorf("calling %s: no contract at %s", method, to.Hex())
	}
	switch {
	case method == "hasRole" && len(args) == 2:
		role, _ := args[0].([32]byte)
		account, _ := args[1].(common.Address)
		return []any{c.roles[role][account]}, nil
	case method == "delegates" && len(args) == 1:
		account, _ := args[0].(common.Address)
		return []any{c.delegates[account]}, nil
	case len(args) == 0 && isRoleGetter(method):
		return []any{RoleHash(method)}, nil
	}
	return nil, fmt.Errorf("calling %s: not supported by simulator", method)
}

// WaitConfirmations advances the head until the transaction has the
// requested depth.
func (s *Simulator) WaitConfirmations(ctx context.Context, txHash common.Hash, confirmations uint64) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.waits++
	tx, ok := s.txs[txHash]
	if !ok {
		return nil, &TransactionFailure{Op: "confirm", TxHash: txHash, Err: ethereum.NotFound}
	}
	if tx.reverted {
		return nil, &TransactionFailure{Op: "confirm", TxHash: txHash, Reverted: true}
	}
	if confirmations == 0 {
		confirmations = 1
	}
	if target := tx.block + confirmations - 1; s.block < target {
		s.block = target
	}
	receipt := &Receipt{TxHash: txHash, BlockNumber: tx.block}
	if tx.created {
		receipt.ContractAddress = tx.contract
	}
	return receipt, nil
}

// Deployments returns the number of accepted deployment submissions.
func (s *Simulator) Deployments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deploys
}

// Transactions returns the number of accepted submissions of method.
func (s *Simulator) Transactions(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transacts[method]
}

// Block returns the current head.
func (s *Simulator) Block() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

// ContractAt reports the artifact name deployed at addr.
func (s *Simulator) ContractAt(addr common.Address) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[addr]
	if !ok {
		return "", false
	}
	return c.name, true
}

// SetRole grants or revokes a role directly, bypassing admin checks.
func (s *Simulator) SetRole(contract common.Address, role [32]byte, account common.Address, member bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contract]
	if !ok {
		return fmt.Errorf("no contract at %s", contract.Hex())
	}
	setRole(c, role, account, member)
	return nil
}

// RoleHash returns the identifier of a named access-control role: zero for
// DEFAULT_ADMIN_ROLE, keccak256 of the name otherwise.
func RoleHash(name string) [32]byte {
	if name == "DEFAULT_ADMIN_ROLE" {
		return [32]byte{}
	}
	return crypto.Keccak256Hash([]byte(name))
}

func isRoleGetter(method string) bool {
	return len(method) > len("_ROLE") && method[len(method)-len("_ROLE"):] == "_ROLE"
}

func (s *Simulator) applyFault(op Operation) (reverted bool, err error) {
	if s.fault == nil {
		return false, nil
	}
	if err := s.fault(op); err != nil {
		if errors.Is(err, ErrReverted) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (s *Simulator) mine(contract common.Address, created, reverted bool) *Submission {
	nonce := s.nonce
	s.nonce++
	s.block++

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], s.chainID)
	binary.BigEndian.PutUint64(buf[8:], nonce)
	hash := crypto.Keccak256Hash(s.deployer.Bytes(), buf[:])
	s.txs[hash] = &simTx{block: s.block, contract: contract, created: created, reverted: reverted}
	return &Submission{TxHash: hash, Nonce: nonce}
}

// newContract sets up role bookkeeping for access-controlled contracts.
// The admin role goes to the constructor's "admin" argument when present
// (and to the contract itself, as a time-lock does), otherwise to the
// deployer. "proposers" and "executors" arguments seed those roles.
func (s *Simulator) newContract(addr common.Address, artifact *artifacts.Artifact, args []any) *simContract {
	c := &simContract{
		name:      artifact.Name,
		roles:     make(map[[32]byte]map[common.Address]bool),
		delegates: make(map[common.Address]common.Address),
	}
	if _, ok := artifact.ABI.Methods["hasRole"]; !ok {
		return c
	}
	adminName := "DEFAULT_ADMIN_ROLE"
	if _, ok := artifact.ABI.Methods["TIMELOCK_ADMIN_ROLE"]; ok {
		adminName = "TIMELOCK_ADMIN_ROLE"
	}
	c.adminRole = RoleHash(adminName)

	admin := s.deployer
	self := common.Address{}
	for i, input := range artifact.ABI.Constructor.Inputs {
		if i >= len(args) {
			break
		}
		switch input.Name {
		case "admin":
			if a, ok := args[i].(common.Address); ok {
				admin = a
			}
			self = addr
		case "proposers":
			if list, ok := args[i].([]common.Address); ok {
				for _, a := range list {
					setRole(c, RoleHash("PROPOSER_ROLE"), a, true)
				}
			}
		case "executors":
			if list, ok := args[i].([]common.Address); ok {
				for _, a := range list {
					setRole(c, RoleHash("EXECUTOR_ROLE"), a, true)
				}
			}
		}
	}
	if admin != (common.Address{}) {
		setRole(c, c.adminRole, admin, true)
	}
	if self != (common.Address{}) {
		setRole(c, c.adminRole, self, true)
	}
	return c
}

// execute applies a modeled method. It returns false when the call would
// revert.
func (s *Simulator) execute(c *simContract, method string, args []any) bool {
	switch method {
	case "grantRole", "revokeRole":
		if !c.roles[c.adminRole][s.deployer] {
			return false
		}
		role, _ := args[0].([32]byte)
		account, _ := args[1].(common.Address)
		setRole(c, role, account, method == "grantRole")
	case "renounceRole":
		role, _ := args[0].([32]byte)
		account, _ := args[1].(common.Address)
		if account != s.deployer {
			return false
		}
		setRole(c, role, account, false)
	case "delegate":
		to, _ := args[0].(common.Address)
		c.delegates[s.deployer] = to
	}
	return true
}

func setRole(c *simContract, role [32]byte, account common.Address, member bool) {
	members, ok := c.roles[role]
	if !ok {
		members = make(map[common.Address]bool)
		c.roles[role] = members
	}
	if member {
		members[account] = true
	} else {
		delete(members, account)
	}
}
