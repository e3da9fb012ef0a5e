package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AccessControl binds an OpenZeppelin-style access-controlled contract.
// State-changing methods wait for confirmations before returning.
type AccessControl struct {
	client        Client
	address       common.Address
	abi           abi.ABI
	confirmations uint64
}

// NewAccessControl binds the contract at address.
func NewAccessControl(client Client, address common.Address, contract abi.ABI, confirmations uint64) *AccessControl {
	return &AccessControl{client: client, address: address, abi: contract, confirmations: confirmations}
}

// Address returns the bound contract address.
func (a *AccessControl) Address() common.Address { return a.address }

// RoleID reads a role identifier through its getter, e.g. "PROPOSER_ROLE".
func (a *AccessControl) RoleID(ctx context.Context, getter string) ([32]byte, error) {
	out, err := a.client.Call(ctx, a.address, a.abi, getter)
	if err != nil {
		return [32]byte{}, err
	}
	if len(out) != 1 {
		return [32]byte{}, fmt.Errorf("%s returned %d values", getter, len(out))
	}
	id, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("%s returned %T, want bytes32", getter, out[0])
	}
	return id, nil
}

// HasRole reports whether account holds role.
func (a *AccessControl) HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error) {
	out, err := a.client.Call(ctx, a.address, a.abi, "hasRole", role, account)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, fmt.Errorf("hasRole returned %d values", len(out))
	}
	member, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("hasRole returned %T, want bool", out[0])
	}
	return member, nil
}

// GrantRole grants role to account and waits for confirmations.
func (a *AccessControl) GrantRole(ctx context.Context, role [32]byte, account common.Address) (*Receipt, error) {
	return a.transact(ctx, "grantRole", role, account)
}

// RevokeRole revokes role from account and waits for confirmations.
func (a *AccessControl) RevokeRole(ctx context.Context, role [32]byte, account common.Address) (*Receipt, error) {
	return a.transact(ctx, "revokeRole", role, account)
}

func (a *AccessControl) transact(ctx context.Context, method string, args ...any) (*Receipt, error) {
	sub, err := a.client.Transact(ctx, a.address, a.abi, method, args...)
	if err != nil {
		return nil, err
	}
	return a.client.WaitConfirmations(ctx, sub.TxHash, a.confirmations)
}

// Token binds an ERC20Votes token.
type Token struct {
	client        Client
	address       common.Address
	abi           abi.ABI
	confirmations uint64
}

// NewToken binds the token at address.
func NewToken(client Client, address common.Address, contract abi.ABI, confirmations uint64) *Token {
	return &Token{client: client, address: address, abi: contract, confirmations: confirmations}
}

// Delegates returns the account that holds account's voting power.
func (t *Token) Delegates(ctx context.Context, account common.Address) (common.Address, error) {
	out, err := t.client.Call(ctx, t.address, t.abi, "delegates", account)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("delegates returned %d values", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("delegates returned %T, want address", out[0])
	}
	return addr, nil
}

// Delegate moves the deployer's voting power to delegatee and waits for
// confirmations.
func (t *Token) Delegate(ctx context.Context, delegatee common.Address) (*Receipt, error) {
	sub, err := t.client.Transact(ctx, t.address, t.abi, "delegate", delegatee)
	if err != nil {
		return nil, err
	}
	return t.client.WaitConfirmations(ctx, sub.TxHash, t.confirmations)
}
