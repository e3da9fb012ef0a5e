package presentation

import (
	"time"

	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/registry"
)

// RecordDTO represents a deployment record for presentation
type RecordDTO struct {
	Name            string    `json:"name" yaml:"name"`
	Network         string    `json:"network" yaml:"network"`
	ChainID         uint64    `json:"chain_id" yaml:"chain_id"`
	Address         string    `json:"address" yaml:"address"`
	ConstructorArgs []string  `json:"constructor_args" yaml:"constructor_args"`
	TxHash          string    `json:"tx_hash" yaml:"tx_hash"`
	Block           uint64    `json:"block" yaml:"block"`
	RunID           string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	DeployedAt      time.Time `json:"deployed_at" yaml:"deployed_at"`
}

// FromRecord converts a registry record to a DTO.
func FromRecord(r *registry.Record) RecordDTO {
	args := r.ConstructorArgs
	if args == nil {
		args = []string{}
	}
	return RecordDTO{
		Name:            r.Name,
		Network:         r.Network,
		ChainID:         r.ChainID,
		Address:         r.Address.Hex(),
		ConstructorArgs: args,
		TxHash:          r.TxHash.Hex(),
		Block:           r.ConfirmedAtBlock,
		RunID:           r.RunID,
		DeployedAt:      r.DeployedAt.UTC(),
	}
}

// FromRecords converts records, keeping their order.
func FromRecords(records []*registry.Record) []RecordDTO {
	out := make([]RecordDTO, len(records))
	for i, r := range records {
		out[i] = FromRecord(r)
	}
	return out
}

// RunDTO represents one entry of the run history
type RunDTO struct {
	ID            string     `json:"id" yaml:"id"`
	Network       string     `json:"network" yaml:"network"`
	ChainID       uint64     `json:"chain_id" yaml:"chain_id"`
	Tags          []string   `json:"tags" yaml:"tags"`
	State         string     `json:"state" yaml:"state"`
	LastCompleted string     `json:"last_completed,omitempty" yaml:"last_completed,omitempty"`
	Deployed      int        `json:"deployed" yaml:"deployed"`
	Skipped       int        `json:"skipped" yaml:"skipped"`
	Error         string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// FromRun converts a run to a DTO.
func FromRun(r *registry.Run) RunDTO {
	tags := r.Tags()
	if tags == nil {
		tags = []string{}
	}
	return RunDTO{
		ID:            r.ID(),
		Network:       r.Network(),
		ChainID:       r.ChainID(),
		Tags:          tags,
		State:         r.State().String(),
		LastCompleted: r.LastCompleted(),
		Deployed:      r.Deployed(),
		Skipped:       r.Skipped(),
		Error:         r.ErrorMessage(),
		StartedAt:     r.StartedAt().UTC(),
		FinishedAt:    r.FinishedAt(),
	}
}

// NetworkDTO represents a resolved network policy
type NetworkDTO struct {
	Name                string                   `json:"name" yaml:"name"`
	ChainID             uint64                   `json:"chain_id" yaml:"chain_id"`
	Development         bool                     `json:"development" yaml:"development"`
	Confirmations       uint64                   `json:"confirmations" yaml:"confirmations"`
	VerificationEnabled bool                     `json:"verification_enabled" yaml:"verification_enabled"`
	GasLimit            uint64                   `json:"gas_limit,omitempty" yaml:"gas_limit,omitempty"`
	RPCConfigured       bool                     `json:"rpc_configured" yaml:"rpc_configured"`
	PriceFeed           string                   `json:"price_feed" yaml:"price_feed"`
	Governance          network.GovernanceParams `json:"governance" yaml:"governance"`
}

// FromPolicy converts a policy to a DTO. The RPC URL itself is omitted
// because it commonly embeds a provider key.
func FromPolicy(p network.Policy) NetworkDTO {
	return NetworkDTO{
		Name:                p.Name,
		ChainID:             p.ChainID,
		Development:         p.Development,
		Confirmations:       p.Confirmations,
		VerificationEnabled: p.VerificationEnabled,
		GasLimit:            p.GasLimit,
		RPCConfigured:       p.RPCURL != "",
		PriceFeed:           p.PriceFeed.Hex(),
		Governance:          p.Governance,
	}
}

// HandoverDTO reports the observed handover state of a time-lock
type HandoverDTO struct {
	Network  string `json:"network" yaml:"network"`
	TimeLock string `json:"timelock" yaml:"timelock"`
	Governor string `json:"governor" yaml:"governor"`
	Deployer string `json:"deployer" yaml:"deployer"`
	State    string `json:"state" yaml:"state"`
}

// AddressBook maps chain id to contract name to address, the shape
// frontends import.
type AddressBook map[uint64]map[string]string

// NewAddressBook builds an address book from records of any chains.
func NewAddressBook(records []*registry.Record) AddressBook {
	book := make(AddressBook)
	for _, r := range records {
		if book[r.ChainID] == nil {
			book[r.ChainID] = make(map[string]string)
		}
		book[r.ChainID][r.Name] = r.Address.Hex()
	}
	return book
}
