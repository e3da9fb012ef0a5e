// Package network resolves chain identifiers to immutable deployment
// policies: confirmation depth, gas limits, verification and the
// governance timing parameters handed to the governor constructor.
package network

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// GovernanceParams are the timing and quorum parameters of the governance
// contracts. They are copied verbatim into constructor arguments.
type GovernanceParams struct {
	// MinDelay is the time-lock delay in seconds between a passed proposal
	// and its execution.
	MinDelay uint64 `json:"min_delay" yaml:"min_delay"`
	// QuorumPercentage is the share of voting supply needed to pass.
	QuorumPercentage uint64 `json:"quorum_percentage" yaml:"quorum_percentage"`
	// VotingPeriod is how long a vote stays open, in blocks.
	VotingPeriod uint64 `json:"voting_period" yaml:"voting_period"`
	// VotingDelay is how many blocks pass before a proposal becomes active.
	VotingDelay uint64 `json:"voting_delay" yaml:"voting_delay"`
}

// Policy is the resolved configuration for one network.
// Policies are values; callers receive copies and cannot mutate the table.
type Policy struct {
	Name                string           `json:"name" yaml:"name"`
	ChainID             uint64           `json:"chain_id" yaml:"chain_id"`
	Development         bool             `json:"development" yaml:"development"`
	Confirmations       uint64           `json:"confirmations" yaml:"confirmations"`
	VerificationEnabled bool             `json:"verification_enabled" yaml:"verification_enabled"`
	GasLimit            uint64           `json:"gas_limit,omitempty" yaml:"gas_limit,omitempty"`
	RPCURL              string           `json:"rpc_url,omitempty" yaml:"rpc_url,omitempty"`
	PriceFeed           common.Address   `json:"price_feed" yaml:"price_feed"`
	Governance          GovernanceParams `json:"governance" yaml:"governance"`

	// Chainlink keeper/VRF settings carried for the NFT and shop contracts.
	KeepersUpdateInterval uint64         `json:"keepers_update_interval,omitempty" yaml:"keepers_update_interval,omitempty"`
	SubscriptionID        string         `json:"subscription_id,omitempty" yaml:"subscription_id,omitempty"`
	GasLane               string         `json:"gas_lane,omitempty" yaml:"gas_lane,omitempty"`
	VRFCoordinator        common.Address `json:"vrf_coordinator" yaml:"vrf_coordinator"`
}

// String identifies the policy in log lines.
func (p Policy) String() string {
	return fmt.Sprintf("%s(%d)", p.Name, p.ChainID)
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("network policy for chain %d has no name", p.ChainID)
	}
	if p.Development && p.VerificationEnabled {
		return fmt.Errorf("network %s: development networks cannot enable verification", p.Name)
	}
	if p.Governance.QuorumPercentage > 100 {
		return fmt.Errorf("network %s: quorum percentage %d exceeds 100", p.Name, p.Governance.QuorumPercentage)
	}
	return nil
}

// UnconfiguredNetworkError is returned when no policy exists for a chain.
type UnconfiguredNetworkError struct {
	ChainID uint64
	Name    string
}

func (e *UnconfiguredNetworkError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("network %q is not configured", e.Name)
	}
	return fmt.Sprintf("chain id %d is not configured", e.ChainID)
}
