package network

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/arbor/internal/log"
)

// Override changes selected fields of a policy. Nil fields keep the
// built-in value. An override for an unknown name defines a new network
// and must carry a chain id.
type Override struct {
	ChainID       *uint64
	Development   *bool
	Confirmations *uint64
	GasLimit      *uint64
	RPCURL        *string
	PriceFeed     *common.Address
	Governance    *GovernanceParams
}

// Resolver maps chain ids and network names to policies.
type Resolver struct {
	byName  map[string]Policy
	byChain map[uint64]Policy
	names   []string
	def     Policy
}

type resolverOptions struct {
	overrides     map[string]Override
	hasCredential bool
}

// Option configures a Resolver.
type Option func(*resolverOptions)

// WithOverrides applies per-network overrides from configuration.
func WithOverrides(overrides map[string]Override) Option {
	return func(o *resolverOptions) {
		o.overrides = overrides
	}
}

// WithVerificationCredential records whether an explorer API key is
// available. Without one, verification is disabled on every network.
func WithVerificationCredential(present bool) Option {
	return func(o *resolverOptions) {
		o.hasCredential = present
	}
}

// NewResolver builds a resolver from a policy table and the default policy.
// Policies are validated once here; resolution never fails afterwards
// except for unknown networks.
func NewResolver(table []Policy, def Policy, opts ...Option) (*Resolver, error) {
	var o resolverOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := &Resolver{
		byName:  make(map[string]Policy, len(table)),
		byChain: make(map[uint64]Policy, len(table)),
	}

	policies := make(map[string]Policy, len(table))
	order := make([]string, 0, len(table))
	for _, p := range table {
		if _, dup := policies[p.Name]; dup {
			return nil, fmt.Errorf("duplicate network %q", p.Name)
		}
		policies[p.Name] = p
		order = append(order, p.Name)
	}

	overrideNames := make([]string, 0, len(o.overrides))
	for name := range o.overrides {
		overrideNames = append(overrideNames, name)
	}
	sort.Strings(overrideNames)
	for _, name := range overrideNames {
		ov := o.overrides[name]
		if name == def.Name {
			def = applyOverride(def, ov)
			continue
		}
		base, known := policies[name]
		if !known {
			if ov.ChainID == nil {
				return nil, fmt.Errorf("network %q is not built in and has no chain_id", name)
			}
			base = Policy{Name: name, Confirmations: PublicConfirmations, Governance: DefaultGovernance}
			order = append(order, name)
		}
		policies[name] = applyOverride(base, ov)
	}

	def = finalize(def, o.hasCredential)
	if err := def.Validate(); err != nil {
		return nil, err
	}
	r.def = def

	for _, name := range order {
		p := finalize(policies[name], o.hasCredential)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if existing, dup := r.byChain[p.ChainID]; dup {
			return nil, fmt.Errorf("networks %q and %q share chain id %d", existing.Name, p.Name, p.ChainID)
		}
		r.byName[p.Name] = p
		r.byChain[p.ChainID] = p
		r.names = append(r.names, p.Name)
	}

	log.Debug(log.CatPolicy, "network policies loaded", "count", len(r.names), "verification_credential", o.hasCredential)
	return r, nil
}

// ResolveChainID returns the policy for a chain id.
func (r *Resolver) ResolveChainID(chainID uint64) (Policy, error) {
	p, ok := r.byChain[chainID]
	if !ok {
		return Policy{}, &UnconfiguredNetworkError{ChainID: chainID}
	}
	return p, nil
}

// ResolveName returns the policy for a network name. The default policy's
// name resolves to the default policy.
func (r *Resolver) ResolveName(name string) (Policy, error) {
	if p, ok := r.byName[name]; ok {
		return p, nil
	}
	if name == r.def.Name {
		return r.def, nil
	}
	return Policy{}, &UnconfiguredNetworkError{Name: name}
}

// Default returns the policy used when no concrete network is given.
func (r *Resolver) Default() Policy {
	return r.def
}

// Names lists the configured networks in table order.
func (r *Resolver) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Policies lists the configured policies in table order.
func (r *Resolver) Policies() []Policy {
	out := make([]Policy, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}

func applyOverride(p Policy, ov Override) Policy {
	if ov.ChainID != nil {
		p.ChainID = *ov.ChainID
	}
	if ov.Development != nil {
		p.Development = *ov.Development
	}
	if ov.Confirmations != nil {
		p.Confirmations = *ov.Confirmations
	}
	if ov.GasLimit != nil {
		p.GasLimit = *ov.GasLimit
	}
	if ov.RPCURL != nil {
		p.RPCURL = *ov.RPCURL
	}
	if ov.PriceFeed != nil {
		p.PriceFeed = *ov.PriceFeed
	}
	if ov.Governance != nil {
		p.Governance = *ov.Governance
	}
	return p
}

// finalize derives verification: only public networks with a credential.
func finalize(p Policy, hasCredential bool) Policy {
	p.VerificationEnabled = !p.Development && hasCredential
	return p
}

func hexAddress(s string) common.Address {
	return common.HexToAddress(s)
}
