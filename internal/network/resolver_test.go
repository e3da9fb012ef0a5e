package network

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(Builtin(), DefaultPolicy(), opts...)
	require.NoError(t, err)
	return r
}

func TestResolveChainID_Builtin(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.ResolveChainID(ChainIDSepolia)
	require.NoError(t, err)
	require.Equal(t, "sepolia", p.Name)
	require.False(t, p.Development)
	require.Equal(t, uint64(PublicConfirmations), p.Confirmations)
	require.Equal(t, DefaultGovernance, p.Governance)

	p, err = r.ResolveChainID(ChainIDHardhat)
	require.NoError(t, err)
	require.Equal(t, "localhost", p.Name)
	require.True(t, p.Development)
}

func TestResolveChainID_Unconfigured(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.ResolveChainID(137)
	var unconfigured *UnconfiguredNetworkError
	require.True(t, errors.As(err, &unconfigured))
	require.Equal(t, uint64(137), unconfigured.ChainID)

	_, err = r.ResolveName("polygon")
	require.True(t, errors.As(err, &unconfigured))
	require.Equal(t, "polygon", unconfigured.Name)
	require.Contains(t, err.Error(), "polygon")
}

func TestResolveName_DefaultPolicy(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.ResolveName("hardhat")
	require.NoError(t, err)
	require.Equal(t, r.Default(), p)
	require.True(t, p.Development)
	require.NotContains(t, r.Names(), "hardhat", "default policy is not a concrete network")
}

func TestVerification_RequiresCredentialAndPublicNetwork(t *testing.T) {
	without := newTestResolver(t)
	with := newTestResolver(t, WithVerificationCredential(true))

	for _, name := range []string{"sepolia", "mainnet"} {
		p, err := without.ResolveName(name)
		require.NoError(t, err)
		require.False(t, p.VerificationEnabled, "%s without credential", name)

		p, err = with.ResolveName(name)
		require.NoError(t, err)
		require.True(t, p.VerificationEnabled, "%s with credential", name)
	}

	p, err := with.ResolveName("localhost")
	require.NoError(t, err)
	require.False(t, p.VerificationEnabled, "development networks never verify")
	require.False(t, with.Default().VerificationEnabled)
}

func TestOverrides(t *testing.T) {
	confirmations := uint64(12)
	feed := common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")
	gov := GovernanceParams{MinDelay: 7200, QuorumPercentage: 10, VotingPeriod: 45818, VotingDelay: 2}
	chainID := uint64(8453)

	r := newTestResolver(t, WithOverrides(map[string]Override{
		"sepolia": {Confirmations: &confirmations, PriceFeed: &feed, Governance: &gov},
		"base":    {ChainID: &chainID},
	}))

	p, err := r.ResolveName("sepolia")
	require.NoError(t, err)
	require.Equal(t, confirmations, p.Confirmations)
	require.Equal(t, feed, p.PriceFeed)
	require.Equal(t, gov, p.Governance)

	base, err := r.ResolveChainID(chainID)
	require.NoError(t, err)
	require.Equal(t, "base", base.Name)
	require.Equal(t, DefaultGovernance, base.Governance)
	require.Equal(t, []string{"localhost", "sepolia", "mainnet", "base"}, r.Names())
}

func TestOverrides_UnknownNetworkNeedsChainID(t *testing.T) {
	_, err := NewResolver(Builtin(), DefaultPolicy(), WithOverrides(map[string]Override{
		"base": {},
	}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "chain_id")
}

func TestNewResolver_RejectsInvalidTables(t *testing.T) {
	dup := append(Builtin(), Policy{Name: "sepolia", ChainID: 5})
	_, err := NewResolver(dup, DefaultPolicy())
	require.ErrorContains(t, err, "duplicate network")

	sharedChain := append(Builtin(), Policy{Name: "other", ChainID: ChainIDSepolia})
	_, err = NewResolver(sharedChain, DefaultPolicy())
	require.ErrorContains(t, err, "share chain id")

	badQuorum := []Policy{{Name: "x", ChainID: 9, Governance: GovernanceParams{QuorumPercentage: 150}}}
	_, err = NewResolver(badQuorum, DefaultPolicy())
	require.ErrorContains(t, err, "quorum")
}

func TestResolvedPoliciesAreCopies(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.ResolveName("sepolia")
	require.NoError(t, err)
	p.Governance.MinDelay = 1

	again, err := r.ResolveName("sepolia")
	require.NoError(t, err)
	require.Equal(t, DefaultGovernance.MinDelay, again.Governance.MinDelay)
}
