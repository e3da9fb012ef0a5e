// Package artifactstest provides the TreeDAO contract artifacts for tests.
package artifactstest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/arbor/internal/artifacts"
)

// Placeholder creation code; the simulator never executes it.
const bytecode = "0x6080604052348015600f57600080fd5b50"

const TreeTokenABI = `[
  {"type":"constructor","inputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"delegate","inputs":[{"name":"delegatee","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"delegates","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
  {"type":"function","name":"numCheckpoints","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint32"}],"stateMutability":"view"}
]`

const TimeLockABI = `[
  {"type":"constructor","inputs":[
    {"name":"minDelay","type":"uint256"},
    {"name":"proposers","type":"address[]"},
    {"name":"executors","type":"address[]"},
    {"name":"admin","type":"address"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"PROPOSER_ROLE","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
  {"type":"function","name":"EXECUTOR_ROLE","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
  {"type":"function","name":"TIMELOCK_ADMIN_ROLE","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
  {"type":"function","name":"hasRole","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
  {"type":"function","name":"grantRole","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"revokeRole","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const GovernorContractABI = `[
  {"type":"constructor","inputs":[
    {"name":"_token","type":"address"},
    {"name":"_timelock","type":"address"},
    {"name":"_quorumPercentage","type":"uint256"},
    {"name":"_votingPeriod","type":"uint256"},
    {"name":"_votingDelay","type":"uint256"}],"stateMutability":"nonpayable"}
]`

const StakingTreeABI = `[
  {"type":"constructor","inputs":[{"name":"treeToken","type":"address"}],"stateMutability":"nonpayable"}
]`

const ShopABI = `[
  {"type":"constructor","inputs":[{"name":"treeToken","type":"address"},{"name":"priceFeed","type":"address"}],"stateMutability":"nonpayable"}
]`

const TreeNFTABI = `[
  {"type":"constructor","inputs":[],"stateMutability":"nonpayable"}
]`

// Artifacts returns every TreeDAO artifact.
func Artifacts(t testing.TB) []*artifacts.Artifact {
	t.Helper()
	out := make([]*artifacts.Artifact, 0, len(definitions))
	for _, d := range definitions {
		a, err := artifacts.New(d.name, "contracts/"+d.name+".sol", d.abi, bytecode)
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

var definitions = []struct{ name, abi string }{
	{"TreeToken", TreeTokenABI},
	{"TimeLock", TimeLockABI},
	{"GovernorContract", GovernorContractABI},
	{"StakingTree", StakingTreeABI},
	{"Shop", ShopABI},
	{"TreeNFT", TreeNFTABI},
}

// Source returns an in-memory source with every TreeDAO artifact.
func Source(t testing.TB) *artifacts.Memory {
	t.Helper()
	return artifacts.NewMemory(Artifacts(t)...)
}

// WriteDir writes every TreeDAO artifact under root in the hardhat layout
// (contracts/<Name>.sol/<Name>.json) and returns root.
func WriteDir(t testing.TB, root string) string {
	t.Helper()
	for _, d := range definitions {
		dir := filepath.Join(root, "contracts", d.name+".sol")
		require.NoError(t, os.MkdirAll(dir, 0o750))
		doc, err := json.Marshal(map[string]any{
			"contractName": d.name,
			"sourceName":   "contracts/" + d.name + ".sol",
			"abi":          json.RawMessage(d.abi),
			"bytecode":     bytecode,
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, d.name+".json"), doc, 0o600))
	}
	return root
}
