package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zjrosen/arbor/internal/artifacts"
	"github.com/zjrosen/arbor/internal/chain"
	"github.com/zjrosen/arbor/internal/infrastructure/sqlite"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/registry"
	"github.com/zjrosen/arbor/internal/verify"
)

// newResolver builds the network table from the built-ins and config.
func newResolver() (*network.Resolver, error) {
	return network.NewResolver(network.Builtin(), network.DefaultPolicy(),
		network.WithOverrides(cfg.NetworkOverrides()),
		network.WithVerificationCredential(cfg.APIKey() != ""),
	)
}

// resolvePolicy resolves --network, falling back to the default policy.
func resolvePolicy(name string) (network.Policy, error) {
	r, err := newResolver()
	if err != nil {
		return network.Policy{}, fmt.Errorf("loading networks: %w", err)
	}
	if name == "" {
		return r.Default(), nil
	}
	return r.ResolveName(name)
}

// store is the persistent registry plus run history.
type store struct {
	db       *sqlite.DB
	registry registry.Registry
	runs     registry.RunRepository
}

func openStore() (*store, error) {
	db, err := sqlite.NewDB(cfg.RegistryPath())
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	return &store{
		db:       db,
		registry: registry.NewCached(db.RecordRepository(), cfg.Registry.CacheTTL),
		runs:     db.RunRepository(),
	}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// connection is a network client and whether it is an in-process simulation
// whose contracts vanish when the process exits.
type connection struct {
	client    chain.Client
	simulated bool
}

// simulated reports whether policy runs against the in-process simulator.
func simulated(policy network.Policy) bool {
	return policy.Development && policy.RPCURL == ""
}

// connect dials the policy's RPC endpoint. Development networks without one
// run against the in-process simulator.
func connect(ctx context.Context, policy network.Policy) (*connection, error) {
	if policy.RPCURL == "" {
		if !simulated(policy) {
			return nil, fmt.Errorf("network %s has no rpc_url configured", policy.Name)
		}
		log.Info(log.CatChain, "Using in-process simulator", "network", policy.Name, "chainID", policy.ChainID)
		return &connection{client: chain.NewSimulator(policy.ChainID), simulated: true}, nil
	}

	hexKey := strings.TrimPrefix(strings.TrimSpace(cfg.DeployerKey()), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("deployer key not set: export %s", cfg.Deployer.KeyEnv)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing deployer key: %w", err)
	}
	client, err := chain.Dial(ctx, policy.RPCURL, key)
	if err != nil {
		return nil, err
	}
	return &connection{client: client}, nil
}

func loadArtifacts() (*artifacts.Dir, error) {
	root := cfg.Artifacts.Dir
	if cfg.ProjectDir != "" && !filepath.IsAbs(root) {
		root = filepath.Join(cfg.ProjectDir, root)
	}
	dir, err := artifacts.NewDir(root)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}
	return dir, nil
}

// newVerifier returns an explorer client when the policy verifies.
func newVerifier(policy network.Policy) verify.Verifier {
	if !policy.VerificationEnabled {
		return verify.Noop{}
	}
	return verify.NewEtherscan(cfg.APIKey(),
		verify.WithAPIURL(cfg.Verification.APIURL),
		verify.WithPolling(cfg.Verification.PollInterval, cfg.Verification.PollAttempts),
	)
}
