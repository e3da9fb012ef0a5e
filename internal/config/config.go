// Package config provides configuration types and defaults for arbor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/arbor/internal/handover"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/paths"
	"github.com/zjrosen/arbor/internal/tracing"
)

// Environment variables read when the config names none.
const (
	DefaultDeployerKeyEnv = "DEPLOYER_PRIVATE_KEY"
	DefaultAPIKeyEnv      = "ETHERSCAN_API_KEY"
	DefaultAPIURL         = "https://api.etherscan.io/v2/api"
)

// Config holds all configuration options for arbor.
type Config struct {
	ProjectDir   string                   `mapstructure:"project_dir"`
	Registry     RegistryConfig           `mapstructure:"registry"`
	Artifacts    ArtifactsConfig          `mapstructure:"artifacts"`
	Deployer     DeployerConfig           `mapstructure:"deployer"`
	Verification VerificationConfig       `mapstructure:"verification"`
	Networks     map[string]NetworkConfig `mapstructure:"networks"`
	Tracing      tracing.Config           `mapstructure:"tracing"`
	Handover     HandoverConfig           `mapstructure:"handover"`
}

// RegistryConfig locates the artifact registry.
type RegistryConfig struct {
	// Path is the sqlite database. Empty means <project>/.arbor/arbor.db.
	Path string `mapstructure:"path"`
	// CacheTTL bounds how long lookups are served from memory. Zero disables
	// the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ArtifactsConfig locates the compiled contract artifacts.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// DeployerConfig names where the deployer key comes from.
type DeployerConfig struct {
	KeyEnv string `mapstructure:"key_env"`
}

// VerificationConfig configures the block explorer.
type VerificationConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	APIKeyEnv    string        `mapstructure:"api_key_env"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts"`
}

// NetworkConfig overrides selected fields of a network policy. Unset
// fields keep the built-in value.
type NetworkConfig struct {
	ChainID       *uint64           `mapstructure:"chain_id" yaml:"chain_id,omitempty"`
	Development   *bool             `mapstructure:"development" yaml:"development,omitempty"`
	Confirmations *uint64           `mapstructure:"confirmations" yaml:"confirmations,omitempty"`
	GasLimit      *uint64           `mapstructure:"gas_limit" yaml:"gas_limit,omitempty"`
	RPCURL        string            `mapstructure:"rpc_url" yaml:"rpc_url,omitempty"`
	PriceFeed     string            `mapstructure:"price_feed" yaml:"price_feed,omitempty"`
	Governance    *GovernanceConfig `mapstructure:"governance" yaml:"governance,omitempty"`
}

// GovernanceConfig overrides governor parameters field by field.
type GovernanceConfig struct {
	MinDelay         *uint64 `mapstructure:"min_delay" yaml:"min_delay,omitempty"`
	QuorumPercentage *uint64 `mapstructure:"quorum_percentage" yaml:"quorum_percentage,omitempty"`
	VotingPeriod     *uint64 `mapstructure:"voting_period" yaml:"voting_period,omitempty"`
	VotingDelay      *uint64 `mapstructure:"voting_delay" yaml:"voting_delay,omitempty"`
}

// HandoverConfig configures the time-lock handover.
type HandoverConfig struct {
	Roles handover.Roles `mapstructure:"roles"`
	// Executor is granted the executor role. Empty means the zero address,
	// which lets anyone execute a queued proposal.
	Executor string `mapstructure:"executor"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = "" // Derived from config dir at runtime
	return Config{
		Registry: RegistryConfig{
			CacheTTL: 5 * time.Minute,
		},
		Artifacts: ArtifactsConfig{
			Dir: "artifacts",
		},
		Deployer: DeployerConfig{
			KeyEnv: DefaultDeployerKeyEnv,
		},
		Verification: VerificationConfig{
			APIURL:       DefaultAPIURL,
			APIKeyEnv:    DefaultAPIKeyEnv,
			PollInterval: 5 * time.Second,
			PollAttempts: 12,
		},
		Tracing: tr,
		Handover: HandoverConfig{
			Roles: handover.DefaultRoles,
		},
	}
}

// RegistryPath returns the configured database path or the project default.
func (c Config) RegistryPath() string {
	if c.Registry.Path != "" {
		return c.Registry.Path
	}
	return paths.DefaultDBPath(c.ProjectDir)
}

// TracingConfig returns the tracing config with the default file path
// filled in.
func (c Config) TracingConfig() tracing.Config {
	tr := c.Tracing
	if tr.FilePath == "" {
		tr.FilePath = paths.DefaultTracesPath()
	}
	if tr.ServiceName == "" {
		tr.ServiceName = tracing.DefaultServiceName
	}
	return tr
}

// DeployerKey reads the deployer private key from the environment.
func (c Config) DeployerKey() string {
	env := c.Deployer.KeyEnv
	if env == "" {
		env = DefaultDeployerKeyEnv
	}
	return os.Getenv(env)
}

// APIKey reads the explorer API key from the environment.
func (c Config) APIKey() string {
	env := c.Verification.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv
	}
	return os.Getenv(env)
}

// ExecutorAddress returns the configured executor or the zero address.
func (c Config) ExecutorAddress() common.Address {
	if c.Handover.Executor == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Handover.Executor)
}

// NetworkOverrides converts the networks section into resolver overrides.
// RPC URLs may reference environment variables as $VAR or ${VAR}.
func (c Config) NetworkOverrides() map[string]network.Override {
	out := make(map[string]network.Override, len(c.Networks))
	for name, n := range c.Networks {
		out[name] = n.Override()
	}
	return out
}

// Override converts one network section.
func (n NetworkConfig) Override() network.Override {
	ov := network.Override{
		ChainID:       n.ChainID,
		Development:   n.Development,
		Confirmations: n.Confirmations,
		GasLimit:      n.GasLimit,
	}
	if n.RPCURL != "" {
		url := os.ExpandEnv(n.RPCURL)
		ov.RPCURL = &url
	}
	if n.PriceFeed != "" {
		feed := common.HexToAddress(n.PriceFeed)
		ov.PriceFeed = &feed
	}
	if g := n.Governance; g != nil {
		params := network.DefaultGovernance
		if g.MinDelay != nil {
			params.MinDelay = *g.MinDelay
		}
		if g.QuorumPercentage != nil {
			params.QuorumPercentage = *g.QuorumPercentage
		}
		if g.VotingPeriod != nil {
			params.VotingPeriod = *g.VotingPeriod
		}
		if g.VotingDelay != nil {
			params.VotingDelay = *g.VotingDelay
		}
		ov.Governance = &params
	}
	return ov
}

// Validate checks the configuration for errors.
func Validate(cfg Config) error {
	if cfg.Registry.CacheTTL < 0 {
		return fmt.Errorf("registry.cache_ttl must not be negative, got %s", cfg.Registry.CacheTTL)
	}
	if cfg.Verification.PollAttempts < 0 {
		return fmt.Errorf("verification.poll_attempts must not be negative, got %d", cfg.Verification.PollAttempts)
	}
	if cfg.Handover.Executor != "" && !common.IsHexAddress(cfg.Handover.Executor) {
		return fmt.Errorf("handover.executor must be a hex address, got %q", cfg.Handover.Executor)
	}
	if err := ValidateNetworks(cfg.Networks); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateNetworks checks the per-network overrides.
func ValidateNetworks(networks map[string]NetworkConfig) error {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		n := networks[name]
		if n.PriceFeed != "" && !common.IsHexAddress(n.PriceFeed) {
			return fmt.Errorf("networks.%s.price_feed must be a hex address, got %q", name, n.PriceFeed)
		}
		if n.ChainID != nil && *n.ChainID == 0 {
			return fmt.Errorf("networks.%s.chain_id must not be zero", name)
		}
		if g := n.Governance; g != nil && g.QuorumPercentage != nil && *g.QuorumPercentage > 100 {
			return fmt.Errorf("networks.%s.governance.quorum_percentage must be at most 100, got %d", name, *g.QuorumPercentage)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	if tr.Exporter != "" {
		switch tr.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
		}
	}

	if tr.Enabled && tr.Exporter == "otlp" && tr.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Arbor Configuration

# Project directory holding .arbor/ (default: current directory)
# project_dir: /path/to/project

# Artifact registry
registry:
  # path: .arbor/arbor.db   # sqlite database (default: <project>/.arbor/arbor.db)
  cache_ttl: 5m             # in-memory lookup cache, 0 disables

# Compiled hardhat artifacts
artifacts:
  dir: artifacts

# The deployer key is read from this environment variable
deployer:
  key_env: DEPLOYER_PRIVATE_KEY

# Block explorer verification
# Verification runs only on public networks and only when the key is set.
verification:
  api_url: https://api.etherscan.io/v2/api
  api_key_env: ETHERSCAN_API_KEY
  poll_interval: 5s
  poll_attempts: 12

# Per-network overrides of the built-in policies (hardhat, localhost,
# sepolia, mainnet). A network that is not built in must set chain_id.
# networks:
#   sepolia:
#     rpc_url: https://sepolia.infura.io/v3/${INFURA_KEY}
#     price_feed: "0x694AA1769357215DE4FAC081bf1f309aDC325306"
#   mainnet:
#     rpc_url: ${MAINNET_RPC_URL}
#     governance:
#       min_delay: 172800
#       quorum_percentage: 4
#       voting_period: 45818
#       voting_delay: 13140

# Time-lock handover
handover:
  roles:
    proposer: PROPOSER_ROLE
    executor: EXECUTOR_ROLE
    admin: TIMELOCK_ADMIN_ROLE
  # executor: "0x..."   # default: zero address, anyone may execute

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/arbor/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
