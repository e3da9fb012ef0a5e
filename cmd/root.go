package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/arbor/internal/config"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/paths"
)

var (
	version    = "dev"
	cfgFile    string
	cfg        config.Config
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Deploy and hand over the TreeDAO governance contracts",
	Long: `Arbor deploys the TreeDAO contracts as an ordered graph of steps.

Each confirmed deployment is recorded in a local registry, so rerunning a
command skips what already exists and resumes after the last completed step.
The final setup step hands control of the time-lock to the governor.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
			logCleanup = nil
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .arbor/config.yaml, then ~/.config/arbor/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log", "", "write logs to this file instead of stderr")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log", rootCmd.PersistentFlags().Lookup("log"))
}

func initConfig() {
	viper.SetEnvPrefix("ARBOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	defaults := config.Defaults()
	viper.SetDefault("project_dir", defaults.ProjectDir)
	viper.SetDefault("registry.path", defaults.Registry.Path)
	viper.SetDefault("registry.cache_ttl", defaults.Registry.CacheTTL)
	viper.SetDefault("artifacts.dir", defaults.Artifacts.Dir)
	viper.SetDefault("deployer.key_env", defaults.Deployer.KeyEnv)
	viper.SetDefault("verification.api_url", defaults.Verification.APIURL)
	viper.SetDefault("verification.api_key_env", defaults.Verification.APIKeyEnv)
	viper.SetDefault("verification.poll_interval", defaults.Verification.PollInterval)
	viper.SetDefault("verification.poll_attempts", defaults.Verification.PollAttempts)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("handover.roles.proposer", defaults.Handover.Roles.Proposer)
	viper.SetDefault("handover.roles.executor", defaults.Handover.Roles.Executor)
	viper.SetDefault("handover.roles.admin", defaults.Handover.Roles.Admin)
	viper.SetDefault("handover.executor", defaults.Handover.Executor)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			_ = config.WriteDefaultConfig(cfgFile)
		}
	} else {
		// Config lookup order:
		// 1. .arbor/config.yaml (current directory)
		// 2. ~/.config/arbor/config.yaml (user config)
		if _, err := os.Stat(paths.ProjectConfigPath()); err == nil {
			viper.SetConfigFile(paths.ProjectConfigPath())
		} else {
			if dir := paths.UserConfigDir(); dir != "" {
				viper.AddConfigPath(dir)
			}
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .arbor/config.yaml
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			defaultPath := paths.ProjectConfigPath()
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		} else {
			log.WarnErr(log.CatConfig, "Failed to read config", err, "path", viper.ConfigFileUsed())
		}
	}

	cfg = config.Defaults()
	if err := viper.Unmarshal(&cfg); err != nil {
		log.WarnErr(log.CatConfig, "Failed to decode config", err)
	}
}

// setup applies logging flags and validates the loaded config.
func setup(*cobra.Command, []string) error {
	if viper.GetBool("debug") {
		log.SetMinLevel(log.LevelDebug)
	}
	if path := viper.GetString("log"); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		cleanup, err := log.Init(path)
		if err != nil {
			return err
		}
		logCleanup = cleanup
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log.Debug(log.CatConfig, "Config loaded", "path", viper.ConfigFileUsed())
	return nil
}

// configPath is the file commands write config changes to.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return paths.ProjectConfigPath()
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
