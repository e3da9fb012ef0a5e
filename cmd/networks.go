package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/arbor/internal/config"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/presentation"
)

var networksFormat string

var networksListCmd = &cobra.Command{
	Use:   "networks:list",
	Short: "List configured networks and their policies",
	Long: `List every network arbor can deploy to, with configuration overrides
applied: chain id, confirmation depth, gas limit, whether verification is
enabled and the governance parameters.

RPC URLs are not printed; rpc_configured reports whether one is set.

Examples:
  arbor networks:list
  arbor networks:list --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := presentation.NewFormatterFor(cmd.OutOrStdout(), networksFormat)
		if err != nil {
			return err
		}
		r, err := newResolver()
		if err != nil {
			return fmt.Errorf("loading networks: %w", err)
		}

		dtos := []presentation.NetworkDTO{presentation.FromPolicy(r.Default())}
		for _, p := range r.Policies() {
			dtos = append(dtos, presentation.FromPolicy(p))
		}
		return formatter.FormatNetworks(dtos)
	},
}

var (
	setRPCURL        string
	setChainID       uint64
	setConfirmations uint64
	setGasLimit      uint64
	setPriceFeed     string
	setDevelopment   bool
)

var networksSetCmd = &cobra.Command{
	Use:   "networks:set NAME",
	Short: "Write a network override to the config file",
	Long: `Write the networks.NAME section of the config file. Other sections and
their comments are left as they are. Only flags given on the command line
are written; the entry replaces any existing one.

Examples:
  # Point sepolia at your RPC provider, read from the environment at run time
  arbor networks:set sepolia --rpc-url 'https://sepolia.infura.io/v3/${INFURA_KEY}'

  # Add a network that is not built in
  arbor networks:set devnet --chain-id 1337 --development --rpc-url http://127.0.0.1:8546`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var n config.NetworkConfig
		if flags.Changed("rpc-url") {
			n.RPCURL = setRPCURL
		}
		if flags.Changed("chain-id") {
			n.ChainID = &setChainID
		}
		if flags.Changed("confirmations") {
			n.Confirmations = &setConfirmations
		}
		if flags.Changed("gas-limit") {
			n.GasLimit = &setGasLimit
		}
		if flags.Changed("price-feed") {
			n.PriceFeed = setPriceFeed
		}
		if flags.Changed("development") {
			n.Development = &setDevelopment
		}

		path := configPath()
		if err := config.SaveNetwork(path, args[0], n); err != nil {
			return err
		}
		log.Info(log.CatConfig, "Saved network override", "network", args[0], "path", path)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved networks.%s to %s\n", args[0], path)
		return nil
	},
}

func init() {
	networksListCmd.Flags().StringVarP(&networksFormat, "format", "f", presentation.FormatJSON, "Output format: json or yaml")

	networksSetCmd.Flags().StringVar(&setRPCURL, "rpc-url", "", "JSON-RPC endpoint; $VAR references are expanded at run time")
	networksSetCmd.Flags().Uint64Var(&setChainID, "chain-id", 0, "Chain id (required for networks that are not built in)")
	networksSetCmd.Flags().Uint64Var(&setConfirmations, "confirmations", 0, "Blocks to wait before recording a deployment")
	networksSetCmd.Flags().Uint64Var(&setGasLimit, "gas-limit", 0, "Gas limit for the governor deployment")
	networksSetCmd.Flags().StringVar(&setPriceFeed, "price-feed", "", "Price feed address passed to the shop")
	networksSetCmd.Flags().BoolVar(&setDevelopment, "development", false, "Mark the network as a development network")

	rootCmd.AddCommand(networksListCmd, networksSetCmd)
}
