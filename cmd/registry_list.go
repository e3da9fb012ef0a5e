package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/arbor/internal/presentation"
	"github.com/zjrosen/arbor/internal/registry"
)

var (
	regNetwork string
	regFormat  string
)

var registryListCmd = &cobra.Command{
	Use:   "registry:list",
	Short: "List deployed contracts recorded for a network",
	Long: `List the deployment records of one network in deployment order.

Each record holds the contract address, the constructor arguments it was
deployed with, the transaction hash and the block it was confirmed in.

Examples:
  # List records of the default network
  arbor registry:list

  # List sepolia records as YAML
  arbor registry:list --network sepolia --format yaml

  # Parse specific fields with jq
  arbor registry:list -n sepolia | jq '.[] | {name, address}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := resolvePolicy(regNetwork)
		if err != nil {
			return err
		}
		formatter, err := presentation.NewFormatterFor(cmd.OutOrStdout(), regFormat)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		records, err := st.registry.List(cmd.Context(), policy.ChainID)
		if err != nil {
			return err
		}
		registry.SortByDeployment(records)
		return formatter.FormatRecords(presentation.FromRecords(records))
	},
}

func init() {
	registryListCmd.Flags().StringVarP(&regNetwork, "network", "n", "", "Network name (default: hardhat)")
	registryListCmd.Flags().StringVarP(&regFormat, "format", "f", presentation.FormatJSON, "Output format: json or yaml")
	rootCmd.AddCommand(registryListCmd)
}
