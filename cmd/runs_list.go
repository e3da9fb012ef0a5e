package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/arbor/internal/presentation"
	"github.com/zjrosen/arbor/internal/registry"
)

var (
	runsNetwork string
	runsState   string
	runsLimit   int
	runsFormat  string
)

var runsListCmd = &cobra.Command{
	Use:   "runs:list",
	Short: "List recent deployment runs",
	Long: `List deployment runs newest first.

A failed run names the last step it completed; rerunning the same deploy
command resumes after it.

Examples:
  arbor runs:list --network sepolia --limit 5
  arbor runs:list --state failed --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := presentation.NewFormatterFor(cmd.OutOrStdout(), runsFormat)
		if err != nil {
			return err
		}

		filter := registry.RunFilter{Limit: runsLimit}
		if runsState != "" {
			filter.State = registry.RunState(runsState)
			if !filter.State.IsValid() {
				return fmt.Errorf("unknown run state %q", runsState)
			}
		}
		if runsNetwork != "" {
			policy, err := resolvePolicy(runsNetwork)
			if err != nil {
				return err
			}
			filter.ChainID = policy.ChainID
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		runs, err := st.runs.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		dtos := make([]presentation.RunDTO, len(runs))
		for i, r := range runs {
			dtos[i] = presentation.FromRun(r)
		}
		return formatter.FormatRuns(dtos)
	},
}

func init() {
	runsListCmd.Flags().StringVarP(&runsNetwork, "network", "n", "", "Only runs against this network")
	runsListCmd.Flags().StringVar(&runsState, "state", "", "Only runs in this state: pending, running, completed, failed")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs (0 for all)")
	runsListCmd.Flags().StringVarP(&runsFormat, "format", "f", presentation.FormatJSON, "Output format: json or yaml")
	rootCmd.AddCommand(runsListCmd)
}
