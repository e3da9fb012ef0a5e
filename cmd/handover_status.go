package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/arbor/internal/chain"
	"github.com/zjrosen/arbor/internal/handover"
	"github.com/zjrosen/arbor/internal/presentation"
	"github.com/zjrosen/arbor/internal/registry"
	"github.com/zjrosen/arbor/internal/steps"
)

var (
	handoverNetwork string
	handoverFormat  string
)

var handoverStatusCmd = &cobra.Command{
	Use:   "handover:status",
	Short: "Show how far the time-lock handover has progressed",
	Long: `Read the time-lock roles on chain and report the handover state:

  pending            the governor cannot propose yet
  proposer_granted   the governor can propose; execution is not open
  executor_opened    execution is open; the deployer is still admin
  admin_revoked      the deployer no longer administers the time-lock

Nothing is submitted. Run 'arbor deploy --tags setup' to advance.

Examples:
  arbor handover:status --network sepolia`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		policy, err := resolvePolicy(handoverNetwork)
		if err != nil {
			return err
		}
		formatter, err := presentation.NewFormatterFor(cmd.OutOrStdout(), handoverFormat)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		lock, err := st.registry.Get(ctx, steps.TimeLock, policy.ChainID)
		if registry.IsNotFound(err) {
			return fmt.Errorf("no %s recorded on %s: deploy it first", steps.TimeLock, policy.Name)
		} else if err != nil {
			return err
		}
		governor, err := st.registry.Get(ctx, steps.GovernorContract, policy.ChainID)
		if registry.IsNotFound(err) {
			return fmt.Errorf("no %s recorded on %s: deploy it first", steps.GovernorContract, policy.Name)
		} else if err != nil {
			return err
		}

		conn, err := connect(ctx, policy)
		if err != nil {
			return err
		}
		if conn.simulated {
			return fmt.Errorf("network %s has no rpc_url; the simulator keeps no state between commands", policy.Name)
		}
		source, err := loadArtifacts()
		if err != nil {
			return err
		}
		artifact, err := source.Load(steps.TimeLock)
		if err != nil {
			return err
		}

		timelock := chain.NewAccessControl(conn.client, lock.Address, artifact.ABI, policy.Confirmations)
		seq := handover.NewSequencer(timelock, governor.Address, conn.client.Deployer(),
			handover.WithRoles(cfg.Handover.Roles),
			handover.WithExecutor(cfg.ExecutorAddress()),
		)
		state, err := seq.Observe(ctx)
		status := presentation.HandoverDTO{
			Network:  policy.Name,
			TimeLock: lock.Address.Hex(),
			Governor: governor.Address.Hex(),
			Deployer: conn.client.Deployer().Hex(),
			State:    state.String(),
		}
		switch {
		case errors.Is(err, handover.ErrInconsistentRoles):
			status.State = "inconsistent"
		case err != nil:
			return err
		}
		return formatter.FormatHandover(status)
	},
}

func init() {
	handoverStatusCmd.Flags().StringVarP(&handoverNetwork, "network", "n", "", "Network name (default: hardhat)")
	handoverStatusCmd.Flags().StringVarP(&handoverFormat, "format", "f", presentation.FormatJSON, "Output format: json or yaml")
	rootCmd.AddCommand(handoverStatusCmd)
}
