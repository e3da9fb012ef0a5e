package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/arbor/internal/deploy"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/presentation"
	"github.com/zjrosen/arbor/internal/pubsub"
	"github.com/zjrosen/arbor/internal/registry"
	"github.com/zjrosen/arbor/internal/steps"
	"github.com/zjrosen/arbor/internal/tracing"
)

var (
	deployTags    []string
	deployNetwork string
	deployDryRun  bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the TreeDAO contracts",
	Long: `Deploy the steps selected by --tags, plus everything they depend on.

Steps whose contract is already in the registry for the network are skipped,
so rerunning after a failure resumes where the previous run stopped.
Without --tags every step runs. Without --network the in-process hardhat
simulator is used and nothing is persisted.

Tags: all, governor, timelock, setup, staking, shop, nft

Examples:
  # Deploy everything to the local simulator
  arbor deploy

  # Deploy the governance contracts and hand over the time-lock on sepolia
  arbor deploy --network sepolia --tags governor,setup

  # Show what would run without submitting anything
  arbor deploy --network sepolia --dry-run`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringSliceVarP(&deployTags, "tags", "t", nil, "Comma-separated step tags to deploy (default: all)")
	deployCmd.Flags().StringVarP(&deployNetwork, "network", "n", "", "Network name (default: in-process hardhat)")
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "Report the plan without submitting transactions")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := resolvePolicy(deployNetwork)
	if err != nil {
		return err
	}
	graph, err := steps.TreeDAO(
		steps.WithHandoverRoles(cfg.Handover.Roles),
		steps.WithExecutor(cfg.ExecutorAddress()),
	)
	if err != nil {
		return err
	}
	source, err := loadArtifacts()
	if err != nil {
		return err
	}

	if deployDryRun {
		return planDeploy(ctx, cmd.OutOrStdout(), graph, policy)
	}

	conn, err := connect(ctx, policy)
	if err != nil {
		return err
	}

	var (
		reg  registry.Registry
		runs registry.RunRepository
	)
	if conn.simulated {
		// Simulated contracts do not outlive the process, so neither do
		// their records.
		reg, runs = registry.NewMemory(), registry.NewMemoryRuns()
	} else {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		reg, runs = st.registry, st.runs
	}

	provider, err := tracing.NewProvider(cfg.TracingConfig())
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.WithoutCancel(ctx)) }()

	broker := pubsub.NewBrokerWithBuffer[deploy.Event](64)
	events := broker.Subscribe(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printProgress(cmd.ErrOrStderr(), events)
	}()

	orch := deploy.New(graph, policy, conn.client, source, reg,
		deploy.WithRunRepository(runs),
		deploy.WithVerifier(newVerifier(policy)),
		deploy.WithBroker(broker),
		deploy.WithTracer(provider.Tracer()),
	)
	result, runErr := orch.Run(ctx, deployTags)
	broker.Close()
	wg.Wait()
	if n := broker.Dropped(); n > 0 {
		log.Warn(log.CatOrch, "Progress events dropped", "count", n)
	}

	if result != nil {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), presentation.RenderSummary(result, policy, false))
	}
	if runErr != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), presentation.RenderFailure(runErr))
		log.ErrorErr(log.CatOrch, "Deployment failed", runErr, "network", policy.Name)
		return runErr
	}
	return nil
}

func planDeploy(ctx context.Context, out io.Writer, graph *deploy.Graph, policy network.Policy) error {
	var reg registry.Registry = registry.NewMemory()
	if !simulated(policy) {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		reg = st.registry
	}

	plan, err := deploy.New(graph, policy, nil, nil, reg).Plan(ctx, deployTags)
	if err != nil {
		return err
	}

	result := &deploy.Result{}
	for _, p := range plan {
		switch p.Outcome {
		case deploy.OutcomeSkipped:
			result.Records = append(result.Records, p.Record)
			result.Skipped = append(result.Skipped, p.Step)
		case deploy.OutcomeDeployed:
			result.Deployed = append(result.Deployed, p.Step)
		case deploy.OutcomePerformed:
			result.Actions = append(result.Actions, p.Step)
		}
	}
	_, _ = fmt.Fprint(out, presentation.RenderSummary(result, policy, true))
	for _, name := range result.Deployed {
		_, _ = fmt.Fprintf(out, "  would deploy %s\n", name)
	}
	return nil
}

func printProgress(w io.Writer, events <-chan pubsub.Event[deploy.Event]) {
	for e := range events {
		p := e.Payload
		switch e.Type {
		case pubsub.StepStartedEvent:
			_, _ = fmt.Fprintf(w, "-> %s\n", p.Step)
		case pubsub.StepDeployedEvent:
			_, _ = fmt.Fprintf(w, "   deployed %s at %s\n", p.Step, p.Record.Address.Hex())
		case pubsub.StepSkippedEvent:
			_, _ = fmt.Fprintf(w, "   reusing %s at %s\n", p.Step, p.Record.Address.Hex())
		case pubsub.HandoverTransitioned:
			_, _ = fmt.Fprintf(w, "   handover %s\n", p.Message)
		case pubsub.ArgsDriftEvent, pubsub.VerificationEvent:
			if p.Error != "" {
				_, _ = fmt.Fprintf(w, "   %s: %s\n", p.Step, p.Error)
			} else if p.Message != "" {
				_, _ = fmt.Fprintf(w, "   %s: %s\n", p.Step, p.Message)
			}
		case pubsub.StepFailedEvent:
			_, _ = fmt.Fprintf(w, "   %s failed: %s\n", p.Step, p.Error)
		}
	}
}
