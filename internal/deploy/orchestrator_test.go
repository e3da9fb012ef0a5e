package deploy_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/arbor/internal/artifacts"
	"github.com/zjrosen/arbor/internal/artifacts/artifactstest"
	"github.com/zjrosen/arbor/internal/chain"
	"github.com/zjrosen/arbor/internal/deploy"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/pubsub"
	"github.com/zjrosen/arbor/internal/registry"
	"github.com/zjrosen/arbor/internal/verify"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func publicPolicy() network.Policy {
	return network.Policy{
		Name:                "sepolia",
		ChainID:             network.ChainIDSepolia,
		Confirmations:       3,
		VerificationEnabled: true,
		Governance:          network.DefaultGovernance,
	}
}

type harness struct {
	sim      *chain.Simulator
	source   artifacts.Source
	registry *registry.Memory
	runs     *registry.MemoryRuns
}

func newHarness(t *testing.T, chainID uint64) *harness {
	t.Helper()
	return &harness{
		sim:      chain.NewSimulator(chainID),
		source:   artifactstest.Source(t),
		registry: registry.NewMemory(),
		runs:     registry.NewMemoryRuns(),
	}
}

func (h *harness) orchestrator(g *deploy.Graph, policy network.Policy, opts ...deploy.Option) *deploy.Orchestrator {
	opts = append([]deploy.Option{deploy.WithRunRepository(h.runs), deploy.WithClock(clock)}, opts...)
	return deploy.New(g, policy, h.sim, h.source, h.registry, opts...)
}

func contract(artifact string, args func(env *deploy.Env, deps deploy.Dependencies) []any) deploy.StepOption {
	return deploy.Deploys(func(_ context.Context, env *deploy.Env, deps deploy.Dependencies) (*deploy.Deployment, error) {
		d := &deploy.Deployment{Artifact: artifact}
		if args != nil {
			d.Args = args(env, deps)
		}
		return d, nil
	})
}

// shopGraph is token <- staking, token <- shop, plus an independent NFT.
func shopGraph(t *testing.T, extra ...deploy.StepOption) *deploy.Graph {
	t.Helper()
	g, err := deploy.NewGraph().
		Step("TreeToken", append([]deploy.StepOption{deploy.Tags("all", "token"), contract("TreeToken", nil)}, extra...)...).
		Step("StakingTree", deploy.Tags("all", "staking"), deploy.DependsOn("TreeToken"),
			contract("StakingTree", func(_ *deploy.Env, deps deploy.Dependencies) []any {
				return []any{deps.Address("TreeToken")}
			})).
		Step("Shop", deploy.Tags("all", "shop"), deploy.DependsOn("TreeToken"),
			contract("Shop", func(env *deploy.Env, deps deploy.Dependencies) []any {
				return []any{deps.Address("TreeToken"), env.Policy.PriceFeed}
			})).
		Step("TreeNFT", deploy.Tags("all", "nft"), contract("TreeNFT", nil)).
		Build()
	require.NoError(t, err)
	return g
}

func failOn(artifact string, err error) chain.FaultFunc {
	return func(op chain.Operation) error {
		if op.Kind == chain.OpDeploy && op.Name == artifact {
			return err
		}
		return nil
	}
}

func TestRun_DeploysInDependencyOrder(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()

	result, err := h.orchestrator(shopGraph(t), policy).Run(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, []string{"TreeToken", "StakingTree", "Shop", "TreeNFT"}, result.Deployed)
	require.Empty(t, result.Skipped)
	require.Equal(t, 4, h.sim.Deployments())
	require.NotEmpty(t, result.RunID)

	token, err := h.registry.Get(context.Background(), "TreeToken", policy.ChainID)
	require.NoError(t, err)
	shop, err := h.registry.Get(context.Background(), "Shop", policy.ChainID)
	require.NoError(t, err)

	require.Equal(t, []string{token.Address.Hex(), common.Address{}.Hex()}, shop.ConstructorArgs)
	require.NotEmpty(t, shop.EncodedArgs)
	require.Equal(t, "hardhat", shop.Network)
	require.Equal(t, result.RunID, shop.RunID)
	require.Equal(t, fixedNow, shop.DeployedAt)
	require.NotZero(t, shop.ConfirmedAtBlock)

	name, ok := h.sim.ContractAt(shop.Address)
	require.True(t, ok)
	require.Equal(t, "Shop", name)
}

func TestRun_DependencyRecordedBeforeDependentRuns(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()

	var checked []string
	requireDeps := func(name, artifact string, deps ...string) deploy.StepOption {
		return deploy.Deploys(func(ctx context.Context, env *deploy.Env, got deploy.Dependencies) (*deploy.Deployment, error) {
			for _, d := range deps {
				rec, err := h.registry.Get(ctx, d, env.Policy.ChainID)
				require.NoError(t, err, "%s ran before %s was recorded", name, d)
				require.Equal(t, rec.Address, got.Address(d))
			}
			checked = append(checked, name)
			args := make([]any, len(deps))
			for i, d := range deps {
				args[i] = got.Address(d)
			}
			if artifact == "Shop" {
				args = append(args, common.Address{})
			}
			return &deploy.Deployment{Artifact: artifact, Args: args}, nil
		})
	}

	g, err := deploy.NewGraph().
		Step("Shop", deploy.DependsOn("TreeToken"), requireDeps("Shop", "Shop", "TreeToken")).
		Step("StakingTree", deploy.DependsOn("TreeToken"), requireDeps("StakingTree", "StakingTree", "TreeToken")).
		Step("TreeToken", requireDeps("TreeToken", "TreeToken")).
		Build()
	require.NoError(t, err)

	_, err = h.orchestrator(g, policy).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"TreeToken", "Shop", "StakingTree"}, checked)
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()
	g := shopGraph(t)

	first, err := h.orchestrator(g, policy).Run(context.Background(), nil)
	require.NoError(t, err)
	deployments, block := h.sim.Deployments(), h.sim.Block()

	second, err := h.orchestrator(g, policy).Run(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, deployments, h.sim.Deployments(), "second run submitted deployments")
	require.Equal(t, block, h.sim.Block(), "second run mined blocks")
	require.Empty(t, second.Deployed)
	require.Equal(t, first.Deployed, second.Skipped)
	require.Equal(t, first.Records, second.Records)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_TagSelectsTransitiveDependencies(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)

	result, err := h.orchestrator(shopGraph(t), network.DefaultPolicy()).Run(context.Background(), []string{"shop"})
	require.NoError(t, err)
	require.Equal(t, []string{"TreeToken", "Shop"}, result.Deployed)
	require.Len(t, result.Records, 2)
}

func TestRun_UnknownTagSubmitsNothing(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)

	result, err := h.orchestrator(shopGraph(t), network.DefaultPolicy()).Run(context.Background(), []string{"token", "bogus"})
	require.Nil(t, result)
	var unknown *deploy.UnknownTagError
	require.ErrorAs(t, err, &unknown)
	require.Zero(t, h.sim.Deployments())
}

func TestRun_ChainMismatchSubmitsNothing(t *testing.T) {
	h := newHarness(t, network.ChainIDMainnet)

	_, err := h.orchestrator(shopGraph(t), network.DefaultPolicy()).Run(context.Background(), nil)
	var mismatch *deploy.ChainMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, uint64(network.ChainIDHardhat), mismatch.Expected)
	require.Equal(t, uint64(network.ChainIDMainnet), mismatch.Actual)
	require.Zero(t, h.sim.Deployments())
}

func TestRun_ResumesAfterFailure(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()
	g := shopGraph(t)

	h.sim.SetFault(failOn("Shop", errors.New("nonce too low")))
	_, err := h.orchestrator(g, policy).Run(context.Background(), nil)

	var runErr *deploy.RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "Shop", runErr.Step)
	require.Equal(t, "StakingTree", runErr.LastCompleted)
	require.Contains(t, err.Error(), "last completed step: StakingTree")
	var txErr *chain.TransactionFailure
	require.ErrorAs(t, err, &txErr)

	records, err := h.registry.List(context.Background(), policy.ChainID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	failed, err := h.runs.FindByID(context.Background(), runErr.RunID)
	require.NoError(t, err)
	require.Equal(t, registry.RunStateFailed, failed.State())
	require.Equal(t, "StakingTree", failed.LastCompleted())
	require.Contains(t, failed.ErrorMessage(), "nonce too low")

	h.sim.SetFault(nil)
	result, err := h.orchestrator(g, policy).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"TreeToken", "StakingTree"}, result.Skipped)
	require.Equal(t, []string{"Shop", "TreeNFT"}, result.Deployed)

	completed, err := h.runs.FindByID(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Equal(t, registry.RunStateCompleted, completed.State())
	require.Equal(t, 2, completed.Deployed())
	require.Equal(t, 2, completed.Skipped())
}

func TestRun_RevertedDeploymentIsNotRecorded(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()
	h.sim.SetFault(failOn("TreeToken", chain.ErrReverted))

	_, err := h.orchestrator(shopGraph(t), policy).Run(context.Background(), nil)

	var txErr *chain.TransactionFailure
	require.ErrorAs(t, err, &txErr)
	require.True(t, txErr.Reverted)
	var runErr *deploy.RunError
	require.ErrorAs(t, err, &runErr)
	require.Empty(t, runErr.LastCompleted)
	require.Contains(t, err.Error(), "last completed step: none")

	_, err = h.registry.Get(context.Background(), "TreeToken", policy.ChainID)
	require.True(t, registry.IsNotFound(err))
}

func TestRun_ConstructorArgumentMismatchIsFatal(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	g, err := deploy.NewGraph().
		Step("StakingTree", contract("StakingTree", func(*deploy.Env, deploy.Dependencies) []any {
			return []any{common.Address{}, common.Address{}}
		})).
		Build()
	require.NoError(t, err)

	_, err = h.orchestrator(g, network.DefaultPolicy()).Run(context.Background(), nil)
	var argsErr *artifacts.ConstructorArgsError
	require.ErrorAs(t, err, &argsErr)
	require.Equal(t, 1, argsErr.Want)
	require.Equal(t, 2, argsErr.Got)
	require.Zero(t, h.sim.Deployments())
}

func TestRun_UndeclaredDependencyIsFatal(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	g, err := deploy.NewGraph().
		Step("TreeToken", contract("TreeToken", nil)).
		Step("StakingTree", contract("StakingTree", func(_ *deploy.Env, deps deploy.Dependencies) []any {
			return []any{deps.Address("TreeTokn")}
		})).
		Build()
	require.NoError(t, err)

	_, err = h.orchestrator(g, network.DefaultPolicy()).Run(context.Background(), nil)
	var missing *deploy.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "StakingTree", missing.Step)
	require.Equal(t, []string{"TreeTokn"}, missing.Names)
	require.Equal(t, 1, h.sim.Deployments(), "only the token was submitted")

	_, err = h.registry.Get(context.Background(), "StakingTree", network.ChainIDHardhat)
	require.True(t, registry.IsNotFound(err))
}

// abortingRuns finishes every run it is first asked to save, as a second
// process sharing the history table might.
type abortingRuns struct {
	*registry.MemoryRuns
}

func (r abortingRuns) Save(ctx context.Context, run *registry.Run) error {
	if run.State() == registry.RunStateRunning {
		_ = run.MarkFailed(errors.New("aborted elsewhere"))
	}
	return r.MemoryRuns.Save(ctx, run)
}

func TestRun_RejectedRunTransitionIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := newHarness(t, network.ChainIDHardhat)
	runs := abortingRuns{registry.NewMemoryRuns()}
	result, err := h.orchestrator(shopGraph(t), network.DefaultPolicy(), deploy.WithRunRepository(runs)).
		Run(context.Background(), []string{"nft"})
	require.NoError(t, err)
	require.Equal(t, []string{"TreeNFT"}, result.Deployed)

	require.Contains(t, buf.String(), "Run history transition rejected")
	require.Contains(t, buf.String(), "cannot move run from failed to completed")
}

// cancellingClient cancels the run as soon as a deployment is submitted.
type cancellingClient struct {
	*chain.Simulator
	cancel context.CancelFunc
}

func (c cancellingClient) Deploy(ctx context.Context, artifact *artifacts.Artifact, encodedArgs []byte, gasLimit uint64) (*chain.Submission, error) {
	sub, err := c.Simulator.Deploy(ctx, artifact, encodedArgs, gasLimit)
	c.cancel()
	return sub, err
}

func TestRun_CancelDuringConfirmationNamesSubmittedContract(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := newHarness(t, network.ChainIDHardhat)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := cancellingClient{Simulator: h.sim, cancel: cancel}

	_, err := deploy.New(shopGraph(t), network.DefaultPolicy(), client, h.source, h.registry).Run(ctx, []string{"nft"})
	require.ErrorIs(t, err, context.Canceled)
	var failure *chain.TransactionFailure
	require.ErrorAs(t, err, &failure)
	require.NotEqual(t, common.Hash{}, failure.TxHash)
	require.NotEqual(t, common.Address{}, failure.Address)

	name, ok := h.sim.ContractAt(failure.Address)
	require.True(t, ok, "the reported address is the submitted contract")
	require.Equal(t, "TreeNFT", name)
	require.Contains(t, err.Error(), failure.Address.Hex())
	require.Contains(t, buf.String(), failure.TxHash.Hex())

	_, err = h.registry.Get(context.Background(), "TreeNFT", network.ChainIDHardhat)
	require.True(t, registry.IsNotFound(err))
}

func TestRun_CancelBetweenSteps(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelAfterToken := deploy.Ensures(func(context.Context, *deploy.Env, *registry.Record) error {
		cancel()
		return nil
	})
	_, err := h.orchestrator(shopGraph(t, cancelAfterToken), policy).Run(ctx, nil)

	require.ErrorIs(t, err, context.Canceled)
	var runErr *deploy.RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "StakingTree", runErr.Step)
	require.Equal(t, "TreeToken", runErr.LastCompleted)

	records, err := h.registry.List(context.Background(), policy.ChainID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "TreeToken", records[0].Name)
}

func TestRun_EnsureRunsOnEveryExecution(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()

	var seen []common.Address
	g := shopGraph(t, deploy.Ensures(func(_ context.Context, _ *deploy.Env, rec *registry.Record) error {
		seen = append(seen, rec.Address)
		return nil
	}))

	_, err := h.orchestrator(g, policy).Run(context.Background(), []string{"token"})
	require.NoError(t, err)
	_, err = h.orchestrator(g, policy).Run(context.Background(), []string{"token"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	require.Equal(t, seen[0], seen[1])
}

func TestRun_EnsureFailureIsFatal(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	boom := errors.New("delegate reverted")
	g := shopGraph(t, deploy.Ensures(func(context.Context, *deploy.Env, *registry.Record) error { return boom }))

	_, err := h.orchestrator(g, network.DefaultPolicy()).Run(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	var runErr *deploy.RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "TreeToken", runErr.Step)
}

func TestRun_ActionStepsRunAfterContractsEveryTime(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()

	var order []string
	g, err := deploy.NewGraph().
		Step("wire", deploy.DependsOn("TreeToken"), deploy.Performs(func(_ context.Context, _ *deploy.Env, deps deploy.Dependencies) error {
			require.NotEqual(t, common.Address{}, deps.Address("TreeToken"))
			order = append(order, "wire")
			return nil
		})).
		Step("TreeToken", contract("TreeToken", nil)).
		Step("TreeNFT", contract("TreeNFT", nil)).
		Build()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		result, err := h.orchestrator(g, policy).Run(context.Background(), nil)
		require.NoError(t, err)
		require.Equal(t, []string{"wire"}, result.Actions)
		require.Len(t, result.Records, 2)
	}
	require.Equal(t, []string{"wire", "wire"}, order)
	require.Equal(t, 2, h.sim.Deployments())
}

func TestRun_VerificationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, network.ChainIDSepolia)
	policy := publicPolicy()

	var requests []verify.Request
	verifier := verify.Func(func(_ context.Context, req verify.Request) error {
		requests = append(requests, req)
		if req.Name == "Shop" {
			return errors.New("explorer unavailable")
		}
		return nil
	})

	result, err := h.orchestrator(shopGraph(t), policy, deploy.WithVerifier(verifier)).Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, requests, 4)
	require.Len(t, result.VerificationFailures, 1)
	require.Equal(t, "Shop", result.VerificationFailures[0].Name)
	require.Contains(t, result.VerificationFailures[0].Error(), "explorer unavailable")

	shop, err := h.registry.Get(context.Background(), "Shop", policy.ChainID)
	require.NoError(t, err)
	require.Equal(t, shop.Address, result.VerificationFailures[0].Address)
	for _, req := range requests {
		rec, err := h.registry.Get(context.Background(), req.Name, policy.ChainID)
		require.NoError(t, err)
		require.Equal(t, rec.Address, req.Address)
		require.Equal(t, rec.EncodedArgs, req.ConstructorArgs)
		require.Equal(t, req.Name, req.Artifact.Name)
	}
}

func TestRun_VerificationSkippedWhenDisabled(t *testing.T) {
	h := newHarness(t, network.ChainIDSepolia)
	policy := publicPolicy()
	policy.VerificationEnabled = false

	calls := 0
	verifier := verify.Func(func(context.Context, verify.Request) error {
		calls++
		return nil
	})
	_, err := h.orchestrator(shopGraph(t), policy, deploy.WithVerifier(verifier)).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, calls)
}

func TestRun_VerificationOnlyForNewDeployments(t *testing.T) {
	h := newHarness(t, network.ChainIDSepolia)
	policy := publicPolicy()
	calls := 0
	verifier := verify.Func(func(context.Context, verify.Request) error {
		calls++
		return nil
	})
	o := h.orchestrator(shopGraph(t), policy, deploy.WithVerifier(verifier))

	_, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 4, calls)
}

func TestRun_ReportsConstructorArgumentDrift(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	g := shopGraph(t)
	policy := network.DefaultPolicy()

	_, err := h.orchestrator(g, policy).Run(context.Background(), nil)
	require.NoError(t, err)

	broker := pubsub.NewBroker[deploy.Event]()
	defer broker.Close()
	events := broker.Subscribe(context.Background())

	changed := policy
	changed.PriceFeed = common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")
	result, err := h.orchestrator(g, changed, deploy.WithBroker(broker)).Run(context.Background(), nil)
	require.NoError(t, err)

	require.Empty(t, result.Deployed)
	require.Len(t, result.Drifts, 1)
	drift := result.Drifts[0]
	require.Equal(t, "Shop", drift.Step)
	require.Equal(t, common.Address{}.Hex(), drift.Recorded[1])
	require.Equal(t, changed.PriceFeed.Hex(), drift.Current[1])

	found := false
	for len(events) > 0 {
		e := <-events
		if e.Type == pubsub.ArgsDriftEvent {
			found = true
			require.Equal(t, "Shop", e.Payload.Step)
		}
	}
	require.True(t, found, "no drift event published")

	shop, err := h.registry.Get(context.Background(), "Shop", policy.ChainID)
	require.NoError(t, err)
	require.Equal(t, drift.Recorded, shop.ConstructorArgs, "drift must not rewrite the record")
}

func TestRun_PublishesProgress(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	broker := pubsub.NewBroker[deploy.Event]()
	defer broker.Close()
	events := broker.Subscribe(context.Background())

	result, err := h.orchestrator(shopGraph(t), network.DefaultPolicy(), deploy.WithBroker(broker)).Run(context.Background(), []string{"token"})
	require.NoError(t, err)

	var types []pubsub.EventType
	for len(events) > 0 {
		e := <-events
		require.Equal(t, result.RunID, e.Payload.RunID)
		types = append(types, e.Type)
	}
	require.Equal(t, []pubsub.EventType{
		pubsub.StepStartedEvent,
		pubsub.StepDeployedEvent,
		pubsub.RunFinishedEvent,
	}, types)
}

func TestRun_RecordsSpans(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, err := h.orchestrator(shopGraph(t), network.DefaultPolicy(), deploy.WithTracer(provider.Tracer("test"))).
		Run(context.Background(), []string{"staking"})
	require.NoError(t, err)

	var spanNames []string
	for _, s := range recorder.Ended() {
		spanNames = append(spanNames, s.Name())
	}
	require.Equal(t, []string{"deploy.step.TreeToken", "deploy.step.StakingTree", "deploy.run"}, spanNames)
}

func TestPlan_ReportsWithoutSubmitting(t *testing.T) {
	h := newHarness(t, network.ChainIDHardhat)
	policy := network.DefaultPolicy()
	g := shopGraph(t)

	_, err := h.orchestrator(g, policy).Run(context.Background(), []string{"staking"})
	require.NoError(t, err)
	deployments := h.sim.Deployments()

	plan, err := h.orchestrator(g, policy).Plan(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, deployments, h.sim.Deployments())

	outcomes := make(map[string]deploy.Outcome, len(plan))
	for _, p := range plan {
		outcomes[p.Step] = p.Outcome
	}
	require.Equal(t, map[string]deploy.Outcome{
		"TreeToken":   deploy.OutcomeSkipped,
		"StakingTree": deploy.OutcomeSkipped,
		"Shop":        deploy.OutcomeDeployed,
		"TreeNFT":     deploy.OutcomeDeployed,
	}, outcomes)
	require.NotNil(t, plan[0].Record)

	_, err = h.orchestrator(g, policy).Plan(context.Background(), []string{"missing"})
	var unknown *deploy.UnknownTagError
	require.ErrorAs(t, err, &unknown)
}
