package deploy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/arbor/internal/artifacts"
	"github.com/zjrosen/arbor/internal/chain"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/pubsub"
	"github.com/zjrosen/arbor/internal/registry"
	"github.com/zjrosen/arbor/internal/tracing"
	"github.com/zjrosen/arbor/internal/verify"
)

// RunError is returned when a step fails. Every step before Step completed
// and its record, if any, is in the registry.
type RunError struct {
	RunID         string
	Step          string
	LastCompleted string
	Err           error
}

func (e *RunError) Error() string {
	last := e.LastCompleted
	if last == "" {
		last = "none"
	}
	return fmt.Sprintf("step %s failed (last completed step: %s): %v", e.Step, last, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ChainMismatchError is returned when the connected node reports a chain
// other than the one the policy was resolved for.
type ChainMismatchError struct {
	Network  string
	Expected uint64
	Actual   uint64
}

func (e *ChainMismatchError) Error() string {
	return fmt.Sprintf("network %s expects chain %d but the node reports chain %d", e.Network, e.Expected, e.Actual)
}

// Drift describes a registry record whose stored constructor arguments no
// longer match what its step would deploy today.
type Drift struct {
	Step     string
	Recorded []string
	Current  []string
}

// Result summarizes a run.
type Result struct {
	RunID string
	// Records holds the record of every contract step in execution order.
	Records  []*registry.Record
	Deployed []string
	Skipped  []string
	Actions  []string
	Drifts   []Drift

	VerificationFailures []*verify.VerificationFailure
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunRepository persists run history.
func WithRunRepository(runs registry.RunRepository) Option {
	return func(o *Orchestrator) { o.runs = runs }
}

// WithVerifier sets the verifier used when the policy enables verification.
func WithVerifier(v verify.Verifier) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithBroker publishes run progress on broker.
func WithBroker(broker *pubsub.Broker[Event]) Option {
	return func(o *Orchestrator) { o.broker = broker }
}

// WithTracer sets the tracer for run and step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator executes a graph against one network, one step at a time.
// It is the only writer of the registry during a run.
type Orchestrator struct {
	graph    *Graph
	policy   network.Policy
	client   chain.Client
	source   artifacts.Source
	registry registry.Registry
	runs     registry.RunRepository
	verifier verify.Verifier
	broker   *pubsub.Broker[Event]
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates an orchestrator for policy.
func New(graph *Graph, policy network.Policy, client chain.Client, source artifacts.Source, reg registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		graph:    graph,
		policy:   policy,
		client:   client,
		source:   source,
		registry: reg,
		verifier: verify.Noop{},
		tracer:   tracing.Noop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the network policy the orchestrator runs against.
func (o *Orchestrator) Policy() network.Policy { return o.policy }

// Run resolves tags and executes the selected steps in order. Graph and
// chain identity errors are returned before anything is submitted; step
// failures are returned as *RunError.
func (o *Orchestrator) Run(ctx context.Context, tags []string) (*Result, error) {
	steps, err := o.graph.Resolve(tags)
	if err != nil {
		return nil, err
	}

	chainID, err := o.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	if chainID != o.policy.ChainID {
		return nil, &ChainMismatchError{Network: o.policy.Name, Expected: o.policy.ChainID, Actual: chainID}
	}

	runID := uuid.NewString()
	run := registry.NewRun(runID, o.policy.Name, o.policy.ChainID, tags)
	o.transitionRun(run, run.MarkRunning())
	o.saveRun(ctx, run)

	ctx, span := o.tracer.Start(ctx, tracing.SpanRun, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, runID),
		attribute.String(tracing.AttrTags, strings.Join(tags, ",")),
		attribute.String(tracing.AttrNetwork, o.policy.Name),
		attribute.Int64(tracing.AttrChainID, int64(o.policy.ChainID)),
	))
	defer span.End()

	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	log.Info(log.CatOrch, "Starting run",
		"run", runID, "network", o.policy.Name, "chainID", o.policy.ChainID,
		"steps", strings.Join(names, ","))

	result := &Result{RunID: runID}
	records := make(map[string]*registry.Record)

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return result, o.fail(ctx, span, run, step, err)
		}

		deps := newDependencies()
		for _, dep := range step.dependsOn {
			if rec, ok := records[dep]; ok {
				deps.records[dep] = rec
			}
		}

		env := &Env{
			Policy:    o.policy,
			Client:    o.client,
			Artifacts: o.source,
			RunID:     runID,
			Tracer:    o.tracer,
			step:      step.name,
			publisher: o.publisher(),
		}

		outcome, rec, err := o.execute(ctx, env, step, deps, result)
		if err != nil {
			return result, o.fail(ctx, span, run, step, err)
		}

		switch outcome {
		case OutcomeDeployed:
			result.Deployed = append(result.Deployed, step.name)
		case OutcomeSkipped:
			result.Skipped = append(result.Skipped, step.name)
		case OutcomePerformed:
			result.Actions = append(result.Actions, step.name)
		}
		if rec != nil {
			records[step.name] = rec
			result.Records = append(result.Records, rec)
		}
		run.StepCompleted(step.name, outcome == OutcomeDeployed)
		o.saveRun(ctx, run)
	}

	o.transitionRun(run, run.MarkCompleted())
	o.saveRun(ctx, run)
	o.publish(pubsub.RunFinishedEvent, Event{RunID: runID, Message: fmt.Sprintf(
		"deployed %d, skipped %d, actions %d", len(result.Deployed), len(result.Skipped), len(result.Actions))})
	log.Info(log.CatOrch, "Run completed",
		"run", runID, "deployed", len(result.Deployed), "skipped", len(result.Skipped),
		"actions", len(result.Actions), "verificationFailures", len(result.VerificationFailures))
	return result, nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, run *registry.Run, step *Step, err error) error {
	runErr := &RunError{RunID: run.ID(), Step: step.name, LastCompleted: run.LastCompleted(), Err: err}
	tracing.RecordError(span, runErr)
	o.transitionRun(run, run.MarkFailed(runErr))
	o.saveRun(context.WithoutCancel(ctx), run)
	o.publish(pubsub.StepFailedEvent, Event{RunID: run.ID(), Step: step.name, Outcome: OutcomeFailed, Error: err.Error()})
	log.ErrorErr(log.CatOrch, "Run failed", err, "run", run.ID(), "step", step.name, "lastCompleted", run.LastCompleted())
	return runErr
}

func (o *Orchestrator) execute(ctx context.Context, env *Env, step *Step, deps Dependencies, result *Result) (outcome Outcome, rec *registry.Record, err error) {
	ctx, span := o.tracer.Start(ctx, tracing.SpanPrefixStep+step.name, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, env.RunID),
		attribute.String(tracing.AttrStep, step.name),
	))
	defer func() {
		if err != nil {
			outcome = OutcomeFailed
			tracing.RecordError(span, err)
		}
		span.SetAttributes(attribute.String(tracing.AttrOutcome, string(outcome)))
		span.End()
	}()

	o.publish(pubsub.StepStartedEvent, Event{RunID: env.RunID, Step: step.name})

	if step.IsAction() {
		log.Info(log.CatOrch, "Performing action", "step", step.name)
		if err := step.perform(ctx, env, deps); err != nil {
			return "", nil, err
		}
		if err := deps.check(step.name); err != nil {
			return "", nil, err
		}
		return OutcomePerformed, nil, nil
	}

	existing, err := o.registry.Get(ctx, step.name, o.policy.ChainID)
	switch {
	case err == nil:
		span.AddEvent(tracing.EventRegistryHit, trace.WithAttributes(
			attribute.String(tracing.AttrAddress, existing.Address.Hex())))
		log.Info(log.CatOrch, "Reusing deployment", "step", step.name, "address", existing.Address.Hex())
		o.checkDrift(ctx, env, step, deps, existing, span, result)
		if err := o.ensure(ctx, env, step, existing); err != nil {
			return "", nil, err
		}
		o.publish(pubsub.StepSkippedEvent, Event{RunID: env.RunID, Step: step.name, Outcome: OutcomeSkipped, Record: existing})
		return OutcomeSkipped, existing, nil
	case !registry.IsNotFound(err):
		return "", nil, fmt.Errorf("reading registry: %w", err)
	}

	rec, artifact, err := o.deploy(ctx, env, step, deps, span)
	if err != nil {
		return "", nil, err
	}
	o.publish(pubsub.StepDeployedEvent, Event{RunID: env.RunID, Step: step.name, Outcome: OutcomeDeployed, Record: rec})

	if err := o.ensure(ctx, env, step, rec); err != nil {
		return "", nil, err
	}
	o.verify(ctx, env, rec, artifact, result)
	return OutcomeDeployed, rec, nil
}

func (o *Orchestrator) deploy(ctx context.Context, env *Env, step *Step, deps Dependencies, span trace.Span) (*registry.Record, *artifacts.Artifact, error) {
	d, err := step.deploy(ctx, env, deps)
	if err != nil {
		return nil, nil, err
	}
	if err := deps.check(step.name); err != nil {
		return nil, nil, err
	}
	artifact, err := o.source.Load(d.Artifact)
	if err != nil {
		return nil, nil, fmt.Errorf("loading artifact: %w", err)
	}
	encoded, err := artifacts.EncodeConstructorArgs(artifact, d.Args...)
	if err != nil {
		return nil, nil, err
	}

	log.Info(log.CatOrch, "Deploying contract", "step", step.name, "artifact", artifact.Name, "args", strings.Join(artifacts.FormatArgs(d.Args), ","))
	sub, err := o.client.Deploy(ctx, artifact, encoded, d.GasLimit)
	if err != nil {
		return nil, nil, err
	}
	span.AddEvent(tracing.EventSubmitted, trace.WithAttributes(
		attribute.String(tracing.AttrTxHash, sub.TxHash.Hex())))
	log.Debug(log.CatOrch, "Deployment submitted", "step", step.name, "tx", sub.TxHash.Hex(), "confirmations", o.policy.Confirmations)

	receipt, err := o.client.WaitConfirmations(ctx, sub.TxHash, o.policy.Confirmations)
	if err != nil {
		var failure *chain.TransactionFailure
		if errors.As(err, &failure) {
			if failure.Address == (common.Address{}) {
				failure.Address = sub.ContractAddress
			}
		} else {
			err = &chain.TransactionFailure{Op: "confirm " + step.name, TxHash: sub.TxHash, Address: sub.ContractAddress, Err: err}
		}
		if failure == nil || !failure.Reverted {
			log.Error(log.CatOrch, "Submitted deployment is unconfirmed and unrecorded; reconcile before re-running",
				"step", step.name, "tx", sub.TxHash.Hex(), "address", sub.ContractAddress.Hex())
		}
		return nil, nil, err
	}
	span.AddEvent(tracing.EventConfirmed, trace.WithAttributes(
		attribute.Int64(tracing.AttrBlock, int64(receipt.BlockNumber))))

	address := receipt.ContractAddress
	if address == (common.Address{}) {
		address = sub.ContractAddress
	}
	rec := &registry.Record{
		Name:             step.name,
		Network:          o.policy.Name,
		ChainID:          o.policy.ChainID,
		Address:          address,
		ConstructorArgs:  artifacts.FormatArgs(d.Args),
		EncodedArgs:      encoded,
		TxHash:           sub.TxHash,
		ConfirmedAtBlock: receipt.BlockNumber,
		RunID:            env.RunID,
		DeployedAt:       o.now(),
	}
	// The transaction is final; persisting must not be cut short.
	if err := o.registry.Put(context.WithoutCancel(ctx), rec); err != nil {
		return nil, nil, fmt.Errorf("recording %s at %s: %w", step.name, address.Hex(), err)
	}
	span.AddEvent(tracing.EventRecorded)
	span.SetAttributes(attribute.String(tracing.AttrAddress, address.Hex()))
	log.Info(log.CatOrch, "Contract deployed", "step", step.name, "address", address.Hex(), "block", receipt.BlockNumber)
	return rec, artifact, nil
}

func (o *Orchestrator) ensure(ctx context.Context, env *Env, step *Step, rec *registry.Record) error {
	if step.ensure == nil {
		return nil
	}
	if err := step.ensure(ctx, env, rec); err != nil {
		return fmt.Errorf("ensuring %s: %w", step.name, err)
	}
	return nil
}

// checkDrift compares the arguments a registry hit was deployed with against
// what the step would deploy now. A mismatch is reported, never redeployed.
func (o *Orchestrator) checkDrift(ctx context.Context, env *Env, step *Step, deps Dependencies, rec *registry.Record, span trace.Span, result *Result) {
	d, err := step.deploy(ctx, env, deps)
	if err == nil {
		err = deps.check(step.name)
	}
	if err != nil {
		log.WarnErr(log.CatOrch, "Could not recompute constructor arguments", err, "step", step.name)
		return
	}
	current := artifacts.FormatArgs(d.Args)
	if slices.Equal(current, rec.ConstructorArgs) {
		return
	}
	drift := Drift{Step: step.name, Recorded: slices.Clone(rec.ConstructorArgs), Current: current}
	result.Drifts = append(result.Drifts, drift)
	span.AddEvent(tracing.EventArgsDrift)
	msg := fmt.Sprintf("recorded [%s], current [%s]", strings.Join(drift.Recorded, ","), strings.Join(current, ","))
	o.publish(pubsub.ArgsDriftEvent, Event{RunID: env.RunID, Step: step.name, Record: rec, Message: msg})
	log.Warn(log.CatOrch, "Deployed constructor arguments differ from current configuration",
		"step", step.name, "address", rec.Address.Hex(),
		"recorded", strings.Join(drift.Recorded, ","), "current", strings.Join(current, ","))
}

func (o *Orchestrator) verify(ctx context.Context, env *Env, rec *registry.Record, artifact *artifacts.Artifact, result *Result) {
	if !o.policy.VerificationEnabled || o.verifier == nil {
		return
	}
	ctx, span := o.tracer.Start(ctx, tracing.SpanVerify, trace.WithAttributes(
		attribute.String(tracing.AttrStep, rec.Name),
		attribute.String(tracing.AttrAddress, rec.Address.Hex()),
	))
	defer span.End()

	err := o.verifier.Verify(ctx, verify.Request{
		Name:            rec.Name,
		ChainID:         rec.ChainID,
		Address:         rec.Address,
		ConstructorArgs: rec.EncodedArgs,
		Artifact:        artifact,
	})
	span.SetAttributes(attribute.Bool(tracing.AttrVerified, err == nil))
	if err == nil {
		o.publish(pubsub.VerificationEvent, Event{RunID: env.RunID, Step: rec.Name, Record: rec, Message: "verified"})
		return
	}

	var failure *verify.VerificationFailure
	if !errors.As(err, &failure) {
		failure = &verify.VerificationFailure{Name: rec.Name, Address: rec.Address, Err: err}
	}
	result.VerificationFailures = append(result.VerificationFailures, failure)
	tracing.RecordError(span, failure)
	o.publish(pubsub.VerificationEvent, Event{RunID: env.RunID, Step: rec.Name, Record: rec, Error: failure.Error()})
	log.WarnErr(log.CatVerify, "Verification failed; continuing", failure, "step", rec.Name)
}

// transitionRun logs a run history transition that the run rejected.
func (o *Orchestrator) transitionRun(run *registry.Run, err error) {
	if err != nil {
		log.WarnErr(log.CatOrch, "Run history transition rejected", err, "run", run.ID(), "state", run.State())
	}
}

func (o *Orchestrator) saveRun(ctx context.Context, run *registry.Run) {
	if o.runs == nil {
		return
	}
	if err := o.runs.Save(ctx, run); err != nil {
		log.WarnErr(log.CatOrch, "Failed to save run history", err, "run", run.ID())
	}
}

func (o *Orchestrator) publisher() pubsub.Publisher[Event] {
	if o.broker == nil {
		return nil
	}
	return o.broker
}

func (o *Orchestrator) publish(eventType pubsub.EventType, e Event) {
	if o.broker != nil {
		o.broker.Publish(eventType, e)
	}
}

// PlannedStep is what Run would do with one step given the current registry.
type PlannedStep struct {
	Step    string
	Outcome Outcome
	// Record is the existing registry record for skipped steps.
	Record *registry.Record
}

// Plan resolves tags and reports, without touching the network, which steps
// would deploy, skip or perform. Ensure hooks are not evaluated.
func (o *Orchestrator) Plan(ctx context.Context, tags []string) ([]PlannedStep, error) {
	steps, err := o.graph.Resolve(tags)
	if err != nil {
		return nil, err
	}

	plan := make([]PlannedStep, 0, len(steps))
	for _, step := range steps {
		if step.IsAction() {
			plan = append(plan, PlannedStep{Step: step.name, Outcome: OutcomePerformed})
			continue
		}
		rec, err := o.registry.Get(ctx, step.name, o.policy.ChainID)
		switch {
		case err == nil:
			plan = append(plan, PlannedStep{Step: step.name, Outcome: OutcomeSkipped, Record: rec})
		case registry.IsNotFound(err):
			plan = append(plan, PlannedStep{Step: step.name, Outcome: OutcomeDeployed})
		default:
			return nil, fmt.Errorf("reading registry: %w", err)
		}
	}
	return plan, nil
}
