// Package deploy runs a graph of named deployment steps against one
// network. Steps that produce contracts are skipped when the registry
// already holds their record; action steps run on every execution and are
// expected to be idempotent on their own terms.
package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/arbor/internal/artifacts"
	"github.com/zjrosen/arbor/internal/chain"
	"github.com/zjrosen/arbor/internal/network"
	"github.com/zjrosen/arbor/internal/pubsub"
	"github.com/zjrosen/arbor/internal/registry"
)

// Env is what a step sees of the run it belongs to.
type Env struct {
	Policy    network.Policy
	Client    chain.Client
	Artifacts artifacts.Source
	RunID     string
	Tracer    trace.Tracer

	step      string
	publisher pubsub.Publisher[Event]
}

// Emit publishes a progress event attributed to the current step.
func (e *Env) Emit(eventType pubsub.EventType, message string) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(eventType, Event{RunID: e.RunID, Step: e.step, Message: message})
}

// Dependencies holds the records of a step's declared dependencies.
// Looking up a name the step did not declare yields the zero address and
// fails the step once its body returns.
type Dependencies struct {
	records map[string]*registry.Record
	missing map[string]struct{}
}

func newDependencies() Dependencies {
	return Dependencies{records: make(map[string]*registry.Record), missing: make(map[string]struct{})}
}

// Address returns the deployed address of dependency name.
func (d Dependencies) Address(name string) common.Address {
	if rec, ok := d.Record(name); ok {
		return rec.Address
	}
	return common.Address{}
}

// Record returns the record of dependency name.
func (d Dependencies) Record(name string) (*registry.Record, bool) {
	rec, ok := d.records[name]
	if !ok || rec == nil {
		if d.missing != nil {
			d.missing[name] = struct{}{}
		}
		return nil, false
	}
	return rec, true
}

// MissingDependencyError reports a step that looked up dependencies it
// does not declare.
type MissingDependencyError struct {
	Step  string
	Names []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("step %s used undeclared dependencies %s", e.Step, strings.Join(e.Names, ", "))
}

func (d Dependencies) check(step string) error {
	if len(d.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(d.missing))
	for name := range d.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return &MissingDependencyError{Step: step, Names: names}
}

// Deployment is what a deploy step asks the orchestrator to submit.
type Deployment struct {
	// Artifact names the compiled contract to deploy.
	Artifact string
	// Args are the constructor arguments in declaration order. They are
	// encoded strictly against the artifact ABI.
	Args []any
	// GasLimit overrides estimation when non-zero.
	GasLimit uint64
}

// DeployFunc computes a deployment from the policy and the dependency
// records. It must not submit transactions: the orchestrator also calls it
// on registry hits to detect constructor argument drift.
type DeployFunc func(ctx context.Context, env *Env, deps Dependencies) (*Deployment, error)

// ActionFunc performs an action step.
type ActionFunc func(ctx context.Context, env *Env, deps Dependencies) error

// EnsureFunc restores a post-condition of a deployed contract. It runs
// after every execution of its step, including registry hits.
type EnsureFunc func(ctx context.Context, env *Env, record *registry.Record) error

// StepOption configures a Step during graph building.
type StepOption func(*Step)

// Tags labels the step for selection.
func Tags(tags ...string) StepOption {
	return func(s *Step) { s.tags = append(s.tags, tags...) }
}

// DependsOn declares steps that must complete first.
func DependsOn(names ...string) StepOption {
	return func(s *Step) { s.dependsOn = append(s.dependsOn, names...) }
}

// Deploys makes the step produce a contract.
func Deploys(fn DeployFunc) StepOption {
	return func(s *Step) { s.deploy = fn }
}

// Performs makes the step an action step.
func Performs(fn ActionFunc) StepOption {
	return func(s *Step) { s.perform = fn }
}

// Ensures adds a post-condition hook to a deploy step.
func Ensures(fn EnsureFunc) StepOption {
	return func(s *Step) { s.ensure = fn }
}

// Step is one node of the deployment graph.
type Step struct {
	name      string
	tags      []string
	dependsOn []string
	deploy    DeployFunc
	perform   ActionFunc
	ensure    EnsureFunc
	index     int
}

func (s *Step) Name() string        { return s.name }
func (s *Step) Tags() []string      { return append([]string(nil), s.tags...) }
func (s *Step) DependsOn() []string { return append([]string(nil), s.dependsOn...) }

// IsAction reports whether the step performs an action instead of
// deploying a contract.
func (s *Step) IsAction() bool { return s.perform != nil }

// HasTag reports whether the step carries tag.
func (s *Step) HasTag(tag string) bool {
	for _, t := range s.tags {
		if t == tag {
			return true
		}
	}
	return false
}
