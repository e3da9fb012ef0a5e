package registry

import (
	"context"
	"fmt"
	"time"
)

// RunState is the lifecycle state of a deployment run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

func (s RunState) String() string { return string(s) }

// IsValid reports whether s is a known state.
func (s RunState) IsValid() bool {
	switch s {
	case RunStatePending, RunStateRunning, RunStateCompleted, RunStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the run has finished.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Run is the history entry of one orchestrator invocation.
type Run struct {
	id            string
	network       string
	chainID       uint64
	tags          []string
	state         RunState
	lastCompleted string
	deployed      int
	skipped       int
	errMsg        string
	startedAt     time.Time
	finishedAt    *time.Time
	updatedAt     time.Time
}

// NewRun creates a pending run.
func NewRun(id, network string, chainID uint64, tags []string) *Run {
	now := time.Now()
	return &Run{
		id:        id,
		network:   network,
		chainID:   chainID,
		tags:      append([]string(nil), tags...),
		state:     RunStatePending,
		startedAt: now,
		updatedAt: now,
	}
}

// ReconstituteRun rebuilds a run from stored fields.
func ReconstituteRun(
	id, network string,
	chainID uint64,
	tags []string,
	state RunState,
	lastCompleted string,
	deployed, skipped int,
	errMsg string,
	startedAt time.Time,
	finishedAt *time.Time,
	updatedAt time.Time,
) *Run {
	return &Run{
		id:            id,
		network:       network,
		chainID:       chainID,
		tags:          tags,
		state:         state,
		lastCompleted: lastCompleted,
		deployed:      deployed,
		skipped:       skipped,
		errMsg:        errMsg,
		startedAt:     startedAt,
		finishedAt:    finishedAt,
		updatedAt:     updatedAt,
	}
}

func (r *Run) ID() string             { return r.id }
func (r *Run) Network() string        { return r.network }
func (r *Run) ChainID() uint64        { return r.chainID }
func (r *Run) Tags() []string         { return append([]string(nil), r.tags...) }
func (r *Run) State() RunState        { return r.state }
func (r *Run) LastCompleted() string  { return r.lastCompleted }
func (r *Run) Deployed() int          { return r.deployed }
func (r *Run) Skipped() int           { return r.skipped }
func (r *Run) ErrorMessage() string   { return r.errMsg }
func (r *Run) StartedAt() time.Time   { return r.startedAt }
func (r *Run) FinishedAt() *time.Time { return r.finishedAt }
func (r *Run) UpdatedAt() time.Time   { return r.updatedAt }

// MarkRunning moves a pending run to running.
func (r *Run) MarkRunning() error {
	if r.state != RunStatePending {
		return &InvalidRunTransitionError{From: r.state, To: RunStateRunning}
	}
	r.state = RunStateRunning
	r.updatedAt = time.Now()
	return nil
}

// StepCompleted records that a step finished, deployed or skipped.
func (r *Run) StepCompleted(name string, deployed bool) {
	r.lastCompleted = name
	if deployed {
		r.deployed++
	} else {
		r.skipped++
	}
	r.updatedAt = time.Now()
}

// MarkCompleted finishes a running run.
func (r *Run) MarkCompleted() error {
	return r.finish(RunStateCompleted, "")
}

// MarkFailed finishes a run with the error that stopped it.
func (r *Run) MarkFailed(err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return r.finish(RunStateFailed, msg)
}

func (r *Run) finish(state RunState, msg string) error {
	if r.state.IsTerminal() {
		return &InvalidRunTransitionError{From: r.state, To: state}
	}
	now := time.Now()
	r.state = state
	r.errMsg = msg
	r.finishedAt = &now
	r.updatedAt = now
	return nil
}

// InvalidRunTransitionError reports an illegal run state change.
type InvalidRunTransitionError struct {
	From RunState
	To   RunState
}

func (e *InvalidRunTransitionError) Error() string {
	return fmt.Sprintf("cannot move run from %s to %s", e.From, e.To)
}

// RunNotFoundError is returned when a run id is unknown.
type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %q not found", e.ID)
}

// RunFilter narrows run listings.
type RunFilter struct {
	// ChainID limits results to one chain when non-zero.
	ChainID uint64
	// State limits results to one state when set.
	State RunState
	// Limit caps the number of results when positive.
	Limit int
}

// RunRepository persists run history. Listings are newest first.
type RunRepository interface {
	Save(ctx context.Context, run *Run) error
	FindByID(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, filter RunFilter) ([]*Run, error)
}
