package handover

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/arbor/internal/chain"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/tracing"
)

// TimeLock is the access-controlled contract being handed over.
// *chain.AccessControl satisfies it.
type TimeLock interface {
	Address() common.Address
	RoleID(ctx context.Context, getter string) ([32]byte, error)
	HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error)
	GrantRole(ctx context.Context, role [32]byte, account common.Address) (*chain.Receipt, error)
	RevokeRole(ctx context.Context, role [32]byte, account common.Address) (*chain.Receipt, error)
}

var _ TimeLock = (*chain.AccessControl)(nil)

// Roles names the getters that return each role identifier.
type Roles struct {
	Proposer string `mapstructure:"proposer" yaml:"proposer"`
	Executor string `mapstructure:"executor" yaml:"executor"`
	Admin    string `mapstructure:"admin" yaml:"admin"`
}

// DefaultRoles are the getters of the OpenZeppelin TimelockController.
var DefaultRoles = Roles{
	Proposer: "PROPOSER_ROLE",
	Executor: "EXECUTOR_ROLE",
	Admin:    "TIMELOCK_ADMIN_ROLE",
}

func (r Roles) withDefaults() Roles {
	if r.Proposer == "" {
		r.Proposer = DefaultRoles.Proposer
	}
	if r.Executor == "" {
		r.Executor = DefaultRoles.Executor
	}
	if r.Admin == "" {
		r.Admin = DefaultRoles.Admin
	}
	return r
}

// Transition is reported for every state the sequencer moves through.
type Transition struct {
	From State
	To   State
	// Satisfied is true when the role was already in place and nothing
	// was submitted.
	Satisfied bool
	TxHash    common.Hash
	Block     uint64
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithRoles overrides the role getter names.
func WithRoles(roles Roles) Option {
	return func(s *Sequencer) { s.roles = roles.withDefaults() }
}

// WithExecutor sets the account granted the executor role. The zero
// address, the default, lets anyone execute.
func WithExecutor(addr common.Address) Option {
	return func(s *Sequencer) { s.executor = addr }
}

// WithTracer sets the tracer for transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sequencer) { s.tracer = tracer }
}

// OnTransition registers a hook called after each transition.
func OnTransition(fn func(Transition)) Option {
	return func(s *Sequencer) { s.onTransition = fn }
}

// Sequencer drives a time-lock from Pending to AdminRevoked.
type Sequencer struct {
	timelock     TimeLock
	governor     common.Address
	deployer     common.Address
	executor     common.Address
	roles        Roles
	tracer       trace.Tracer
	onTransition func(Transition)

	ids *roleIDs
}

type roleIDs struct {
	proposer, executor, admin [32]byte
}

// NewSequencer creates a sequencer handing timelock from deployer to
// governor.
func NewSequencer(timelock TimeLock, governor, deployer common.Address, opts ...Option) *Sequencer {
	s := &Sequencer{
		timelock: timelock,
		governor: governor,
		deployer: deployer,
		roles:    DefaultRoles,
		tracer:   tracing.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sequencer) roleIDs(ctx context.Context) (*roleIDs, error) {
	if s.ids != nil {
		return s.ids, nil
	}
	var ids roleIDs
	for _, r := range []struct {
		getter string
		dst    *[32]byte
	}{
		{s.roles.Proposer, &ids.proposer},
		{s.roles.Executor, &ids.executor},
		{s.roles.Admin, &ids.admin},
	} {
		id, err := s.timelock.RoleID(ctx, r.getter)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", r.getter, err)
		}
		*r.dst = id
	}
	s.ids = &ids
	return s.ids, nil
}

type membership struct {
	proposer, executor, admin bool
}

func (s *Sequencer) membership(ctx context.Context) (membership, error) {
	ids, err := s.roleIDs(ctx)
	if err != nil {
		return membership{}, err
	}
	var m membership
	if m.proposer, err = s.timelock.HasRole(ctx, ids.proposer, s.governor); err != nil {
		return membership{}, fmt.Errorf("checking proposer role: %w", err)
	}
	if m.executor, err = s.timelock.HasRole(ctx, ids.executor, s.executor); err != nil {
		return membership{}, fmt.Errorf("checking executor role: %w", err)
	}
	if m.admin, err = s.timelock.HasRole(ctx, ids.admin, s.deployer); err != nil {
		return membership{}, fmt.Errorf("checking admin role: %w", err)
	}
	return m, nil
}

// Observe derives the current state from role membership.
func (s *Sequencer) Observe(ctx context.Context) (State, error) {
	m, err := s.membership(ctx)
	if err != nil {
		return Pending, err
	}
	return m.state()
}

func (m membership) state() (State, error) {
	switch {
	case !m.admin && m.proposer && m.executor:
		return AdminRevoked, nil
	case !m.admin:
		return Pending, ErrInconsistentRoles
	case m.proposer && m.executor:
		return ExecutorOpened, nil
	case m.proposer:
		return ProposerGranted, nil
	default:
		return Pending, nil
	}
}

type step struct {
	to        State
	satisfied func(membership) bool
	apply     func(ctx context.Context, ids *roleIDs) (*chain.Receipt, error)
}

func (s *Sequencer) steps() []step {
	return []step{
		{
			to:        ProposerGranted,
			satisfied: func(m membership) bool { return m.proposer },
			apply: func(ctx context.Context, ids *roleIDs) (*chain.Receipt, error) {
				return s.timelock.GrantRole(ctx, ids.proposer, s.governor)
			},
		},
		{
			to:        ExecutorOpened,
			satisfied: func(m membership) bool { return m.executor },
			apply: func(ctx context.Context, ids *roleIDs) (*chain.Receipt, error) {
				return s.timelock.GrantRole(ctx, ids.executor, s.executor)
			},
		},
		{
			to:        AdminRevoked,
			satisfied: func(m membership) bool { return !m.admin },
			apply: func(ctx context.Context, ids *roleIDs) (*chain.Receipt, error) {
				return s.timelock.RevokeRole(ctx, ids.admin, s.deployer)
			},
		},
	}
}

// Run performs the remaining transitions and returns the state reached.
//
// Each transition re-reads membership, skips itself when already satisfied
// and otherwise submits and waits for confirmation on a context that
// ignores cancellation. ctx is consulted only between transitions, so a
// cancelled run always stops on a well-defined state.
func (s *Sequencer) Run(ctx context.Context) (State, error) {
	state, err := s.Observe(ctx)
	if err != nil {
		return state, err
	}
	log.Info(log.CatHandover, "Handover starting", "timelock", s.timelock.Address().Hex(),
		"governor", s.governor.Hex(), "state", state.String())

	for _, st := range s.steps() {
		if state >= st.to {
			continue
		}
		if !IsValidTransition(state, st.to) {
			return state, &RoleTransitionError{From: state, To: st.to, Err: ErrInvalidTransition}
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if err := s.transition(context.WithoutCancel(ctx), state, st); err != nil {
			return state, err
		}
		state = st.to
	}

	log.Info(log.CatHandover, "Handover complete", "timelock", s.timelock.Address().Hex(), "state", state.String())
	return state, nil
}

func (s *Sequencer) transition(ctx context.Context, from State, st step) (err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanPrefixHandover+st.to.String(), trace.WithAttributes(
		attribute.String(tracing.AttrFrom, from.String()),
		attribute.String(tracing.AttrTo, st.to.String()),
		attribute.String(tracing.AttrAddress, s.timelock.Address().Hex()),
	))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	fail := func(err error) error {
		log.ErrorErr(log.CatHandover, "Handover transition failed", err, "from", from.String(), "to", st.to.String())
		return &RoleTransitionError{From: from, To: st.to, Err: err}
	}

	m, err := s.membership(ctx)
	if err != nil {
		return fail(err)
	}
	if st.satisfied(m) {
		span.AddEvent(tracing.EventTransitionSkipped)
		log.Debug(log.CatHandover, "Role already in place", "to", st.to.String())
		s.notify(Transition{From: from, To: st.to, Satisfied: true})
		return nil
	}
	if st.to == AdminRevoked && !(m.proposer && m.executor) {
		return fail(ErrGrantsUnconfirmed)
	}

	ids, err := s.roleIDs(ctx)
	if err != nil {
		return fail(err)
	}
	receipt, err := st.apply(ctx, ids)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(
		attribute.String(tracing.AttrTxHash, receipt.TxHash.Hex()),
		attribute.Int64(tracing.AttrBlock, int64(receipt.BlockNumber)),
	)
	log.Info(log.CatHandover, "Handover transition confirmed",
		"from", from.String(), "to", st.to.String(), "tx", receipt.TxHash.Hex(), "block", receipt.BlockNumber)
	s.notify(Transition{From: from, To: st.to, TxHash: receipt.TxHash, Block: receipt.BlockNumber})
	return nil
}

func (s *Sequencer) notify(t Transition) {
	if s.onTransition != nil {
		s.onTransition(t)
	}
}
