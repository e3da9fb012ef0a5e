// Package handover moves administration of the time-lock from the deployer
// to the governor. The move is a four state machine whose state is read
// back from role membership on chain, so an interrupted handover resumes
// where it stopped instead of resubmitting grants.
package handover

import (
	"errors"
	"fmt"
	"slices"
)

// State is a position in the handover.
type State int

const (
	// Pending: the deployer administers the time-lock and no governance
	// roles are granted.
	Pending State = iota
	// ProposerGranted: the governor may queue proposals.
	ProposerGranted
	// ExecutorOpened: anyone may execute queued proposals.
	ExecutorOpened
	// AdminRevoked: the deployer no longer administers the time-lock.
	AdminRevoked
)

var stateNames = map[State]string{
	Pending:         "pending",
	ProposerGranted: "proposer_granted",
	ExecutorOpened:  "executor_opened",
	AdminRevoked:    "admin_revoked",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ValidTransitions lists the only forward move out of each state.
var ValidTransitions = map[State][]State{
	Pending:         {ProposerGranted},
	ProposerGranted: {ExecutorOpened},
	ExecutorOpened:  {AdminRevoked},
	AdminRevoked:    {},
}

// IsValidTransition reports whether moving from one state to another is
// allowed.
func IsValidTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// ErrInconsistentRoles is returned when the deployer has lost admin but the
// governance roles are not both in place. No transition can repair it.
var ErrInconsistentRoles = errors.New("time-lock admin revoked before governance roles were granted")

// ErrInvalidTransition is returned for a move not listed in ValidTransitions.
var ErrInvalidTransition = errors.New("invalid handover transition")

// ErrGrantsUnconfirmed is returned when revocation is attempted while a
// grant is missing on chain.
var ErrGrantsUnconfirmed = errors.New("refusing to revoke admin: governance roles not confirmed")

// RoleTransitionError reports a failed transition. The handover stays in
// From and re-running resumes there.
type RoleTransitionError struct {
	From State
	To   State
	Err  error
}

func (e *RoleTransitionError) Error() string {
	return fmt.Sprintf("handover %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *RoleTransitionError) Unwrap() error { return e.Err }
