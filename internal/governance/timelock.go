// Package governance implements the timelocked parameter-change state machine.
//
// Each mutable parameter family owns one Timelock. A Timelock holds at most
// one proposal in the Proposed state and refuses a new proposal until the
// cooldown since the previous one has elapsed, so a propose/cancel cycle
// cannot be used to shorten the effective delay.
package governance

import (
	"SynthVault/internal/vaulterr"
	"fmt"
	"time"
)

// Kind names a mutable parameter family.
type Kind string

const (
	KindAllocation Kind = "allocation"
	KindLeverage   Kind = "leverage"
	KindHedgeVenue Kind = "hedge_venue"
)

// ParseKind validates a kind received from the API.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAllocation, KindLeverage, KindHedgeVenue:
		return Kind(s), nil
	default:
		return "", vaulterr.New("governance", vaulterr.ErrInvalidParameter, "unknown proposal kind %q", s)
	}
}

// ProposalState tracks a proposal through its lifecycle.
type ProposalState int32

const (
	StateNone ProposalState = iota
	StateProposed
	StateCanceled
	StateExecuted
)

func (s ProposalState) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateProposed:
		return "Proposed"
	case StateCanceled:
		return "Canceled"
	case StateExecuted:
		return "Executed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s ProposalState) CanTransitionTo(next ProposalState) bool {
	validTransitions := map[ProposalState][]ProposalState{
		StateNone:     {StateProposed},
		StateProposed: {StateCanceled, StateExecuted},
		StateCanceled: {StateProposed},
		StateExecuted: {StateProposed},
	}
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Proposal is the current (or last) proposal of one kind.
type Proposal[T any] struct {
	State      ProposalState `json:"state"`
	Value      T             `json:"value"`
	ETA        time.Time     `json:"eta"`
	ProposedAt time.Time     `json:"proposed_at"`
}

// Timelock is the state machine for one parameter family.
// Not safe for concurrent use; the owning engine serializes access.
type Timelock[T any] struct {
	kind           Kind
	delay          time.Duration
	cooldown       time.Duration
	current        Proposal[T]
	lastProposalAt time.Time
}

func NewTimelock[T any](kind Kind, delay, cooldown time.Duration) *Timelock[T] {
	return &Timelock[T]{kind: kind, delay: delay, cooldown: cooldown}
}

func (tl *Timelock[T]) Kind() Kind { return tl.kind }

// Propose records value with an eta of now + delay.
func (tl *Timelock[T]) Propose(now time.Time, value T) (Proposal[T], error) {
	op := fmt.Sprintf("propose %s", tl.kind)
	if tl.current.State == StateProposed {
		return Proposal[T]{}, vaulterr.New(op, vaulterr.ErrProposalPending,
			"proposal already pending until %s", tl.current.ETA.Format(time.RFC3339))
	}
	if !tl.lastProposalAt.IsZero() && now.Before(tl.lastProposalAt.Add(tl.cooldown)) {
		return Proposal[T]{}, vaulterr.New(op, vaulterr.ErrProposalCooldown,
			"next proposal allowed at %s", tl.lastProposalAt.Add(tl.cooldown).Format(time.RFC3339))
	}
	if !tl.current.State.CanTransitionTo(StateProposed) {
		return Proposal[T]{}, fmt.Errorf("%s: invalid transition %s -> Proposed", op, tl.current.State)
	}

	tl.current = Proposal[T]{
		State:      StateProposed,
		Value:      value,
		ETA:        now.Add(tl.delay),
		ProposedAt: now,
	}
	tl.lastProposalAt = now
	return tl.current, nil
}

// Cancel withdraws the pending proposal. The cooldown keeps running.
func (tl *Timelock[T]) Cancel() error {
	if tl.current.State != StateProposed {
		return vaulterr.New(fmt.Sprintf("cancel %s", tl.kind), vaulterr.ErrNoPendingProposal, "nothing to cancel")
	}
	tl.current.State = StateCanceled
	return nil
}

// Execute returns the pending value once now has reached the eta.
// The proposal is only marked executed by Commit, so a caller that fails to
// apply the value leaves it pending.
func (tl *Timelock[T]) Execute(now time.Time) (T, error) {
	var zero T
	op := fmt.Sprintf("execute %s", tl.kind)
	if tl.current.State != StateProposed {
		return zero, vaulterr.New(op, vaulterr.ErrNoPendingProposal, "nothing to execute")
	}
	if now.Before(tl.current.ETA) {
		return zero, vaulterr.New(op, vaulterr.ErrTimelockActive,
			"timelock not yet elapsed, eta %s", tl.current.ETA.Format(time.RFC3339))
	}
	return tl.current.Value, nil
}

// Commit marks the pending proposal executed.
func (tl *Timelock[T]) Commit() {
	if tl.current.State == StateProposed {
		tl.current.State = StateExecuted
	}
}

// Current returns the current or most recent proposal.
func (tl *Timelock[T]) Current() Proposal[T] {
	return tl.current
}

// Snapshot is the serializable state of a Timelock.
type Snapshot[T any] struct {
	Current        Proposal[T] `json:"current"`
	LastProposalAt time.Time   `json:"last_proposal_at"`
}

func (tl *Timelock[T]) Snapshot() Snapshot[T] {
	return Snapshot[T]{Current: tl.current, LastProposalAt: tl.lastProposalAt}
}

func (tl *Timelock[T]) Restore(s Snapshot[T]) {
	tl.current = s.Current
	tl.lastProposalAt = s.LastProposalAt
}
