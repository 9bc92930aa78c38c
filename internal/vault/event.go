package vault

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened inside the vault.
type EventType string

const (
	EventMinted            EventType = "minted"
	EventRedeemed          EventType = "redeemed"
	EventHarvested         EventType = "harvested"
	EventYieldAccumulated  EventType = "yield_accumulated"
	EventMarginDeficit     EventType = "margin_deficit"
	EventRebalanced        EventType = "rebalanced"
	EventReserveFunded     EventType = "reserve_funded"
	EventReserveWithdrawn  EventType = "reserve_withdrawn"
	EventProposalCreated   EventType = "proposal_created"
	EventProposalCanceled  EventType = "proposal_canceled"
	EventProposalExecuted  EventType = "proposal_executed"
	EventAdminChanged      EventType = "admin_changed"
	EventPriceRecorded     EventType = "price_recorded"
	EventSignal            EventType = "signal"
	EventEmergencyShutdown EventType = "emergency_shutdown"
)

// Signal is a soft monitoring condition. Signals never abort an operation.
type Signal string

const (
	SignalLowReserve          Signal = "low_reserve"
	SignalMarginDeficit       Signal = "margin_deficit"
	SignalManualIntervention  Signal = "manual_intervention_required"
	SignalRebalanceNeeded     Signal = "rebalance_needed"
	SignalCompensationFailure Signal = "compensation_failure"
)

// Event is emitted for every committed state change. Events of a failed
// operation are discarded with it.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Sequence  int64     `json:"sequence"`
	Type      EventType `json:"type"`
	Actor     string    `json:"actor,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Time      time.Time `json:"time"`
	Amount    int64     `json:"amount,omitempty"`
	Output    int64     `json:"output,omitempty"`
	Fee       int64     `json:"fee,omitempty"`
	Rate      int64     `json:"rate,omitempty"`
	Health    int64     `json:"health,omitempty"`
	Signal    Signal    `json:"signal,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type requestIDKey struct{}

// WithRequestID tags every event of the operation run with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id set by WithRequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
