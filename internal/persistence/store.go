// Package persistence journals committed vault events and stores state
// snapshots for restart recovery. Postgres is the production store; SQLite
// serves single-node and local runs with the same schema.
package persistence

import (
	"SynthVault/internal/vault"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventRow is one row of the operation journal.
type EventRow struct {
	ID        uuid.UUID
	Sequence  int64
	EventType string
	Actor     string
	RequestID string
	Payload   []byte // JSON-encoded vault.Event
	Timestamp time.Time
}

// SnapshotRow is one stored engine snapshot.
type SnapshotRow struct {
	ID        uuid.UUID
	Sequence  int64
	Data      []byte
	StateHash []byte
	PrevHash  []byte
	Verified  bool
	CreatedAt time.Time
}

// Store is the durable side of the vault: journal, snapshots, request lookup.
type Store interface {
	WriteEvents(ctx context.Context, events []EventRow) error
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
	LatestSequence(ctx context.Context) (int64, error)
	// FindRequest returns the journal rows written for a request id, oldest first.
	FindRequest(ctx context.Context, requestID string) ([]EventRow, error)

	SaveSnapshot(ctx context.Context, snap SnapshotRow) error
	MarkVerified(ctx context.Context, sequence int64) error
	// LoadLatestSnapshot returns nil, nil when no verified snapshot exists.
	LoadLatestSnapshot(ctx context.Context) (*SnapshotRow, error)

	Ping(ctx context.Context) error
	Close() error
}

// RowFromEvent encodes a committed event for the journal.
func RowFromEvent(evt vault.Event) (EventRow, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal event %d: %w", evt.Sequence, err)
	}
	return EventRow{
		ID:        evt.ID,
		Sequence:  evt.Sequence,
		EventType: string(evt.Type),
		Actor:     evt.Actor,
		RequestID: evt.RequestID,
		Payload:   payload,
		Timestamp: evt.Time,
	}, nil
}

// Event decodes the journal payload back into a vault.Event.
func (r EventRow) Event() (vault.Event, error) {
	var evt vault.Event
	if err := json.Unmarshal(r.Payload, &evt); err != nil {
		return vault.Event{}, fmt.Errorf("unmarshal event %d: %w", r.Sequence, err)
	}
	return evt, nil
}
