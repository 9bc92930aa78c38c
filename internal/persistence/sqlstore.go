package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// dialect captures the differences between Postgres and SQLite that the
// shared queries care about.
type dialect struct {
	name      string
	events    string
	snapshots string
	bind      func(n int) string
}

var postgresDialect = dialect{
	name:      "postgres",
	events:    "vault_log.events",
	snapshots: "vault_log.snapshots",
	bind:      func(n int) string { return fmt.Sprintf("$%d", n) },
}

var sqliteDialect = dialect{
	name:      "sqlite",
	events:    "events",
	snapshots: "snapshots",
	bind:      func(int) string { return "?" },
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

const eventColumns = 7

// WriteEvents writes a batch using one multi-row INSERT inside a transaction.
// Rows already journaled (same sequence) are skipped, so retries are safe.
func (s *sqlStore) WriteEvents(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*eventColumns)
	for i, e := range events {
		base := i * eventColumns
		ph := make([]string, eventColumns)
		for j := range ph {
			ph[j] = s.d.bind(base + j + 1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			e.ID.String(), e.Sequence, e.EventType, e.Actor, e.RequestID, e.Payload, e.Timestamp.UnixNano(),
		)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(event_id, sequence, event_type, actor, request_id, payload, time_ns)
		VALUES %s
		ON CONFLICT (sequence) DO NOTHING`, s.d.events, strings.Join(values, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

func (s *sqlStore) scanEvents(rows *sql.Rows) ([]EventRow, error) {
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e      EventRow
			id     string
			timeNs int64
		)
		if err := rows.Scan(&id, &e.Sequence, &e.EventType, &e.Actor, &e.RequestID, &e.Payload, &timeNs); err != nil {
			return nil, err
		}
		if err := e.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("event %d id: %w", e.Sequence, err)
		}
		e.Timestamp = time.Unix(0, timeNs).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadEventsFrom loads journal rows with sequence >= fromSequence.
func (s *sqlStore) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_id, sequence, event_type, actor, request_id, payload, time_ns
		FROM %s
		WHERE sequence >= %s
		ORDER BY sequence ASC
		LIMIT %s`, s.d.events, s.d.bind(1), s.d.bind(2)), fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("load events from %d: %w", fromSequence, err)
	}
	return s.scanEvents(rows)
}

// LatestSequence returns the highest journaled sequence, 0 when empty.
func (s *sqlStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(sequence) FROM %s`, s.d.events)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

func (s *sqlStore) FindRequest(ctx context.Context, requestID string) ([]EventRow, error) {
	if requestID == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_id, sequence, event_type, actor, request_id, payload, time_ns
		FROM %s
		WHERE request_id = %s
		ORDER BY sequence ASC`, s.d.events, s.d.bind(1)), requestID)
	if err != nil {
		return nil, fmt.Errorf("find request %s: %w", requestID, err)
	}
	return s.scanEvents(rows)
}

// SaveSnapshot stores an unverified snapshot. A second snapshot at the same
// sequence replaces the first.
func (s *sqlStore) SaveSnapshot(ctx context.Context, snap SnapshotRow) error {
	b := s.d.bind
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(snapshot_id, sequence, data, state_hash, prev_hash, format_version, size_bytes, verified, created_ns)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (sequence) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			data = excluded.data,
			state_hash = excluded.state_hash,
			prev_hash = excluded.prev_hash,
			size_bytes = excluded.size_bytes,
			verified = excluded.verified,
			created_ns = excluded.created_ns`,
		s.d.snapshots, b(1), b(2), b(3), b(4), b(5), b(6), b(7), b(8), b(9)),
		snap.ID.String(), snap.Sequence, snap.Data, snap.StateHash, snap.PrevHash,
		snapshotFormatVersion, len(snap.Data), false, snap.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return nil
}

func (s *sqlStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET verified = %s WHERE sequence = %s`,
		s.d.snapshots, s.d.bind(1), s.d.bind(2)), true, sequence)
	if err != nil {
		return fmt.Errorf("mark snapshot %d verified: %w", sequence, err)
	}
	return nil
}

func (s *sqlStore) LoadLatestSnapshot(ctx context.Context) (*SnapshotRow, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT snapshot_id, sequence, data, state_hash, prev_hash, verified, created_ns
		FROM %s
		WHERE verified = %s
		ORDER BY sequence DESC
		LIMIT 1`, s.d.snapshots, s.d.bind(1)), true)

	var (
		snap      SnapshotRow
		id        string
		createdNs int64
	)
	err := row.Scan(&id, &snap.Sequence, &snap.Data, &snap.StateHash, &snap.PrevHash, &snap.Verified, &createdNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := snap.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, fmt.Errorf("snapshot %d id: %w", snap.Sequence, err)
	}
	snap.CreatedAt = time.Unix(0, createdNs).UTC()
	return &snap, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the migrator and tests.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}
