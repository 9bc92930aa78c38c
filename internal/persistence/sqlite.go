package persistence

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the journal and snapshots in a single local file.
type SQLiteStore struct {
	*sqlStore
}

// OpenSQLite opens (or creates) the database and its schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the worker is the only writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{sqlStore: &sqlStore{db: db, d: sqliteDialect}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("INFO: sqlite store opened: %s", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id   TEXT    NOT NULL,
			sequence   INTEGER PRIMARY KEY,
			event_type TEXT    NOT NULL,
			actor      TEXT    NOT NULL DEFAULT '',
			request_id TEXT    NOT NULL DEFAULT '',
			payload    BLOB    NOT NULL,
			time_ns    INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_id ON events(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_request ON events(request_id) WHERE request_id <> ''`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_id    TEXT    NOT NULL,
			sequence       INTEGER PRIMARY KEY,
			data           BLOB    NOT NULL,
			state_hash     BLOB    NOT NULL,
			prev_hash      BLOB    NOT NULL,
			format_version INTEGER NOT NULL,
			size_bytes     INTEGER NOT NULL,
			verified       INTEGER NOT NULL DEFAULT 0,
			created_ns     INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}
