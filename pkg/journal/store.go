// Package journal persists bus events durably in SQLite so a crashed run
// still leaves a queryable record of what happened.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed event journal keyed by (run_id, seq).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle, for tests and shared pools.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS events (
        run_id    TEXT NOT NULL,
        seq       INTEGER NOT NULL,
        type      TEXT NOT NULL,
        trace_id  TEXT,
        phase     TEXT,
        level     TEXT,
        timestamp REAL NOT NULL,
        payload   JSON,
        PRIMARY KEY (run_id, seq)
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Append inserts one event row. The (run_id, seq) primary key makes a
// replayed duplicate an error rather than a silent second row.
func (s *Store) Append(ctx context.Context, runID string, seq uint64, eventType, traceID, phase, level string, timestamp float64, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, type, trace_id, phase, level, timestamp, payload)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, eventType, traceID, phase, level, timestamp, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("journal: insert event seq=%d: %w", seq, err)
	}
	return nil
}

// Row is one journaled event.
type Row struct {
	RunID     string
	Seq       uint64
	Type      string
	TraceID   string
	Phase     string
	Level     string
	Timestamp float64
	Payload   map[string]any
}

// EventsForRun returns a run's events in sequence order.
func (s *Store) EventsForRun(ctx context.Context, runID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, type, trace_id, phase, level, timestamp, payload
         FROM events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: query run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var (
			r           Row
			traceID     sql.NullString
			phase       sql.NullString
			level       sql.NullString
			payloadJSON sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Type, &traceID, &phase, &level, &r.Timestamp, &payloadJSON); err != nil {
			return nil, err
		}
		r.TraceID = traceID.String
		r.Phase = phase.String
		r.Level = level.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			_ = json.Unmarshal([]byte(payloadJSON.String), &r.Payload)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountForRun returns the number of journaled events for a run.
func (s *Store) CountForRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journal: count run %s: %w", runID, err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
