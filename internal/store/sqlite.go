// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/klangwald/aircap/internal/session"
)

// SQLiteStore persists sessions and stage events in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database, applies the connection pragmas and runs
// migrations. busy_timeout avoids "database locked" errors between the
// recorder goroutine and API reads.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		stream TEXT NOT NULL,
		stage TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		raw_path TEXT NOT NULL DEFAULT '',
		artifact_path TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		transfer_confirmed INTEGER NOT NULL DEFAULT 0,
		duration_limit_ns INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL,
		attempts_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS stage_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		stream TEXT NOT NULL,
		stage TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_stage_events_session ON stage_events(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *session.Record) error {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	attempts, err := json.Marshal(rec.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	if rec.Attempts == nil {
		attempts = []byte("{}")
	}

	var endedAt any
	if rec.EndedAt != nil {
		endedAt = rec.EndedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, stream, stage, started_at, ended_at, raw_path,
			artifact_path, last_error, transfer_confirmed, duration_limit_ns,
			config_json, attempts_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			ended_at = excluded.ended_at,
			raw_path = excluded.raw_path,
			artifact_path = excluded.artifact_path,
			last_error = excluded.last_error,
			transfer_confirmed = excluded.transfer_confirmed,
			attempts_json = excluded.attempts_json`,
		rec.ID, rec.Config.Name, string(rec.Stage),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), endedAt,
		rec.RawPath, rec.ArtifactPath, rec.LastError,
		boolToInt(rec.TransferConfirmed), int64(rec.DurationLimit),
		string(cfg), string(attempts))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev session.StageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_events (session_id, stream, stage, timestamp, attempt, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Stream, string(ev.Stage),
		ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.Attempt, ev.Error)
	if err != nil {
		return fmt.Errorf("append event for %s: %w", ev.SessionID, err)
	}
	return nil
}

const sessionColumns = `id, stream, stage, started_at, ended_at, raw_path,
	artifact_path, last_error, transfer_confirmed, duration_limit_ns,
	config_json, attempts_json`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, terminalOnly bool) ([]*session.Record, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if terminalOnly {
		query += ` WHERE stage IN ('COMPLETED', 'FAILED', 'CANCELLED')`
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*session.Record
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, id string) ([]session.StageEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, stream, stage, timestamp, attempt, error
		FROM stage_events WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []session.StageEvent
	for rows.Next() {
		var ev session.StageEvent
		var stage, ts string
		if err := rows.Scan(&ev.SessionID, &ev.Stream, &stage, &ts, &ev.Attempt, &ev.Error); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Stage = session.Stage(stage)
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse event timestamp %q: %w", ts, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Record, error) {
	var rec session.Record
	var stage, startedAt, cfgJSON, attemptsJSON string
	var endedAt sql.NullString
	var confirmed int
	var limitNS int64

	err := row.Scan(&rec.ID, &rec.Config.Name, &stage, &startedAt, &endedAt,
		&rec.RawPath, &rec.ArtifactPath, &rec.LastError, &confirmed,
		&limitNS, &cfgJSON, &attemptsJSON)
	if err != nil {
		return nil, err
	}

	rec.Stage = session.Stage(stage)
	rec.TransferConfirmed = confirmed != 0
	rec.DurationLimit = time.Duration(limitNS)

	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at %q: %w", endedAt.String, err)
		}
		rec.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(cfgJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal([]byte(attemptsJSON), &rec.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
