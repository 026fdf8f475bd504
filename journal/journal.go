// Package journal stores session transcripts in SQLite so past sessions can
// be inspected after the process exits.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sragss/echogent/agentloop"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_transcript_created ON transcript(created_at);
`

// Journal is an agentloop.Recorder backed by a SQLite file.
type Journal struct {
	db *sql.DB
}

var _ agentloop.Recorder = (*Journal)(nil)

// Open opens or creates the journal at path and applies the schema.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores msg at position seq. Re-recording a position replaces it.
func (j *Journal) Record(ctx context.Context, sessionID string, seq int, msg agentloop.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode transcript entry: %w", err)
	}
	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO transcript (session_id, seq, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, seq) DO UPDATE SET kind = excluded.kind, payload = excluded.payload, created_at = excluded.created_at`,
		sessionID, seq, string(msg.Kind), string(payload), created.UTC())
	if err != nil {
		return fmt.Errorf("record transcript entry: %w", err)
	}
	return nil
}

// Load returns a session's transcript in order. An unknown session yields an
// empty slice.
func (j *Journal) Load(ctx context.Context, sessionID string) ([]agentloop.Message, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT payload FROM transcript WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var msgs []agentloop.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg agentloop.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("decode transcript entry: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SessionSummary describes one recorded session.
type SessionSummary struct {
	ID        string
	Entries   int
	StartedAt time.Time
	UpdatedAt time.Time
}

// Sessions lists recorded sessions, most recently updated first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		 FROM transcript GROUP BY session_id ORDER BY MAX(created_at) DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var started, updated any
		if err := rows.Scan(&s.ID, &s.Entries, &started, &updated); err != nil {
			return nil, err
		}
		if s.StartedAt, err = asTime(started); err != nil {
			return nil, err
		}
		if s.UpdatedAt, err = asTime(updated); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Resume resolves ref to a recorded session and returns its ID and
// transcript. ref is a session ID or "last" for the most recently updated one.
func (j *Journal) Resume(ctx context.Context, ref string) (string, []agentloop.Message, error) {
	id := ref
	if ref == "last" {
		sessions, err := j.Sessions(ctx, 1)
		if err != nil {
			return "", nil, err
		}
		if len(sessions) == 0 {
			return "", nil, errors.New("journal has no recorded sessions")
		}
		id = sessions[0].ID
	}
	msgs, err := j.Load(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if len(msgs) == 0 {
		return "", nil, fmt.Errorf("no recorded session %q", id)
	}
	return id, msgs, nil
}

// Aggregates lose the DATETIME column type, so the driver may hand back
// either a time.Time or its text form.
func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{
			"2006-01-02 15:04:05.999999999-07:00",
			time.RFC3339Nano,
			"2006-01-02 15:04:05.999999999",
			"2006-01-02 15:04:05",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", t)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, errors.New("unexpected timestamp type")
	}
}
