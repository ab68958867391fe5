// Package store persists finalized sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	startedAt    REAL NOT NULL,
	endedAt      REAL NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	leadId       TEXT NOT NULL DEFAULT '',
	leadScore    INTEGER NOT NULL DEFAULT 0,
	starredHints TEXT NOT NULL DEFAULT '[]',
	stats        TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS segments (
	sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	speaker   TEXT NOT NULL,
	text      TEXT NOT NULL,
	startSec  REAL NOT NULL,
	endSec    REAL NOT NULL,
	PRIMARY KEY (sessionId, seq)
);
CREATE TABLE IF NOT EXISTS entities (
	sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	text      TEXT NOT NULL,
	label     TEXT NOT NULL,
	score     REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS battlecards (
	sessionId  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	competitor TEXT NOT NULL,
	card       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(startedAt);
`

// Store is a collab.Persister on database/sql.
type Store struct {
	db *sql.DB
}

// SessionSummary is one row of the recent sessions listing.
type SessionSummary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Summary   string    `json:"summary"`
	LeadID    string    `json:"lead_id,omitempty"`
	LeadScore int       `json:"lead_score"`
}

// Open opens dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"+schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession writes a finalized session and its children in one transaction.
// Saving the same id again replaces the earlier record.
func (s *Store) SaveSession(ctx context.Context, r collab.SessionRecord) error {
	ctx, span := trace.StartSpan(ctx, "store.save_session")
	defer span.End()

	if err := s.save(ctx, r); err != nil {
		span.SetError(err)
		return apperrors.Finalization(apperrors.CodePersist, err, "save session")
	}
	trace.Logger(ctx).Debug("session persisted", "session_id", r.ID, "segments", len(r.Segments))
	return nil
}

func (s *Store) save(ctx context.Context, r collab.SessionRecord) error {
	starred, err := json.Marshal(nonNil(r.StarredHints))
	if err != nil {
		return err
	}
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, startedAt, endedAt, summary, leadId, leadScore, starredHints, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, unixFromTime(r.StartedAt), unixFromTime(r.EndedAt), r.Summary, r.LeadID, r.LeadScore,
		string(starred), string(stats)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i, seg := range r.Segments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segments (sessionId, seq, speaker, text, startSec, endSec) VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, i, seg.Speaker, seg.Text, seg.Start, seg.End); err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
	}
	for _, e := range r.Entities {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (sessionId, text, label, score) VALUES (?, ?, ?, ?)
		`, r.ID, e.Text, e.Label, e.Score); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	}
	for _, b := range r.Battlecards {
		card, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO battlecards (sessionId, competitor, card) VALUES (?, ?, ?)
		`, r.ID, b.Competitor, string(card)); err != nil {
			return fmt.Errorf("insert battlecard: %w", err)
		}
	}
	return tx.Commit()
}

// Session loads one record. It returns nil, nil when id is unknown.
func (s *Store) Session(ctx context.Context, id string) (*collab.SessionRecord, error) {
	var r collab.SessionRecord
	var startedAt, endedAt float64
	var starred, stats string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, startedAt, endedAt, summary, leadId, leadScore, starredHints, stats
		FROM sessions WHERE id = ?
	`, id).Scan(&r.ID, &startedAt, &endedAt, &r.Summary, &r.LeadID, &r.LeadScore, &starred, &stats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	r.StartedAt = timeFromUnix(startedAt)
	r.EndedAt = timeFromUnix(endedAt)
	if err := json.Unmarshal([]byte(starred), &r.StarredHints); err != nil {
		return nil, fmt.Errorf("decode starred hints: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &r.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	if r.Segments, err = s.segments(ctx, id); err != nil {
		return nil, err
	}
	if r.Entities, err = s.entities(ctx, id); err != nil {
		return nil, err
	}
	if r.Battlecards, err = s.battlecards(ctx, id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) segments(ctx context.Context, id string) ([]collab.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT speaker, text, startSec, endSec FROM segments WHERE sessionId = ? ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []collab.Segment
	for rows.Next() {
		var seg collab.Segment
		if err := rows.Scan(&seg.Speaker, &seg.Text, &seg.Start, &seg.End); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *Store) entities(ctx context.Context, id string) ([]collab.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, label, score FROM entities WHERE sessionId = ? ORDER BY rowid ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []collab.Entity
	for rows.Next() {
		var e collab.Entity
		if err := rows.Scan(&e.Text, &e.Label, &e.Score); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) battlecards(ctx context.Context, id string) ([]collab.Battlecard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT card FROM battlecards WHERE sessionId = ? ORDER BY rowid ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query battlecards: %w", err)
	}
	defer rows.Close()

	var out []collab.Battlecard
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan battlecard: %w", err)
		}
		var b collab.Battlecard
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("decode battlecard: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Recent lists the latest sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, startedAt, endedAt, summary, leadId, leadScore
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		var startedAt, endedAt float64
		if err := rows.Scan(&ss.ID, &startedAt, &endedAt, &ss.Summary, &ss.LeadID, &ss.LeadScore); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.StartedAt = timeFromUnix(startedAt)
		ss.EndedAt = timeFromUnix(endedAt)
		out = append(out, ss)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
