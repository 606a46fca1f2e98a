// Package audit keeps a persistent trail of toggle attempts.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/toggled/internal/clock"
)

// DefaultRetentionDays is used when no retention is configured.
const DefaultRetentionDays = 90

// Entry is one toggle attempt and its outcome.
type Entry struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"request_id,omitempty"`
	Entity    string        `json:"entity"`
	Type      string        `json:"type"`
	Requested bool          `json:"requested"`
	Outcome   string        `json:"outcome"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Actor     string        `json:"actor,omitempty"`
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Entity  string
	Outcome string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Store provides persistent storage for audit entries.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	clock         clock.Clock
	retentionDays int
}

// NewStore opens (creating if needed) the audit database at dbPath.
// ":memory:" gives a private in-memory store.
func NewStore(dbPath string, retentionDays int, clk clock.Clock) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// A second pooled connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS toggle_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			request_id TEXT,
			entity TEXT NOT NULL,
			type TEXT NOT NULL,
			requested INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			message TEXT,
			error TEXT,
			duration_ms INTEGER DEFAULT 0,
			actor TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_toggle_audit_ts ON toggle_audit(ts);
		CREATE INDEX IF NOT EXISTS idx_toggle_audit_entity ON toggle_audit(entity);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &Store{
		db:            db,
		clock:         clock.OrReal(clk),
		retentionDays: retentionDays,
	}, nil
}

// Write persists an entry. A zero timestamp is set to now.
func (s *Store) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO toggle_audit (ts, request_id, entity, type, requested, outcome, message, error, duration_ms, actor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.UnixMilli(), e.RequestID, e.Entity, e.Type, e.Requested, e.Outcome,
		e.Message, e.Error, e.Duration.Milliseconds(), e.Actor)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching f, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.Entity != "" {
		where = append(where, "entity = ?")
		args = append(args, f.Entity)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UnixMilli())
	}

	query := `SELECT id, ts, request_id, entity, type, requested, outcome, message, error, duration_ms, actor
		FROM toggle_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, durationMS int64
		var requestID, message, errText, actor sql.NullString

		err := rows.Scan(&e.ID, &ts, &requestID, &e.Entity, &e.Type, &e.Requested,
			&e.Outcome, &message, &errText, &durationMS, &actor)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.RequestID = requestID.String
		e.Message = message.String
		e.Error = errText.String
		e.Actor = actor.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune removes entries older than the retention period.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM toggle_audit WHERE ts < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the total number of entries in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM toggle_audit").Scan(&count)
	return count, err
}
