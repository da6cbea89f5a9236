// Package eventstore keeps a local SQLite journal of recording sessions and the
// records each one emitted.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-record/internal/config"
	"github.com/loqalabs/loqa-record/internal/protocol"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionSession    = "session"
	RetentionPersistent = "persistent"
)

// Event is one journaled stream record.
type Event struct {
	ID        int64
	SessionID string
	TraceID   string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Session is the journal row for one run.
type Session struct {
	ID         string
	AudioPath  string
	Model      string
	CreatedAt  time.Time
	FinishedAt *time.Time
	Success    *bool
}

// Store wraps the SQLite journal. In ephemeral mode every method is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == RetentionEphemeral || cfg.RetentionMode == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) enabled() bool {
	return s != nil && s.db != nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    audio_path TEXT,
    model TEXT,
    created_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    success INTEGER
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    trace_id TEXT,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if !s.enabled() {
		return nil
	}
	return s.db.Close()
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sessionID, audioPath, model string) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, audio_path, model, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET audio_path=excluded.audio_path, model=excluded.model`,
		sessionID, audioPath, model, s.clock().UTC())
	return err
}

// CompleteSession stamps the outcome of a session.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, success bool) error {
	if !s.enabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET finished_at = ?, success = ? WHERE session_id = ?`,
		s.clock().UTC(), success, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// AppendEvent writes an event into the journal.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, trace_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.SessionID, evt.TraceID, evt.Type, evt.Payload, evt.CreatedAt.UTC())
	return err
}

// Record journals a stream record; a result record also completes the session.
func (s *Store) Record(ctx context.Context, sessionID string, kind protocol.Kind, payload []byte, at time.Time) error {
	if !s.enabled() {
		return nil
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if err := s.AppendEvent(ctx, Event{
		SessionID: sessionID,
		TraceID:   traceID,
		Type:      string(kind),
		Payload:   payload,
		CreatedAt: at,
	}); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	if kind != protocol.KindResult {
		return nil
	}
	var res struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return s.CompleteSession(ctx, sessionID, res.Success)
}

// GetSession loads a session row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if !s.enabled() {
		return Session{}, errors.New("event store is ephemeral")
	}
	var (
		sess     Session
		created  time.Time
		finished sql.NullTime
		success  sql.NullBool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, audio_path, model, created_at, finished_at, success
		 FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.ID, &sess.AudioPath, &sess.Model, &created, &finished, &success)
	if err != nil {
		return Session{}, err
	}
	sess.CreatedAt = created
	if finished.Valid {
		t := finished.Time
		sess.FinishedAt = &t
	}
	if success.Valid {
		b := success.Bool
		sess.Success = &b
	}
	return sess, nil
}

// ListSessionEvents retrieves up to limit events for a session in insertion order.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, trace_id, event_type, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			traceID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &traceID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TraceID = traceID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention. Session mode keeps only the newest
// max_sessions; persistent mode additionally drops rows older than retention_days.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionMode == RetentionPersistent && s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
