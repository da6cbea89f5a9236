package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-record/internal/config"
	"github.com/loqalabs/loqa-record/internal/protocol"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionEphemeral})
	ctx := context.Background()
	if err := es.AppendSession(ctx, "s", "out.wav", "base"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Record(ctx, "s", protocol.KindStatus, []byte(`{}`), time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected nothing from ephemeral store, got %v %v", events, err)
	}
}

func TestRecordJournalsSession(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: RetentionSession}
	es := openStore(t, cfg)
	ctx := context.Background()

	sessionID := "session-123"
	if err := es.AppendSession(ctx, sessionID, "/tmp/out.wav", "base"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	now := time.Now()
	if err := es.Record(ctx, sessionID, protocol.KindStatus, []byte(`{"type":"status","message":"Recording started"}`), now); err != nil {
		t.Fatalf("record status: %v", err)
	}
	if err := es.Record(ctx, sessionID, protocol.KindResult, []byte(`{"type":"result","success":true}`), now.Add(time.Second)); err != nil {
		t.Fatalf("record result: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "status" || events[1].Type != "result" {
		t.Fatalf("unexpected event order %s, %s", events[0].Type, events[1].Type)
	}

	sess, err := es.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.AudioPath != "/tmp/out.wav" || sess.Model != "base" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Success == nil || !*sess.Success || sess.FinishedAt == nil {
		t.Fatalf("expected completed successful session, got %+v", sess)
	}
}

func TestRecordKeepsTraceID(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: RetentionSession}
	es := openStore(t, cfg)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("eventstore-test").Start(context.Background(), "session.run")
	defer span.End()

	if err := es.AppendSession(ctx, "traced", "/tmp/out.wav", "base"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Record(ctx, "traced", protocol.KindStatus, []byte(`{"type":"status"}`), time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "traced", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	want := span.SpanContext().TraceID().String()
	if events[0].TraceID == "" || events[0].TraceID != want {
		t.Fatalf("expected trace id %s, got %q", want, events[0].TraceID)
	}
}

func TestCompleteUnknownSession(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: RetentionSession}
	es := openStore(t, cfg)
	if err := es.CompleteSession(context.Background(), "missing", false); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	cfg := config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionMode: RetentionPersistent,
		RetentionDays: 1,
		MaxSessions:   1,
	}
	es := openStore(t, cfg)
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "old-session", "old.wav", "base"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Type: "status"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-session", "new.wav", "base"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	if _, err := es.GetSession(ctx, "new-session"); err != nil {
		t.Fatalf("expected new session kept: %v", err)
	}
}
