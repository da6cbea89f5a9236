// Package events writes the session's machine-readable record stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-record/internal/protocol"
)

// ErrClosed is returned for any write after the result record.
var ErrClosed = errors.New("event stream closed after result")

// Sink receives a copy of every record after it reaches the stream.
type Sink interface {
	Record(ctx context.Context, sessionID string, kind protocol.Kind, payload []byte, at time.Time) error
}

type flusher interface {
	Flush() error
}

// Emitter writes one JSON object per line and mirrors each record to the
// diagnostic logger. The result record closes the stream.
type Emitter struct {
	mu          sync.Mutex
	out         io.Writer
	logger      *slog.Logger
	sessionID   string
	sinks       []Sink
	sinkTimeout time.Duration
	clock       func() time.Time
	closed      bool
}

type Option func(*Emitter)

func WithSessionID(id string) Option {
	return func(e *Emitter) { e.sessionID = id }
}

func WithSinks(sinks ...Sink) Option {
	return func(e *Emitter) { e.sinks = append(e.sinks, sinks...) }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Emitter) { e.clock = clock }
}

func New(out io.Writer, logger *slog.Logger, opts ...Option) *Emitter {
	e := &Emitter{
		out:         out,
		logger:      logger.With(slog.String("component", "events")),
		sinkTimeout: 2 * time.Second,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) Ready(ctx context.Context, message string) error {
	return e.Emit(ctx, protocol.KindReady, message, nil)
}

func (e *Emitter) Status(ctx context.Context, message string, fields map[string]any) error {
	return e.Emit(ctx, protocol.KindStatus, message, fields)
}

func (e *Emitter) Warning(ctx context.Context, message string) error {
	return e.Emit(ctx, protocol.KindWarning, message, nil)
}

// Emit writes a progress record. Use Result for the terminal record. Sinks see
// ctx, so a span active in ctx is attached to what they persist.
func (e *Emitter) Emit(ctx context.Context, kind protocol.Kind, message string, fields map[string]any) error {
	if kind == protocol.KindResult {
		return fmt.Errorf("result records must go through Result")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	evt := protocol.Event{Type: kind, Message: message, Timestamp: e.clock().UTC(), Fields: fields}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	if err := e.write(data); err != nil {
		return err
	}

	level := slog.LevelInfo
	if kind == protocol.KindWarning {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, message, slog.String("type", string(kind)))
	e.fanout(ctx, kind, data, evt.Timestamp)
	return nil
}

// Result writes the terminal record and closes the stream.
func (e *Emitter) Result(ctx context.Context, res protocol.Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	res.Type = protocol.KindResult
	if res.SessionID == "" {
		res.SessionID = e.sessionID
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = e.clock().UTC()
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	e.closed = true
	if err := e.write(data); err != nil {
		return err
	}

	if res.Success {
		e.logger.InfoContext(ctx, "session result", slog.Bool("success", true), slog.String("language", res.Language))
	} else {
		e.logger.ErrorContext(ctx, "session result", slog.Bool("success", false), slog.String("error", res.Error))
	}
	e.fanout(ctx, protocol.KindResult, data, res.Timestamp)
	return nil
}

// Closed reports whether the result record has been written.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emitter) write(data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := e.out.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if f, ok := e.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush event: %w", err)
		}
	}
	return nil
}

func (e *Emitter) fanout(ctx context.Context, kind protocol.Kind, data []byte, at time.Time) {
	if len(e.sinks) == 0 {
		return
	}
	// Sinks keep the caller's values (the active span) but not its deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sinkTimeout)
	defer cancel()
	for _, sink := range e.sinks {
		if err := sink.Record(ctx, e.sessionID, kind, data, at); err != nil {
			e.logger.Warn("event sink failed", slog.String("type", string(kind)), slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
