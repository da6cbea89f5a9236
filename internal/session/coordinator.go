// Package session coordinates one record-then-transcribe run: it starts capture,
// waits for the first stop request, finalizes the recording, transcribes it and
// writes exactly one result record.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-record/internal/capture"
	"github.com/loqalabs/loqa-record/internal/latch"
	"github.com/loqalabs/loqa-record/internal/protocol"
	"github.com/loqalabs/loqa-record/internal/stt"
	"github.com/loqalabs/loqa-record/internal/trigger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-record/session"

// SourceContext is the stop source recorded when Run's context ends first.
const SourceContext = "context"

// Config holds the per-session parameters.
type Config struct {
	ID         string
	SampleRate int
	Channels   int
	Model      string
	// Device is empty for auto-detection by the engine.
	Device   string
	Language string
	// TranscribeTimeout bounds the engine call when positive. Zero means no limit.
	TranscribeTimeout time.Duration
}

// Capturer is the audio capture collaborator.
type Capturer interface {
	Start(sampleRate, channels int) error
	Finalize(ctx context.Context) (capture.Result, error)
}

// Emitter is the machine-readable event stream.
type Emitter interface {
	Ready(ctx context.Context, message string) error
	Status(ctx context.Context, message string, fields map[string]any) error
	Result(ctx context.Context, res protocol.Result) error
}

type Coordinator struct {
	cfg      Config
	capture  Capturer
	engine   stt.Engine
	emitter  Emitter
	triggers []trigger.Trigger
	latch    *latch.Latch
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *sessionMetrics
	phase    atomic.Int32
	final    protocol.Result
}

type Option func(*Coordinator)

// WithTriggers sets the stop sources raced against each other.
func WithTriggers(triggers ...trigger.Trigger) Option {
	return func(c *Coordinator) { c.triggers = append(c.triggers, triggers...) }
}

func New(cfg Config, capturer Capturer, engine stt.Engine, emitter Emitter, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		capture: capturer,
		engine:  engine,
		emitter: emitter,
		latch:   latch.New(),
		logger:  logger.With(slog.String("component", "session"), slog.String("session_id", cfg.ID)),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	m, err := newSessionMetrics(otel.Meter(instrumentationName))
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
		m = noopMetrics()
	}
	c.metrics = m
	return c
}

// Phase returns the current state. Safe for concurrent use.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// Stop claims the stop latch on behalf of source. It reports whether this call
// won; the shutdown itself always runs on Run's goroutine.
func (c *Coordinator) Stop(source string) bool {
	return c.latch.Claim(source)
}

// Run drives the session to a terminal phase and returns the result record with
// the process exit code. Every failure, including a panic in a collaborator,
// resolves to a result record.
func (c *Coordinator) Run(ctx context.Context) (res protocol.Result, code int) {
	ctx, span := c.tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", c.cfg.ID),
		attribute.String("session.model", c.cfg.Model),
		attribute.Int("audio.sample_rate", c.cfg.SampleRate),
		attribute.Int("audio.channels", c.cfg.Channels),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session panicked", slog.Any("panic", r))
			if c.final.Type == protocol.KindResult {
				res, code = c.final, exitCode(c.final)
				return
			}
			c.phase.Store(int32(PhaseFailed))
			res, code = c.finish(ctx, protocol.Result{Error: fmt.Sprintf("Internal error: %v", r)}, "internal")
		}
	}()

	if err := c.capture.Start(c.cfg.SampleRate, c.cfg.Channels); err != nil {
		c.transition(PhaseFailed)
		return c.finish(ctx, protocol.Result{Error: startMessage(err)}, "start")
	}
	c.transition(PhaseRecording)
	c.status(ctx, "Recording started", nil)
	c.ready(ctx, "Recording... Send SIGINT/SIGTERM or STOP to stop")

	// Triggers outlive the wait so that late requests are absorbed and logged
	// as duplicates until Run returns.
	triggerCtx, cancelTriggers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTriggers()
	for _, t := range c.triggers {
		go t.Run(triggerCtx, c.latch)
	}

	source := c.wait(ctx)

	// The pipeline must complete even when ctx is what stopped the wait.
	return c.shutdown(context.WithoutCancel(ctx), source)
}

func (c *Coordinator) wait(ctx context.Context) string {
	_, span := c.tracer.Start(ctx, "session.wait")
	defer span.End()

	select {
	case <-c.latch.Done():
	case <-ctx.Done():
		c.latch.Claim(SourceContext)
		<-c.latch.Done()
	}
	source := c.latch.Source()
	span.SetAttributes(attribute.String("stop.source", source))
	c.logger.Info("stop latched", slog.String("source", source))
	return source
}

func (c *Coordinator) shutdown(ctx context.Context, source string) (protocol.Result, int) {
	c.transition(PhaseStopping)
	c.metrics.stop(ctx, source)
	c.status(ctx, "Stop event detected, processing...", nil)
	c.status(ctx, "Stopping recording...", map[string]any{"source": source})

	rec, err := c.finalize(ctx)
	if err != nil {
		c.transition(PhaseFailed)
		return c.finish(ctx, protocol.Result{Error: finalizeMessage(err)}, "finalize")
	}
	c.metrics.recorded.Record(ctx, rec.Duration)
	c.status(ctx, "Recording saved to "+rec.Path, map[string]any{"duration": rec.Duration})

	recording := &protocol.Recording{
		Duration:   rec.Duration,
		SampleRate: rec.SampleRate,
		Channels:   rec.Channels,
	}
	c.transition(PhaseTranscribing)
	tr, err := c.transcribe(ctx, rec.Path)

	out := protocol.Result{
		AudioPath: rec.Path,
		Recording: recording,
		Model:     c.cfg.Model,
		Device:    tr.Device,
	}
	if err != nil {
		c.transition(PhaseFailed)
		out.Error = "Transcription failed: " + err.Error()
		return c.finish(ctx, out, "transcribe")
	}

	c.transition(PhaseDone)
	out.Success = true
	out.Text = tr.Text
	out.Language = tr.Language
	out.Duration = tr.Duration
	out.Segments = tr.Segments
	if out.Segments == nil {
		out.Segments = []protocol.Segment{}
	}
	out.Words = tr.Words()
	if tr.Model != "" {
		out.Model = tr.Model
	}
	return c.finish(ctx, out, "")
}

func (c *Coordinator) finalize(ctx context.Context) (capture.Result, error) {
	ctx, span := c.tracer.Start(ctx, "session.finalize")
	defer span.End()

	rec, err := c.capture.Finalize(ctx)
	if err == nil && (rec.Duration <= 0 || rec.Path == "") {
		err = capture.ErrEmptyRecording
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("finalize failed", slogError(err))
		return rec, err
	}
	span.SetAttributes(attribute.Float64("recording.duration", rec.Duration))
	return rec, nil
}

func (c *Coordinator) transcribe(ctx context.Context, path string) (stt.Result, error) {
	ctx, span := c.tracer.Start(ctx, "session.transcribe")
	defer span.End()

	if c.cfg.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
		defer cancel()
	}

	start := time.Now()
	tr, err := c.engine.Transcribe(ctx, stt.Request{
		AudioPath: path,
		Model:     c.cfg.Model,
		Device:    c.cfg.Device,
		Language:  c.cfg.Language,
		Progress:  func(msg string) { c.status(ctx, msg, nil) },
	})
	c.metrics.transcribe.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("stt.device", tr.Device))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("transcription failed", slogError(err))
		return tr, err
	}
	c.logger.Info("transcription complete",
		slog.Duration("latency", time.Since(start)),
		slog.Int("segments", len(tr.Segments)),
		slog.String("device", tr.Device))
	return tr, nil
}

func (c *Coordinator) finish(ctx context.Context, res protocol.Result, failedStage string) (protocol.Result, int) {
	res.Type = protocol.KindResult
	res.SessionID = c.cfg.ID
	res.Success = res.Success && c.Phase() == PhaseDone
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	if err := c.emitter.Result(ctx, res); err != nil {
		c.logger.Error("failed to write result", slogError(err))
	}
	c.final = res

	span := trace.SpanFromContext(ctx)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	c.metrics.outcome(ctx, res.Success, failedStage)
	return res, exitCode(res)
}

func (c *Coordinator) transition(to Phase) {
	from := c.Phase()
	if !canTransition(from, to) {
		panic(fmt.Sprintf("invalid session transition %s -> %s", from, to))
	}
	c.phase.Store(int32(to))
	c.logger.Debug("phase changed", slog.String("from", from.String()), slog.String("to", to.String()))
}

func (c *Coordinator) status(ctx context.Context, message string, fields map[string]any) {
	if err := c.emitter.Status(ctx, message, fields); err != nil {
		c.logger.Warn("failed to emit status", slogError(err))
	}
}

func (c *Coordinator) ready(ctx context.Context, message string) {
	if err := c.emitter.Ready(ctx, message); err != nil {
		c.logger.Warn("failed to emit ready", slogError(err))
	}
}

func startMessage(err error) string {
	var startErr *capture.StartError
	if errors.As(err, &startErr) {
		err = startErr.Err
	}
	return "Failed to start recording: " + err.Error()
}

func finalizeMessage(err error) string {
	var persistErr *capture.PersistError
	switch {
	case errors.Is(err, capture.ErrEmptyRecording):
		return "No audio data recorded"
	case errors.As(err, &persistErr):
		return "Failed to save audio: " + persistErr.Err.Error()
	default:
		return "Failed to finalize recording: " + err.Error()
	}
}

func exitCode(res protocol.Result) int {
	if res.Success {
		return 0
	}
	return 1
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
