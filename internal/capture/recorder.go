package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrEmptyRecording is returned by Finalize when no frames were buffered.
	ErrEmptyRecording = errors.New("no audio data recorded")
	ErrNotStarted     = errors.New("recorder not started")
	ErrFinalized      = errors.New("recorder already finalized")
	ErrStarted        = errors.New("recorder already started")
)

// StartError reports that the input device could not be opened or started.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "start capture: " + e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

// PersistError reports that the recording could not be written to disk.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}
func (e *PersistError) Unwrap() error { return e.Err }

// Result describes a finalized recording.
type Result struct {
	Path       string
	Duration   float64
	SampleRate int
	Channels   int
	Samples    int
}

// Status carries device-reported conditions such as input overflow. Empty means ok.
type Status string

// FrameFunc receives interleaved 16-bit samples. The slice is only valid for the
// duration of the call.
type FrameFunc func(in []int16, status Status)

// Stream is an open input stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Device opens input streams that deliver frames through a callback.
type Device interface {
	Open(sampleRate, channels, framesPerBuffer int, fn FrameFunc) (Stream, error)
}

// Recorder owns the frame buffer between Start and Finalize. Finalize is the only
// point where the buffered samples leave the recorder.
type Recorder struct {
	device          Device
	path            string
	framesPerBuffer int
	logger          *slog.Logger
	onWarning       func(Status)

	mu         sync.Mutex
	stream     Stream
	samples    []int16
	recording  bool
	finalized  bool
	sampleRate int
	channels   int
}

type Option func(*Recorder)

// WithFramesPerBuffer sets the device callback size.
func WithFramesPerBuffer(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.framesPerBuffer = n
		}
	}
}

// WithWarningHandler is invoked from the device callback for non-empty statuses.
func WithWarningHandler(fn func(Status)) Option {
	return func(r *Recorder) { r.onWarning = fn }
}

func NewRecorder(device Device, path string, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		device:          device,
		path:            path,
		framesPerBuffer: 1024,
		logger:          logger.With(slog.String("component", "capture")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates the output directory and begins buffering frames.
func (r *Recorder) Start(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return &StartError{Err: fmt.Errorf("invalid format %d Hz x %d", sampleRate, channels)}
	}

	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return ErrFinalized
	}
	if r.stream != nil {
		r.mu.Unlock()
		return ErrStarted
	}
	r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &StartError{Err: fmt.Errorf("create output dir: %w", err)}
		}
	}

	stream, err := r.device.Open(sampleRate, channels, r.framesPerBuffer, r.handleFrames)
	if err != nil {
		return &StartError{Err: err}
	}

	// The callback may fire as soon as the stream starts, so the lock is not held
	// across stream.Start.
	r.mu.Lock()
	r.sampleRate = sampleRate
	r.channels = channels
	r.samples = nil
	r.recording = true
	r.stream = stream
	r.mu.Unlock()

	if err := stream.Start(); err != nil {
		r.mu.Lock()
		r.recording = false
		r.stream = nil
		r.mu.Unlock()
		_ = stream.Close()
		return &StartError{Err: err}
	}
	r.logger.Info("capture started", slog.Int("sample_rate", sampleRate), slog.Int("channels", channels))
	return nil
}

func (r *Recorder) handleFrames(in []int16, status Status) {
	if status != "" && r.onWarning != nil {
		r.onWarning(status)
	}
	r.mu.Lock()
	if r.recording {
		r.samples = append(r.samples, in...)
	}
	r.mu.Unlock()
}

// Finalize stops the stream, takes the buffered samples and writes them as WAV.
func (r *Recorder) Finalize(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return Result{}, ErrFinalized
	}
	if r.stream == nil {
		r.mu.Unlock()
		return Result{}, ErrNotStarted
	}
	r.finalized = true
	r.recording = false
	stream := r.stream
	r.mu.Unlock()

	if err := stream.Stop(); err != nil {
		r.logger.Warn("stop stream", slogError(err))
	}
	if err := stream.Close(); err != nil {
		r.logger.Warn("close stream", slogError(err))
	}

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	sampleRate, channels := r.sampleRate, r.channels
	r.mu.Unlock()

	res := Result{Path: r.path, SampleRate: sampleRate, Channels: channels}
	if len(samples) == 0 {
		return res, ErrEmptyRecording
	}
	if err := ctx.Err(); err != nil {
		return res, &PersistError{Path: r.path, Err: err}
	}
	if err := writeWav(r.path, samples, sampleRate, channels); err != nil {
		return res, &PersistError{Path: r.path, Err: err}
	}

	res.Samples = len(samples)
	res.Duration = float64(len(samples)/channels) / float64(sampleRate)
	r.logger.Info("recording saved", slog.String("path", r.path), slog.Float64("duration", res.Duration))
	return res, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
