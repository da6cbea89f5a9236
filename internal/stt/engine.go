package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-record/internal/config"
	"github.com/loqalabs/loqa-record/internal/protocol"
)

// Request describes one transcription of a finished audio artifact.
type Request struct {
	AudioPath string
	Model     string
	// Device is empty to let the engine probe for one.
	Device   string
	Language string
	// Progress, when set, receives human-readable stage messages.
	Progress func(message string)
}

func (r Request) progress(message string) {
	if r.Progress != nil {
		r.Progress(message)
	}
}

// Result captures engine output.
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments []protocol.Segment
	Device   string
	Model    string
}

// Words flattens the per-segment words in order.
func (r Result) Words() []protocol.Word {
	words := []protocol.Word{}
	for _, seg := range r.Segments {
		words = append(words, seg.Words...)
	}
	return words
}

// Engine abstracts speech-to-text backends.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// Error reports a failed transcription.
type Error struct {
	Err error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// New builds the engine selected by cfg.Mode.
func New(cfg config.TranscriberConfig, prober *Prober) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(prober), nil
	case "exec":
		return NewExecEngine(cfg, prober)
	default:
		return nil, fmt.Errorf("unknown transcriber mode %q", cfg.Mode)
	}
}
