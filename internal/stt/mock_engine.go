package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-record/internal/protocol"
)

type mockEngine struct {
	prober *Prober
}

// NewMockEngine returns an engine that describes the artifact instead of
// recognizing speech.
func NewMockEngine(prober *Prober) Engine {
	if prober == nil {
		prober = NewProber()
	}
	return &mockEngine{prober: prober}
}

func (m *mockEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	device := m.prober.Resolve(ctx, req.Device)
	req.progress(fmt.Sprintf("Loading Whisper model '%s' on %s...", req.Model, device))
	if err := ctx.Err(); err != nil {
		return Result{Device: device, Model: req.Model}, &Error{Err: err}
	}

	duration, err := wavDuration(req.AudioPath)
	if err != nil {
		return Result{Device: device, Model: req.Model}, &Error{Err: err}
	}
	req.progress("Transcribing audio...")

	text := fmt.Sprintf("[mock transcript duration=%.2fs]", duration)
	return Result{
		Text:     text,
		Language: "en",
		Duration: duration,
		Device:   device,
		Model:    req.Model,
		Segments: []protocol.Segment{{
			ID:    0,
			Start: 0,
			End:   duration,
			Text:  text,
			Words: []protocol.Word{{Word: text, Start: 0, End: duration, Probability: 1}},
		}},
	}, nil
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%s is not a valid wav file", path)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("read wav duration: %w", err)
	}
	return d.Seconds(), nil
}
