package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-record/internal/config"
	"github.com/loqalabs/loqa-record/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// execEngine runs an external Whisper helper. The helper receives
// --audio, --model, --device and optionally --language, and prints one JSON
// document on stdout.
type execEngine struct {
	cmd    []string
	cfg    config.TranscriberConfig
	prober *Prober
}

type execResult struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Device   string        `json:"device"`
	Segments []execSegment `json:"segments"`
}

type execSegment struct {
	ID         int             `json:"id"`
	Start      float64         `json:"start"`
	End        float64         `json:"end"`
	Text       string          `json:"text"`
	Confidence *float64        `json:"confidence"`
	AvgLogprob float64         `json:"avg_logprob"`
	Words      []protocol.Word `json:"words"`
}

func NewExecEngine(cfg config.TranscriberConfig, prober *Prober) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	if prober == nil {
		prober = NewProber()
	}
	return &execEngine{cmd: args, cfg: cfg, prober: prober}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	device := e.prober.Resolve(ctx, req.Device)
	req.progress(fmt.Sprintf("Loading Whisper model '%s' on %s...", req.Model, device))

	base := e.cmd[0]
	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", req.AudioPath, "--model", req.Model, "--device", device)
	language := req.Language
	if language == "" {
		language = e.cfg.Language
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	req.progress("Transcribing audio...")
	if err := command.Run(); err != nil {
		return Result{Device: device, Model: req.Model}, &Error{Err: fmt.Errorf("transcriber command failed: %w: %s", err, strings.TrimSpace(stderr.String()))}
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{Device: device, Model: req.Model}, &Error{Err: fmt.Errorf("decode transcriber response: %w", err)}
	}

	res := Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
		Device:   device,
		Model:    req.Model,
		Segments: make([]protocol.Segment, 0, len(resp.Segments)),
	}
	if res.Language == "" {
		res.Language = "unknown"
	}
	if resp.Device != "" {
		res.Device = resp.Device
	}
	for _, s := range resp.Segments {
		seg := protocol.Segment{
			ID:         s.ID,
			Start:      s.Start,
			End:        s.End,
			Text:       strings.TrimSpace(s.Text),
			Confidence: s.AvgLogprob,
			Words:      make([]protocol.Word, 0, len(s.Words)),
		}
		if s.Confidence != nil {
			seg.Confidence = *s.Confidence
		}
		for _, w := range s.Words {
			w.Word = strings.TrimSpace(w.Word)
			seg.Words = append(seg.Words, w)
		}
		res.Segments = append(res.Segments, seg)
	}
	return res, nil
}
