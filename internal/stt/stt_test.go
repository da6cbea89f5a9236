package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-record/internal/config"
)

func fixedProber(goos, goarch string, cuda bool) *Prober {
	return &Prober{
		LookPath: func(file string) (string, error) {
			if cuda {
				return "/usr/bin/" + file, nil
			}
			return "", errors.New("not found")
		},
		Run:    func(context.Context, string, ...string) error { return nil },
		GOOS:   goos,
		GOARCH: goarch,
	}
}

func TestProberResolve(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		prober    *Prober
		requested string
		want      string
	}{
		{name: "explicit wins", prober: fixedProber("linux", "amd64", true), requested: "cpu", want: "cpu"},
		{name: "cuda preferred", prober: fixedProber("linux", "amd64", true), want: DeviceCUDA},
		{name: "apple silicon", prober: fixedProber("darwin", "arm64", false), want: DeviceMPS},
		{name: "intel mac", prober: fixedProber("darwin", "amd64", false), want: DeviceCPU},
		{name: "plain linux", prober: fixedProber("linux", "amd64", false), want: DeviceCPU},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.prober.Resolve(ctx, tc.requested); got != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.requested, got, tc.want)
			}
		})
	}
}

func TestProberCUDAProbeFails(t *testing.T) {
	p := fixedProber("linux", "amd64", true)
	p.Run = func(context.Context, string, ...string) error { return errors.New("no devices") }
	if got := p.Resolve(context.Background(), ""); got != DeviceCPU {
		t.Fatalf("expected cpu fallback, got %q", got)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write helper: %v", err)
	}
	return path
}

func TestExecEngineTranscribe(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, `echo "$@" > `+argsFile+`
cat <<'JSON'
{"text":" hello world ","language":"en","duration":2.0,
 "segments":[{"id":0,"start":0.0,"end":2.0,"text":" hello world ","avg_logprob":-0.25,
   "words":[{"word":" hello","start":0.0,"end":0.8,"probability":0.9},{"word":" world","start":0.9,"end":2.0,"probability":0.8}]}]}
JSON
`)
	engine, err := NewExecEngine(config.TranscriberConfig{Mode: "exec", Command: script, Language: "en"}, fixedProber("linux", "amd64", false))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	var progress []string
	res, err := engine.Transcribe(context.Background(), Request{
		AudioPath: "/tmp/rec.wav",
		Model:     "base",
		Progress:  func(msg string) { progress = append(progress, msg) },
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello world" || res.Language != "en" || res.Duration != 2.0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Device != DeviceCPU || res.Model != "base" {
		t.Fatalf("expected resolved device and model reported, got %q/%q", res.Device, res.Model)
	}
	if len(res.Segments) != 1 || res.Segments[0].Confidence != -0.25 || res.Segments[0].Text != "hello world" {
		t.Fatalf("unexpected segments %+v", res.Segments)
	}
	words := res.Words()
	if len(words) != 2 || words[0].Word != "hello" || words[1].Probability != 0.8 {
		t.Fatalf("unexpected words %+v", words)
	}
	if len(progress) != 2 || progress[0] != "Loading Whisper model 'base' on cpu..." || progress[1] != "Transcribing audio..." {
		t.Fatalf("unexpected progress %v", progress)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	want := "--audio /tmp/rec.wav --model base --device cpu --language en"
	if strings.TrimSpace(string(args)) != want {
		t.Fatalf("unexpected helper args %q, want %q", strings.TrimSpace(string(args)), want)
	}
}

func TestExecEngineFailure(t *testing.T) {
	script := writeScript(t, "echo 'CUDA out of memory' >&2\nexit 3\n")
	engine, err := NewExecEngine(config.TranscriberConfig{Mode: "exec", Command: script}, fixedProber("linux", "amd64", false))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := engine.Transcribe(context.Background(), Request{AudioPath: "x.wav", Model: "tiny", Device: "cuda"})
	var sttErr *Error
	if !errors.As(err, &sttErr) {
		t.Fatalf("expected stt.Error, got %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if res.Device != "cuda" {
		t.Fatalf("expected requested device kept on failure, got %q", res.Device)
	}
}

func TestExecEngineBadJSON(t *testing.T) {
	script := writeScript(t, "echo 'not json'\n")
	engine, err := NewExecEngine(config.TranscriberConfig{Mode: "exec", Command: script}, fixedProber("linux", "amd64", false))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Transcribe(context.Background(), Request{AudioPath: "x.wav", Model: "tiny"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewExecEngineEmptyCommand(t *testing.T) {
	if _, err := NewExecEngine(config.TranscriberConfig{Mode: "exec", Command: "   "}, nil); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := New(config.TranscriberConfig{Mode: "cloud"}, nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func writeSilentWav(t *testing.T, path string, samples int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: 16000}, Data: make([]int, samples), SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func TestMockEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	writeSilentWav(t, path, 32000)

	engine, err := New(config.TranscriberConfig{Mode: "mock"}, fixedProber("darwin", "arm64", false))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := engine.Transcribe(context.Background(), Request{AudioPath: path, Model: "tiny"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Duration != 2.0 || res.Device != DeviceMPS || res.Model != "tiny" {
		t.Fatalf("unexpected mock result %+v", res)
	}
	if res.Text != "[mock transcript duration=2.00s]" {
		t.Fatalf("unexpected mock text %q", res.Text)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Transcribe(ctx, Request{AudioPath: path, Model: "tiny"}); err == nil {
		t.Fatal("expected cancellation error")
	}
}
