package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.SampleRate != 16000 || cfg.Session.Channels != 1 {
		t.Fatalf("expected 16000 Hz mono default, got %d/%d", cfg.Session.SampleRate, cfg.Session.Channels)
	}
	if cfg.Session.Model != "base" {
		t.Fatalf("expected base model, got %q", cfg.Session.Model)
	}
	if cfg.Session.Device != "" {
		t.Fatalf("expected device auto-detect by default, got %q", cfg.Session.Device)
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected journal disabled by default, got %q", cfg.EventStore.RetentionMode)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.yaml")
	data := []byte(`session:
  model: small
  device: cpu
  sample_rate: 44100
transcriber:
  mode: mock
bus:
  enabled: true
  servers: ["nats://bus:4222"]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Model != "small" || cfg.Session.Device != "cpu" || cfg.Session.SampleRate != 44100 {
		t.Fatalf("file values not applied: %+v", cfg.Session)
	}
	if cfg.Session.Channels != 1 {
		t.Fatalf("expected default channels kept, got %d", cfg.Session.Channels)
	}
	if !cfg.Bus.Enabled || cfg.Bus.Servers[0] != "nats://bus:4222" {
		t.Fatalf("bus values not applied: %+v", cfg.Bus)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_SESSION_MODEL", "medium")
	t.Setenv("LOQA_SESSION_DEVICE", "mps")
	t.Setenv("LOQA_SESSION_CHANNELS", "2")
	t.Setenv("LOQA_TRANSCRIBER_COMMAND", "whisper-helper --fp16")
	t.Setenv("LOQA_TRANSCRIBER_TIMEOUT_MS", "90000")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Model != "medium" || cfg.Session.Device != "mps" || cfg.Session.Channels != 2 {
		t.Fatalf("expected session overrides, got %+v", cfg.Session)
	}
	if cfg.Transcriber.Command != "whisper-helper --fp16" {
		t.Fatalf("expected command override, got %q", cfg.Transcriber.Command)
	}
	if cfg.Transcriber.TimeoutMS != 90000 {
		t.Fatalf("expected timeout override, got %d", cfg.Transcriber.TimeoutMS)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Session.OutputPath = "out/recording.wav"
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults with output path", mutate: func(*Config) {}},
		{name: "missing output path", mutate: func(c *Config) { c.Session.OutputPath = "" }, wantErr: true},
		{name: "unknown model", mutate: func(c *Config) { c.Session.Model = "huge" }, wantErr: true},
		{name: "unknown device", mutate: func(c *Config) { c.Session.Device = "tpu" }, wantErr: true},
		{name: "explicit device", mutate: func(c *Config) { c.Session.Device = "cuda" }},
		{name: "zero sample rate", mutate: func(c *Config) { c.Session.SampleRate = 0 }, wantErr: true},
		{name: "zero channels", mutate: func(c *Config) { c.Session.Channels = 0 }, wantErr: true},
		{name: "exec without command", mutate: func(c *Config) { c.Transcriber.Command = "" }, wantErr: true},
		{name: "mock without command", mutate: func(c *Config) { c.Transcriber.Mode = "mock"; c.Transcriber.Command = "" }},
		{name: "silence source", mutate: func(c *Config) { c.Capture.Source = "silence" }},
		{name: "unknown source", mutate: func(c *Config) { c.Capture.Source = "line-in" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Telemetry.LogLevel = "loud" }, wantErr: true},
		{name: "bad retention", mutate: func(c *Config) { c.EventStore.RetentionMode = "forever" }, wantErr: true},
		{name: "bus without servers", mutate: func(c *Config) { c.Bus.Enabled = true; c.Bus.Servers = nil }, wantErr: true},
		{name: "embedded bus without servers", mutate: func(c *Config) { c.Bus.Enabled = true; c.Bus.Embedded = true; c.Bus.Servers = nil }},
		{name: "embedded bus bad port", mutate: func(c *Config) { c.Bus.Enabled = true; c.Bus.Embedded = true; c.Bus.EmbeddedPort = 70000 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
