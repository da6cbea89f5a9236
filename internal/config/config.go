package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// Models lists the accepted transcription model sizes.
	Models = []string{"tiny", "base", "small", "medium", "large"}
	// Devices lists the accepted compute devices. Empty means auto-detect.
	Devices = []string{"cuda", "mps", "cpu"}
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStderr  bool   `yaml:"trace_stderr"`
	StatusBind   string `yaml:"status_bind"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	Session     SessionConfig     `yaml:"session"`
	Capture     CaptureConfig     `yaml:"capture"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Bus         BusConfig         `yaml:"bus"`
}

type SessionConfig struct {
	OutputPath string `yaml:"output_path"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Model      string `yaml:"model"`
	Device     string `yaml:"device"`
}

type CaptureConfig struct {
	Source          string `yaml:"source"` // portaudio, silence
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

type TranscriberConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	// Embedded starts an in-process server on EmbeddedHost:EmbeddedPort for the
	// lifetime of the session and publishes to it instead of Servers.
	Embedded     bool   `yaml:"embedded"`
	EmbeddedHost string `yaml:"embedded_host"`
	EmbeddedPort int    `yaml:"embedded_port"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-record",
		Environment: "development",
		Session: SessionConfig{
			SampleRate: 16000,
			Channels:   1,
			Model:      "base",
		},
		Capture: CaptureConfig{
			Source:          "portaudio",
			FramesPerBuffer: 1024,
		},
		Transcriber: TranscriberConfig{
			Mode:    "exec",
			Command: "python3 -m loqa_whisper",
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-record.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Bus: BusConfig{
			Servers:        []string{"nats://localhost:4222"},
			SubjectPrefix:  "record.session",
			ConnectTimeout: 2000,
			EmbeddedHost:   "127.0.0.1",
			EmbeddedPort:   4222,
		},
	}
}

// Load reads path (if non-empty) over the defaults and applies LOQA_* env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideInt(&cfg.Session.SampleRate, "LOQA_SESSION_SAMPLE_RATE")
	overrideInt(&cfg.Session.Channels, "LOQA_SESSION_CHANNELS")
	overrideString(&cfg.Session.Model, "LOQA_SESSION_MODEL")
	overrideString(&cfg.Session.Device, "LOQA_SESSION_DEVICE")
	overrideString(&cfg.Capture.Source, "LOQA_CAPTURE_SOURCE")
	overrideInt(&cfg.Capture.FramesPerBuffer, "LOQA_CAPTURE_FRAMES_PER_BUFFER")
	overrideString(&cfg.Transcriber.Mode, "LOQA_TRANSCRIBER_MODE")
	overrideString(&cfg.Transcriber.Command, "LOQA_TRANSCRIBER_COMMAND")
	overrideString(&cfg.Transcriber.Language, "LOQA_TRANSCRIBER_LANGUAGE")
	overrideInt(&cfg.Transcriber.TimeoutMS, "LOQA_TRANSCRIBER_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStderr, "LOQA_TELEMETRY_TRACE_STDERR")
	overrideString(&cfg.Telemetry.StatusBind, "LOQA_TELEMETRY_STATUS_BIND")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.SubjectPrefix, "LOQA_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.EmbeddedHost, "LOQA_BUS_EMBEDDED_HOST")
	overrideInt(&cfg.Bus.EmbeddedPort, "LOQA_BUS_EMBEDDED_PORT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Validate checks the fully merged configuration (file, env and flags).
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.Session.OutputPath == "" {
		return errors.New("session.output_path must not be empty")
	}
	if cfg.Session.SampleRate <= 0 {
		return errors.New("session.sample_rate must be positive")
	}
	if cfg.Session.Channels <= 0 {
		return errors.New("session.channels must be positive")
	}
	if !oneOf(cfg.Session.Model, Models) {
		return fmt.Errorf("session.model must be one of %s", strings.Join(Models, "|"))
	}
	if cfg.Session.Device != "" && !oneOf(cfg.Session.Device, Devices) {
		return fmt.Errorf("session.device must be one of %s", strings.Join(Devices, "|"))
	}
	switch cfg.Capture.Source {
	case "portaudio", "silence":
	default:
		return errors.New("capture.source must be one of portaudio|silence")
	}
	if cfg.Capture.FramesPerBuffer <= 0 {
		return errors.New("capture.frames_per_buffer must be positive")
	}
	switch cfg.Transcriber.Mode {
	case "mock", "exec":
	default:
		return errors.New("transcriber.mode must be one of mock|exec")
	}
	if cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("transcriber.command must be set when mode=exec")
	}
	if cfg.Transcriber.TimeoutMS < 0 {
		return errors.New("transcriber.timeout_ms must be >= 0")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if !cfg.Bus.Embedded && len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty when the bus is enabled")
		}
		if cfg.Bus.Embedded && (cfg.Bus.EmbeddedPort < -1 || cfg.Bus.EmbeddedPort > 65535) {
			return errors.New("bus.embedded_port must be a valid port, or -1 for a random one")
		}
	}
	return nil
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
