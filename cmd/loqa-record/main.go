package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-record/internal/bus"
	"github.com/loqalabs/loqa-record/internal/capture"
	"github.com/loqalabs/loqa-record/internal/config"
	"github.com/loqalabs/loqa-record/internal/events"
	"github.com/loqalabs/loqa-record/internal/eventstore"
	"github.com/loqalabs/loqa-record/internal/natsserver"
	"github.com/loqalabs/loqa-record/internal/protocol"
	"github.com/loqalabs/loqa-record/internal/runtime"
	"github.com/loqalabs/loqa-record/internal/session"
	"github.com/loqalabs/loqa-record/internal/stt"
	"github.com/loqalabs/loqa-record/internal/trigger"
)

var version = "0.1.0-dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type cliFlags struct {
	configPath  string
	model       string
	device      string
	sampleRate  int
	channels    int
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, *flag.FlagSet, error) {
	var f cliFlags
	fs := flag.NewFlagSet("loqa-record", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: loqa-record [flags] <output.wav>\n\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&f.model, "model", "base", "Whisper model size ("+strings.Join(config.Models, "|")+")")
	fs.StringVar(&f.device, "device", "", "Compute device ("+strings.Join(config.Devices, "|")+"), auto-detected when empty")
	fs.IntVar(&f.sampleRate, "sample-rate", 16000, "Capture sample rate in Hz")
	fs.IntVar(&f.channels, "channels", 1, "Number of capture channels")
	fs.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	err := fs.Parse(args)
	return f, fs, err
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if f.showVersion {
		fmt.Fprintln(stdout, version)
		return exitOK
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "loqa-record: exactly one output path is required")
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "loqa-record: %v\n", err)
		return exitUsage
	}
	cfg.Session.OutputPath = fs.Arg(0)
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "model":
			cfg.Session.Model = f.model
		case "device":
			cfg.Session.Device = f.device
		case "sample-rate":
			cfg.Session.SampleRate = f.sampleRate
		case "channels":
			cfg.Session.Channels = f.channels
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "loqa-record: invalid configuration: %v\n", err)
		return exitUsage
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))

	// Registered before any slow setup so an early Ctrl-C becomes a stop request.
	signals := trigger.NewSignals(logger)
	defer signals.Stop()

	sessionID := uuid.NewString()
	logger = logger.With(slog.String("session_id", sessionID))
	ctx := context.Background()

	tel, err := runtime.SetupTelemetry(ctx, cfg, logger)
	if err != nil {
		logger.Warn("telemetry disabled", slog.String("error", err.Error()))
	}

	var sinks []events.Sink
	journal, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		logger.Warn("session journal disabled", slog.String("error", err.Error()))
		journal = nil
	} else if err := journal.AppendSession(ctx, sessionID, cfg.Session.OutputPath, cfg.Session.Model); err != nil {
		logger.Warn("failed to journal session", slog.String("error", err.Error()))
	} else {
		sinks = append(sinks, journal)
	}

	var (
		busClient *bus.Client
		embedded  *natsserver.EmbeddedServer
	)
	if cfg.Bus.Enabled {
		busCfg := cfg.Bus
		embedded, err = natsserver.Start(busCfg, logger)
		if err != nil {
			logger.Warn("embedded NATS server disabled", slog.String("error", err.Error()))
		} else if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(ctx, busCfg, logger)
		if err != nil {
			logger.Warn("bus mirror disabled", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, busClient)
		}
	}

	emitter := events.New(stdout, logger, events.WithSessionID(sessionID), events.WithSinks(sinks...))

	recorder := capture.NewRecorder(inputDevice(cfg.Capture), cfg.Session.OutputPath, logger,
		capture.WithFramesPerBuffer(cfg.Capture.FramesPerBuffer),
		capture.WithWarningHandler(func(status capture.Status) {
			_ = emitter.Warning(ctx, "Audio status: " + string(status))
		}),
	)

	code := exitFailure
	engine, err := stt.New(cfg.Transcriber, stt.NewProber())
	if err != nil {
		_ = emitter.Result(ctx, protocol.Result{Error: "Failed to initialize transcriber: " + err.Error()})
	} else {
		coord := session.New(session.Config{
			ID:                sessionID,
			SampleRate:        cfg.Session.SampleRate,
			Channels:          cfg.Session.Channels,
			Model:             cfg.Session.Model,
			Device:            cfg.Session.Device,
			Language:          cfg.Transcriber.Language,
			TranscribeTimeout: time.Duration(cfg.Transcriber.TimeoutMS) * time.Millisecond,
		}, recorder, engine, emitter, logger,
			session.WithTriggers(signals, trigger.NewStdin(stdin, logger)),
		)

		var status *runtime.StatusServer
		if cfg.Telemetry.StatusBind != "" {
			status = runtime.NewStatusServer(cfg.Telemetry.StatusBind, func() (string, bool) {
				p := coord.Phase()
				return p.String(), !p.Terminal()
			}, tel.Metrics(), logger)
			if err := status.Start(); err != nil {
				logger.Warn("status server disabled", slog.String("error", err.Error()))
				status = nil
			}
		}

		_, code = coord.Run(ctx)

		if status != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := status.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown error", slog.String("error", err.Error()))
			}
			cancel()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	busClient.Close()
	embedded.Shutdown()
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Warn("journal close error", slog.String("error", err.Error()))
		}
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", slog.String("error", err.Error()))
	}
	return code
}

func inputDevice(cfg config.CaptureConfig) capture.Device {
	if cfg.Source == "silence" {
		return capture.Silence{}
	}
	return capture.NewPortAudio()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
