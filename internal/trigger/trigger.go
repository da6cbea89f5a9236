// Package trigger implements the concurrent stop sources of a recording session.
// A trigger only ever claims the stop latch; it never drives the shutdown itself.
package trigger

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const (
	SourceSignal     = "signal"
	SourceStdin      = "stdin"
	SourceStdinEOF   = "stdin-eof"
	SourceStdinError = "stdin-error"

	// StopKeyword is the stdin command that ends a recording.
	StopKeyword = "STOP"
)

// Claimer is satisfied by *latch.Latch.
type Claimer interface {
	Claim(source string) bool
}

// Trigger races to claim the stop latch until ctx is done.
type Trigger interface {
	Name() string
	Run(ctx context.Context, c Claimer)
}

// IsStopCommand reports whether line is the stop keyword, ignoring case and
// surrounding whitespace.
func IsStopCommand(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), StopKeyword)
}

// Signals claims on SIGINT or SIGTERM. While it is registered, repeated deliveries
// are absorbed instead of terminating the process.
type Signals struct {
	ch     <-chan os.Signal
	stop   func()
	logger *slog.Logger
}

// NewSignals registers for SIGINT and SIGTERM. Call Stop once the session is over.
func NewSignals(logger *slog.Logger) *Signals {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	s := FromChannel(ch, logger)
	s.stop = func() { signal.Stop(ch) }
	return s
}

// FromChannel builds a signal trigger over an arbitrary delivery channel.
func FromChannel(ch <-chan os.Signal, logger *slog.Logger) *Signals {
	return &Signals{
		ch:     ch,
		stop:   func() {},
		logger: logger.With(slog.String("component", "signal-trigger")),
	}
}

func (s *Signals) Name() string { return SourceSignal }

func (s *Signals) Run(ctx context.Context, c Claimer) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-s.ch:
			if !ok {
				return
			}
			if c.Claim(SourceSignal) {
				s.logger.Info("stop requested", slog.String("signal", sig.String()))
				continue
			}
			s.logger.Debug("duplicate stop request ignored", slog.String("signal", sig.String()))
		}
	}
}

// Stop unregisters the signal handler.
func (s *Signals) Stop() {
	s.stop()
}

// Stdin reads lines until the stop keyword, end-of-input or a read error.
type Stdin struct {
	r      io.Reader
	logger *slog.Logger
}

func NewStdin(r io.Reader, logger *slog.Logger) *Stdin {
	return &Stdin{r: r, logger: logger.With(slog.String("component", "stdin-trigger"))}
}

func (s *Stdin) Name() string { return SourceStdin }

// Run blocks on reads; a pending read is not interruptible, so the goroutine may
// outlive ctx until the process exits. Lines of any length are accepted.
func (s *Stdin) Run(ctx context.Context, c Claimer) {
	s.logger.Debug("stdin monitor started")
	reader := bufio.NewReader(s.r)
	for {
		line, err := reader.ReadString('\n')
		if ctx.Err() != nil {
			return
		}
		if line != "" {
			if IsStopCommand(line) {
				s.claim(c, SourceStdin)
				return
			}
			s.logger.Debug("stdin received", slog.Int("bytes", len(line)))
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			s.claim(c, SourceStdinEOF)
			return
		}
		s.logger.Warn("stdin read error", slogError(err))
		s.claim(c, SourceStdinError)
		return
	}
}

func (s *Stdin) claim(c Claimer, source string) {
	if c.Claim(source) {
		s.logger.Info("stop requested", slog.String("source", source))
		return
	}
	s.logger.Debug("duplicate stop request ignored", slog.String("source", source))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
