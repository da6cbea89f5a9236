// Package runtime hosts the process-level plumbing around a recording session:
// telemetry providers and the optional status HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// PhaseFunc reports the session phase name and whether the session is still
// able to make progress.
type PhaseFunc func() (phase string, ready bool)

// StatusServer exposes /healthz, /readyz and /metrics for the lifetime of a session.
type StatusServer struct {
	bind       string
	phase      PhaseFunc
	metrics    http.Handler
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

func NewStatusServer(bind string, phase PhaseFunc, metrics http.Handler, logger *slog.Logger) *StatusServer {
	return &StatusServer{
		bind:    bind,
		phase:   phase,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "status")),
	}
}

// Start binds the listener and serves in the background.
func (s *StatusServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.bind, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", slogError(err))
		}
	}()
	s.logger.Info("status server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when bind used port 0.
func (s *StatusServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *StatusServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	phase, ready := s.phase()
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(phase))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(phase))
}
