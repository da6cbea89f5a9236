package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-record/internal/config"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{}, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server when disabled, got %v %v", srv, err)
	}
	srv.Shutdown()
}

func TestStartAcceptsClients(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, EmbeddedHost: "127.0.0.1", EmbeddedPort: -1}, newLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	if !nc.IsConnected() {
		t.Fatal("expected connected client")
	}
}
