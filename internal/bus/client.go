// Package bus mirrors session records onto NATS subjects.
package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-record/internal/config"
	"github.com/loqalabs/loqa-record/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection used as an event sink.
type Client struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := []nats.Option{
		nats.Name("loqa-record"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log = log.With(slog.String("component", "bus"))
	log.Info("connected to NATS", slog.String("servers", url))

	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "record.session"
	}
	return &Client{conn: conn, prefix: prefix, log: log}, nil
}

// Subject returns the subject a record of kind is published on.
func (c *Client) Subject(sessionID string, kind protocol.Kind) string {
	suffix := protocol.SubjectSuffixEvent
	if kind == protocol.KindResult {
		suffix = protocol.SubjectSuffixResult
	}
	return fmt.Sprintf("%s.%s.%s", c.prefix, sessionID, suffix)
}

// Record publishes payload with the record kind in a header. The result record
// is flushed so it reaches the server before the process exits.
func (c *Client) Record(ctx context.Context, sessionID string, kind protocol.Kind, payload []byte, at time.Time) error {
	msg := nats.NewMsg(c.Subject(sessionID, kind))
	msg.Header.Set("Loqa-Record-Type", string(kind))
	msg.Header.Set("Loqa-Record-Timestamp", at.UTC().Format(time.RFC3339Nano))
	msg.Data = payload
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if kind == protocol.KindResult {
		if err := c.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("flush result: %w", err)
		}
	}
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.log.Warn("drain failed", slog.String("error", err.Error()))
	}
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}
