// Package fanout republishes stored inbound messages to NATS so other
// services can consume the reconciled feed.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"dmsbridge/internal/bus"
	"dmsbridge/internal/domain"
)

// Envelope wraps a message published on the fan-out subject.
type Envelope struct {
	ID              string                `json:"id"`
	Server          string                `json:"server"`
	TimestampServer int64                 `json:"timestampServer"`
	Message         domain.InboundMessage `json:"message"`
}

// Publisher forwards stored inbound messages.
type Publisher interface {
	Publish(ctx context.Context, msg domain.InboundMessage) error
	Close() error
}

// Nop drops everything. Used when fan-out is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, domain.InboundMessage) error { return nil }
func (Nop) Close() error                                      { return nil }

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type Config struct {
	URL     string
	Subject string
	Name    string
	Logger  *slog.Logger
}

// NATSPublisher publishes envelopes on a single subject.
type NATSPublisher struct {
	nc      conn
	subject string
	server  string
	logger  *slog.Logger
	now     func() time.Time
}

// Connect dials NATS with reconnects enabled.
func Connect(cfg Config) (*NATSPublisher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "fanout")
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("nats connected", "url", nc.ConnectedUrl(), "subject", cfg.Subject)
	return newPublisher(nc, cfg.Subject, logger), nil
}

func newPublisher(nc conn, subject string, logger *slog.Logger) *NATSPublisher {
	host, _ := os.Hostname()
	return &NATSPublisher{nc: nc, subject: subject, server: host, logger: logger, now: time.Now}
}

func (p *NATSPublisher) Publish(ctx context.Context, msg domain.InboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{
		ID:              uuid.NewString(),
		Server:          p.server,
		TimestampServer: p.now().UnixMilli(),
		Message:         msg,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Attach forwards every message.stored event on eb to pub. It returns the
// handler id for bus.Off.
func Attach(eb *bus.EventBus, pub Publisher, logger *slog.Logger) string {
	return eb.On(bus.EventMessageStored, func(e bus.Event) {
		msg, ok := e.Payload["message"].(domain.InboundMessage)
		if !ok {
			return
		}
		if err := pub.Publish(context.Background(), msg); err != nil {
			logger.Warn("fan-out publish failed", "message_id", msg.MessageID, "error", err)
		}
	})
}
