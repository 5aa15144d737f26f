package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/telemetry"
	"github.com/nats-io/nats.go"
)

// DefaultTelemetrySubject is the NATS subject prefix events are published under when none is configured.
const DefaultTelemetrySubject = "chatsearch.telemetry"

// Publisher is the part of a NATS connection used to publish events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS implements telemetry.Emitter by publishing events as JSON to "<subject>.<event name>".
type NATS struct {
	conn    Publisher
	subject string

	logger *slog.Logger
}

// ConnectNATS connects to the NATS server at url, retrying in the background on failure.
func ConnectNATS(url, token string, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("chat-search"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String(errLoggerKey, err.Error()))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// NewNATS creates an emitter publishing on conn. An empty subject selects DefaultTelemetrySubject.
func NewNATS(conn Publisher, subject string, logger *slog.Logger) NATS {
	if subject == "" {
		subject = DefaultTelemetrySubject
	}
	return NATS{
		conn:    conn,
		subject: subject,
		logger:  logger.With(slog.String("module", "nats")),
	}
}

// Emit implements telemetry.Emitter. Publish failures are logged and dropped.
func (n NATS) Emit(_ context.Context, e telemetry.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		n.logger.Warn("Failed to marshal event",
			slog.String("event", e.Name),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	if err := n.conn.Publish(n.subject+"."+e.Name, payload); err != nil {
		n.logger.Warn("Failed to publish event",
			slog.String("event", e.Name),
			slog.String(errLoggerKey, err.Error()))
	}
}
