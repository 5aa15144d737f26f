// Package telemetry defines the events emitted while the agent works and the sinks that receive them.
package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Event is a single telemetry record.
type Event struct {
	Name   string         `json:"event"`
	Time   time.Time      `json:"ts"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Emitter receives telemetry events. Implementations must be safe for concurrent use and must not block
// the caller for long.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Event names.
const (
	EventToolExec = "tool_exec"
	EventAgentRun = "agent_run"
)

// New returns an event stamped with the current time.
func New(name string, fields map[string]any) Event {
	return Event{
		Name:   name,
		Time:   time.Now().UTC(),
		Fields: fields,
	}
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, Event) {}

// Log writes events to a slog logger at debug level.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log emitter.
func NewLog(logger *slog.Logger) Log {
	return Log{logger: logger.With(slog.String("module", "telemetry"))}
}

// Emit implements Emitter.
func (l Log) Emit(ctx context.Context, e Event) {
	attrs := make([]any, 0, len(e.Fields)+1)
	attrs = append(attrs, slog.Time("ts", e.Time))
	for k, v := range e.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.DebugContext(ctx, e.Name, attrs...)
}

// Multi fans events out to several emitters.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		em.Emit(ctx, e)
	}
}
