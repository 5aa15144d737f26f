package telemetry_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/MegaGrindStone/chat-search/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	events []telemetry.Event
}

func (r *recorder) Emit(_ context.Context, e telemetry.Event) {
	r.events = append(r.events, e)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := telemetry.Multi{a, telemetry.Nop{}, b}

	m.Emit(context.Background(), telemetry.New(telemetry.EventToolExec, map[string]any{"tool_name": "arxiv"}))

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Equal(t, "arxiv", b.events[0].Fields["tool_name"])
	assert.False(t, a.events[0].Time.IsZero())
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	telemetry.NewLog(logger).Emit(context.Background(),
		telemetry.New(telemetry.EventAgentRun, map[string]any{"iterations": 3}))

	out := buf.String()
	assert.Contains(t, out, "agent_run")
	assert.Contains(t, out, "iterations=3")
	assert.Contains(t, out, "module=telemetry")
}
