package handlers

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/models"
	"github.com/MegaGrindStone/chat-search/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answeringAgent struct{}

func (answeringAgent) Run(context.Context, string, models.Transcript) iter.Seq2[models.Step, error] {
	return func(yield func(models.Step, error) bool) {
		yield(models.Step{Kind: models.StepFinal, Text: "done"}, nil)
	}
}

// childCountingContext counts the contexts derived from it that are still registered for its
// cancellation. Derived contexts register through AfterFunc and unregister when they are cancelled.
type childCountingContext struct {
	context.Context
	done chan struct{}

	mu   sync.Mutex
	live int
}

func newChildCountingContext() *childCountingContext {
	return &childCountingContext{Context: context.Background(), done: make(chan struct{})}
}

func (c *childCountingContext) Done() <-chan struct{} { return c.done }

func (c *childCountingContext) AfterFunc(func()) func() bool {
	c.mu.Lock()
	c.live++
	c.mu.Unlock()

	var once sync.Once
	return func() bool {
		stopped := false
		once.Do(func() {
			c.mu.Lock()
			c.live--
			c.mu.Unlock()
			stopped = true
		})
		return stopped
	}
}

func (c *childCountingContext) children() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func TestFinishedRunsReleaseContexts(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Minute} {
		t.Run("timeout "+timeout.String(), func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			m, err := NewMain(answeringAgent{}, session.NewStore(time.Hour, logger), nil, logger,
				WithRunTimeout(timeout))
			require.NoError(t, err)
			defer func() { _ = m.Shutdown(context.Background()) }()

			parent := newChildCountingContext()
			m.ctx = parent

			for range 20 {
				req := httptest.NewRequest(http.MethodPost, "/chats",
					strings.NewReader(url.Values{"message": {"Hello"}}.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				w := httptest.NewRecorder()

				m.HandleChats(w, req)
				require.Equal(t, http.StatusOK, w.Code)
			}

			m.runs.wait()
			assert.Equal(t, 0, parent.children())
		})
	}
}

func TestRunGroupRefusesAfterClose(t *testing.T) {
	var g runGroup

	require.True(t, g.add())
	g.close()
	assert.False(t, g.add())

	g.done()
	g.wait()
}
