package handlers

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chatsearch "github.com/MegaGrindStone/chat-search"
	"github.com/MegaGrindStone/chat-search/internal/models"
	"github.com/MegaGrindStone/chat-search/internal/tools"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tmaxmax/go-sse"
)

// Agent answers a transcript, yielding the intermediate steps of its work and finally one step of kind
// models.StepFinal. Errors of type *agent.Error are shown to the user and appended to the transcript;
// any other error is only reported transiently.
type Agent interface {
	Run(ctx context.Context, apiKey string, transcript models.Transcript) iter.Seq2[models.Step, error]
}

// Sessions manages the per-browser state: the API key, the transcript, and the single active request.
type Sessions interface {
	Create() string
	Get(id string) bool
	APIKey(id string) (string, error)
	SetAPIKey(id, key string) error
	Messages(id string) (models.Transcript, error)
	Append(id string, msg models.Message) error
	Begin(id string, cancel context.CancelFunc) (uint64, error)
	AppendReply(id string, run uint64, msg models.Message) error
	End(id string, run uint64)
	Reset(id string) error
}

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, and interactions between the Agent and Sessions components.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	agent    Agent
	sessions Sessions
	tools    []tools.Tool

	runTimeout time.Duration

	// runs are derived from ctx so Shutdown can stop them.
	ctx    context.Context
	cancel context.CancelFunc
	runs   *runGroup

	logger *slog.Logger
}

// Option configures Main.
type Option func(*Main)

const (
	sessionCookieName = "session_id"
	errLoggerKey      = "error"
)

// WithRunTimeout bounds every agent run. A non-positive duration leaves runs unbounded.
func WithRunTimeout(d time.Duration) Option {
	return func(m *Main) {
		m.runTimeout = d
	}
}

// replayTTL is how long the last update of a message stays available to clients subscribing late.
const replayTTL = 10 * time.Minute

// NewMain creates a new Main instance with the provided Agent and Sessions implementations. It
// initializes the SSE server and parses the required HTML templates from the embedded filesystem. toolList
// is only used to describe the agent's tools through the API.
func NewMain(agent Agent, sessions Sessions, toolList []tools.Tool, logger *slog.Logger, opts ...Option) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chatsearch.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := Main{
		sseSrv: &sse.Server{
			Provider: &sse.Joe{
				Replayer: newLastUpdateReplayer(replayTTL),
			},
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// We create a message-specific topic if the client requests updates for a particular message
				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		agent:     agent,
		sessions:  sessions,
		tools:     toolList,
		ctx:       ctx,
		cancel:    cancel,
		runs:      &runGroup{},
		logger:    logger.With(slog.String("module", "main")),
	}
	for _, opt := range opts {
		opt(&m)
	}

	return m, nil
}

// Router returns the HTTP handler serving every route of the UI.
func (m Main) Router() (http.Handler, error) {
	staticFS, err := fs.Sub(chatsearch.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static files: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	r.Get("/", m.HandleHome)
	r.Post("/settings", m.HandleSettings)
	r.Post("/chats", m.HandleChats)
	r.Post("/reset", m.HandleReset)
	r.Get("/sse", m.HandleSSE)
	r.Get("/health", m.HandleHealth)
	r.Get("/api/tools", m.HandleTools)

	return r, nil
}

// HandleSSE subscribes the client to the server-sent events of the UI. The optional "message_id" query
// parameter selects the updates of one assistant message.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func messageIDTopic(messageID string) string {
	return messageTopicPrefix + messageID
}

// Shutdown gracefully terminates the Main instance. It cancels the in-flight agent runs and waits for
// them, then broadcasts a close message to all connected clients and waits up to 5 seconds for
// connections to terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.runs.close()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.runs.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	e := &sse.Message{Type: sse.Type("closeChat")}
	// SSE events need a data field, so the close event carries an empty one
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// sessionID returns the session of the request, creating one and setting its cookie when the request
// carries none or an expired one.
func (m Main) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && m.sessions.Get(c.Value) {
		return c.Value
	}

	id := m.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	m.logger.Debug("Created session", slog.String("sessionID", id))
	return id
}

// runGroup tracks the background agent runs. Once closed it refuses new runs, so wait never races with
// a run being added.
type runGroup struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (g *runGroup) add() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *runGroup) done() { g.wg.Done() }

func (g *runGroup) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *runGroup) wait() { g.wg.Wait() }
