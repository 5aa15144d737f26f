package handlers

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/agent"
	"github.com/MegaGrindStone/chat-search/internal/models"
	"github.com/MegaGrindStone/chat-search/internal/session"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// reply is the state of an assistant bubble while the agent works. Every SSE update carries the whole
// state.
type reply struct {
	ID    string
	Steps []models.Step

	Content template.HTML
	Error   string

	StreamingState string
}

// SSE event types for real-time updates.
var (
	messagesSSEType     = sse.Type("messages")
	closeMessageSSEType = sse.Type("closeMessage")
)

// HandleChats processes a submitted chat message. It appends the message to the caller's transcript,
// renders the user bubble and a loading assistant bubble, and runs the agent in the background. The
// agent's steps and final reply are streamed through Server-Sent Events on the topic of the assistant
// message.
//
// The handler expects a "message" form field. It responds with 400 for an empty message and with 409
// when the session already has a request in flight, and with 503 once the server is shutting down.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if !m.runs.add() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	started := false
	defer func() {
		if !started {
			m.runs.done()
		}
	}()

	id := m.sessionID(w, r)

	var ctx context.Context
	var cancel context.CancelFunc
	if m.runTimeout > 0 {
		ctx, cancel = context.WithTimeout(m.ctx, m.runTimeout)
	} else {
		ctx, cancel = context.WithCancel(m.ctx)
	}

	run, err := m.sessions.Begin(id, cancel)
	if err != nil {
		cancel()
		if errors.Is(err, session.ErrBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		m.logger.Error("Failed to begin run",
			slog.String("sessionID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	um := models.NewMessage(models.RoleUser, msg)
	transcript, apiKey, err := m.prepareRun(id, um)
	if err != nil {
		cancel()
		m.sessions.End(id, run)
		m.logger.Error("Failed to prepare run",
			slog.String("sessionID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	aiMsgID := uuid.New().String()

	started = true
	go m.chat(ctx, cancel, chatRun{
		sessionID:  id,
		run:        run,
		aiMsgID:    aiMsgID,
		apiKey:     apiKey,
		transcript: transcript,
	})

	userMsg, err := renderMessage(um, models.StreamingStateEnded)
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("messageID", um.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "user_message", userMsg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = m.templates.ExecuteTemplate(w, "ai_message", reply{
		ID:             aiMsgID,
		StreamingState: models.StreamingStateLoading,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) prepareRun(id string, um models.Message) (models.Transcript, string, error) {
	if err := m.sessions.Append(id, um); err != nil {
		return nil, "", err
	}
	transcript, err := m.sessions.Messages(id)
	if err != nil {
		return nil, "", err
	}
	apiKey, err := m.sessions.APIKey(id)
	if err != nil {
		return nil, "", err
	}
	return transcript, apiKey, nil
}

type chatRun struct {
	sessionID  string
	run        uint64
	aiMsgID    string
	apiKey     string
	transcript models.Transcript
}

func (m Main) chat(ctx context.Context, cancel context.CancelFunc, cr chatRun) {
	defer m.runs.done()
	defer cancel()
	defer m.sessions.End(cr.sessionID, cr.run)
	// Ensure SSE connection cleanup on function exit
	defer func() {
		e := &sse.Message{Type: closeMessageSSEType}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, messageIDTopic(cr.aiMsgID))
	}()

	logger := m.logger.With(slog.String("sessionID", cr.sessionID), slog.String("messageID", cr.aiMsgID))
	rep := reply{
		ID:             cr.aiMsgID,
		StreamingState: models.StreamingStateStreaming,
	}

	for st, err := range m.agent.Run(ctx, cr.apiKey, cr.transcript) {
		if err != nil {
			m.handleRunError(ctx, logger, cr, rep, err)
			return
		}

		logger.Debug("Agent step", slog.String("kind", string(st.Kind)), slog.String("tool", st.Tool))

		if st.Kind != models.StepFinal {
			rep.Steps = append(rep.Steps, st)
			m.publishReply(logger, rep)
			continue
		}

		am := models.Message{
			ID:        cr.aiMsgID,
			Role:      models.RoleAssistant,
			Content:   st.Text,
			Timestamp: time.Now(),
		}
		if err := m.sessions.AppendReply(cr.sessionID, cr.run, am); err != nil {
			logger.Warn("Dropped agent reply", slog.String(errLoggerKey, err.Error()))
			return
		}

		content, err := models.RenderMarkdown(st.Text)
		if err != nil {
			logger.Error("Failed to render reply", slog.String(errLoggerKey, err.Error()))
			content = template.HTML(template.HTMLEscapeString(st.Text))
		}
		rep.Content = content
		rep.StreamingState = models.StreamingStateEnded
		m.publishReply(logger, rep)
		return
	}

	if ctx.Err() != nil {
		logger.Info("Agent run cancelled", slog.String("reason", context.Cause(ctx).Error()))
	}
}

// handleRunError surfaces a failed run. Agent errors are appended to the transcript; any other error is
// only shown on the pending bubble.
func (m Main) handleRunError(ctx context.Context, logger *slog.Logger, cr chatRun, rep reply, err error) {
	rep.StreamingState = models.StreamingStateEnded

	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		logger.Warn("Agent error", slog.String(errLoggerKey, err.Error()))

		am := models.Message{
			ID:        cr.aiMsgID,
			Role:      models.RoleAssistant,
			Content:   agentErr.Error(),
			Timestamp: time.Now(),
		}
		if err := m.sessions.AppendReply(cr.sessionID, cr.run, am); err != nil {
			logger.Warn("Dropped agent error", slog.String(errLoggerKey, err.Error()))
			return
		}
		rep.Error = agentErr.Error()
		m.publishReply(logger, rep)
		return
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Info("Agent run cancelled")
		return
	}

	logger.Error("Agent run failed", slog.String(errLoggerKey, err.Error()))
	rep.Error = err.Error()
	m.publishReply(logger, rep)
}

func (m Main) publishReply(logger *slog.Logger, rep reply) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "ai_message_content", rep); err != nil {
		logger.Error("Failed to execute ai_message_content template", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(sb.String())
	if err := m.sseSrv.Publish(&msg, messageIDTopic(rep.ID)); err != nil {
		logger.Error("Failed to publish message", slog.String(errLoggerKey, err.Error()))
	}
}
