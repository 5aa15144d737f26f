package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/models"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

type homePageData struct {
	Messages  []message
	HasAPIKey bool
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// HandleHome renders the chat page of the caller's session: the settings sidebar and the transcript.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	id := m.sessionID(w, r)

	transcript, err := m.sessions.Messages(id)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("sessionID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	apiKey, err := m.sessions.APIKey(id)
	if err != nil {
		m.logger.Error("Failed to get API key",
			slog.String("sessionID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	msgs := make([]message, len(transcript))
	for i, msg := range transcript {
		msgs[i], err = renderMessage(msg, models.StreamingStateEnded)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	data := homePageData{
		Messages:  msgs,
		HasAPIKey: apiKey != "",
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSettings stores the API key of the settings form in the caller's session.
func (m Main) HandleSettings(w http.ResponseWriter, r *http.Request) {
	id := m.sessionID(w, r)

	apiKey := r.FormValue("api_key")
	if err := m.sessions.SetAPIKey(id, apiKey); err != nil {
		m.logger.Error("Failed to set API key",
			slog.String("sessionID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "api_key_status", apiKey != ""); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleReset cancels the caller's in-flight agent run and starts a fresh transcript.
func (m Main) HandleReset(w http.ResponseWriter, r *http.Request) {
	id := m.sessionID(w, r)

	if err := m.sessions.Reset(id); err != nil {
		m.logger.Error("Failed to reset session",
			slog.String("sessionID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleHealth reports that the server is alive.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleTools lists the tools available to the agent with their input schemas.
func (m Main) HandleTools(w http.ResponseWriter, _ *http.Request) {
	infos := make([]toolInfo, len(m.tools))
	for i, t := range m.tools {
		infos[i] = toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		m.logger.Error("Failed to encode tools", slog.String(errLoggerKey, err.Error()))
	}
}

// renderMessage prepares msg for the templates. Assistant content is markdown, user content is shown
// as typed.
func renderMessage(msg models.Message, streamingState string) (message, error) {
	content := template.HTML(template.HTMLEscapeString(msg.Content))
	if msg.Role == models.RoleAssistant {
		var err error
		content, err = models.RenderMarkdown(msg.Content)
		if err != nil {
			return message{}, err
		}
	}

	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        content,
		Timestamp:      msg.Timestamp,
		StreamingState: streamingState,
	}, nil
}
