package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// Tool is a named capability the agent can invoke. Input is the raw "Action Input" chosen by the model,
// either a plain string or a JSON object matching Schema.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Call(ctx context.Context, input string) (string, error)
}

// ErrInvalidInput is returned by tools when the model supplied unusable input. The agent reports such
// errors back to the model as an observation instead of aborting the run.
var ErrInvalidInput = errors.New("invalid tool input")

// Options holds the parameters shared by the lookup tools.
type Options struct {
	// TopKResults is the number of results fetched per query.
	TopKResults int
	// DocContentCharsMax is the maximum number of characters returned to the agent.
	DocContentCharsMax int

	// BaseURL overrides the API endpoint of the tool.
	BaseURL string
	Client  *http.Client
}

const (
	defaultTopKResults        = 1
	defaultDocContentCharsMax = 200
	maxQueryLength            = 300

	userAgent = "chat-search/0.1 (+https://github.com/MegaGrindStone/chat-search)"
)

func (o Options) withDefaults(baseURL string) Options {
	if o.TopKResults <= 0 {
		o.TopKResults = defaultTopKResults
	}
	if o.DocContentCharsMax <= 0 {
		o.DocContentCharsMax = defaultDocContentCharsMax
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return o
}

// QueryInput is the structured input accepted by the lookup tools.
type QueryInput struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"The search query."`
}

var queryInputSchema = GenerateSchema[QueryInput]()

// GenerateSchema derives the JSON schema of T, inlining all definitions.
func GenerateSchema[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Errorf("failed to marshal schema: %w", err))
	}
	return schema
}

// parseQuery extracts the query from the model's action input. JSON objects are decoded as QueryInput,
// anything else is taken verbatim.
func parseQuery(input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "{") {
		var qi QueryInput
		if err := json.Unmarshal([]byte(input), &qi); err == nil {
			input = strings.TrimSpace(qi.Query)
		}
	}
	if input == "" {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	return input, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func truncateQuery(q string) string {
	return Truncate(q, maxQueryLength)
}

// Registry is the ordered set of tools available to the agent.
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry returns a registry holding the given tools. Later tools with a duplicate name replace
// earlier ones in place.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, t := range ts {
		r.Add(t)
	}
	return r
}

// Add registers t.
func (r *Registry) Add(t Tool) {
	if idx, ok := r.index[t.Name()]; ok {
		r.tools[idx] = t
		return
	}
	r.index[t.Name()] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	idx, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.tools[idx], true
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name()
	}
	return names
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

func doGet(ctx context.Context, client *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	return do(client, req)
}

func do(client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp, nil
}
