package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/go-mcp"
)

// MCPCaller is the part of an MCP client used by MCP tools.
type MCPCaller interface {
	CallTool(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error)
}

// MCP exposes a tool served by an MCP server to the agent.
type MCP struct {
	client      MCPCaller
	name        string
	description string
	schema      json.RawMessage
}

// NewMCP creates a tool that forwards calls for tool to client.
func NewMCP(client MCPCaller, tool mcp.Tool) (MCP, error) {
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return MCP{}, fmt.Errorf("failed to marshal input schema of %s: %w", tool.Name, err)
	}
	return MCP{
		client:      client,
		name:        tool.Name,
		description: tool.Description,
		schema:      schema,
	}, nil
}

// ListMCPTools returns all tools advertised by an MCP client.
func ListMCPTools(ctx context.Context, client *mcp.Client) ([]Tool, error) {
	res, err := client.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	ts := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		mt, err := NewMCP(client, t)
		if err != nil {
			return nil, err
		}
		ts = append(ts, mt)
	}
	return ts, nil
}

// Name implements Tool.
func (m MCP) Name() string { return m.name }

// Description implements Tool.
func (m MCP) Description() string { return m.description }

// Schema implements Tool.
func (m MCP) Schema() json.RawMessage { return m.schema }

// Call converts input to tool arguments and calls the tool on the MCP server. A result flagged as error
// by the server is returned as an observation prefixed with "Error:".
func (m MCP) Call(ctx context.Context, input string) (string, error) {
	args, err := mcpArguments(input, m.schema)
	if err != nil {
		return "", err
	}

	res, err := m.client.CallTool(ctx, mcp.CallToolParams{
		Name:      m.name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp tool %s call failed: %w", m.name, err)
	}

	var texts []string
	for _, c := range res.Content {
		if c.Type == mcp.ContentTypeText && c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	out := strings.Join(texts, "\n")
	if res.IsError {
		return "Error: " + out, nil
	}
	return out, nil
}

// mcpArguments turns the model's input into a JSON object. A JSON object is passed through; a plain
// string is assigned to the only (or only required) property of the schema.
func mcpArguments(input string, schema json.RawMessage) (json.RawMessage, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "{") && json.Valid([]byte(input)) {
		return json.RawMessage(input), nil
	}

	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, fmt.Errorf("%w: input must be a JSON object", ErrInvalidInput)
	}

	var prop string
	switch {
	case len(s.Required) == 1:
		prop = s.Required[0]
	case len(s.Properties) == 1:
		for name := range s.Properties {
			prop = name
		}
	case len(s.Properties) == 0:
		return json.RawMessage("{}"), nil
	default:
		return nil, fmt.Errorf("%w: input must be a JSON object", ErrInvalidInput)
	}

	args, err := json.Marshal(map[string]string{prop: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	return args, nil
}
