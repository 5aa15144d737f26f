package main

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoToolServer struct{}

func (echoToolServer) ListTools(
	context.Context, mcp.ListToolsParams, mcp.ProgressReporter, mcp.RequestClientFunc,
) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{
		Tools: []mcp.Tool{
			{
				Name:        "echo",
				Description: "Echoes the text back",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			},
		},
	}, nil
}

func (echoToolServer) CallTool(
	_ context.Context, params mcp.CallToolParams, _ mcp.ProgressReporter, _ mcp.RequestClientFunc,
) (mcp.CallToolResult, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: "echo: " + args.Text}},
	}, nil
}

func TestConnectMCPClients(t *testing.T) {
	srvReader, srvWriter := io.Pipe()
	cliReader, cliWriter := io.Pipe()

	srv := mcp.NewServer(mcp.Info{Name: "echo-server", Version: "1.0"},
		mcp.NewStdIO(srvReader, cliWriter), mcp.WithToolServer(echoToolServer{}))
	go srv.Serve()

	cli := mcp.NewClient(mcp.Info{Name: "chat-search", Version: "0.1.0"}, mcp.NewStdIO(cliReader, srvWriter))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
		if err := cli.Disconnect(shutdownCtx); err != nil {
			t.Errorf("failed to disconnect client: %v", err)
		}
		_ = srvWriter.Close()
		_ = srvReader.Close()
		_ = cliWriter.Close()
		_ = cliReader.Close()
	}()

	ts, err := connectMCPClients(ctx, []*mcp.Client{cli}, discardLogger())
	require.NoError(t, err)
	require.Len(t, ts, 1)

	assert.Equal(t, "echo", ts[0].Name())
	assert.Equal(t, "Echoes the text back", ts[0].Description())
	assert.Equal(t, "echo-server", cli.ServerInfo().Name)

	out, err := ts[0].Call(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
}

func TestConnectMCPClientsNone(t *testing.T) {
	ts, err := connectMCPClients(context.Background(), nil, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, ts)
}
