package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/agent"
	"github.com/MegaGrindStone/chat-search/internal/handlers"
	"github.com/MegaGrindStone/chat-search/internal/services"
	"github.com/MegaGrindStone/chat-search/internal/session"
	"github.com/MegaGrindStone/chat-search/internal/telemetry"
	"github.com/MegaGrindStone/chat-search/internal/tools"
	"github.com/MegaGrindStone/go-mcp"
	"github.com/subosito/gotenv"
	"golang.org/x/sync/errgroup"
)

const (
	errLoggerKey = "error"

	sessionSweepInterval = time.Minute
	cachePruneInterval   = time.Hour
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Credentials may come from a .env file next to the binary; the file is optional.
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("Failed to load .env", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}

	cfgFilePath, err := configPath()
	if err != nil {
		logger.Error("Failed to resolve config path", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		logger.Error("Failed to load config",
			slog.String("path", cfgFilePath),
			slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}

	level, err := cfg.logLevel()
	if err != nil {
		logger.Error("Failed to parse log level", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", slog.String(errLoggerKey, err.Error()))
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	emitter := telemetry.Multi{telemetry.NewLog(logger)}
	if cfg.Telemetry.NATSURL != "" {
		nc, err := services.ConnectNATS(cfg.Telemetry.NATSURL, cfg.Telemetry.NATSToken, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("Failed to drain nats connection", slog.String(errLoggerKey, err.Error()))
			}
		}()
		emitter = append(emitter, services.NewNATS(nc, cfg.Telemetry.Subject, logger))
		logger.Info("Publishing telemetry to NATS", slog.String("subject", cfg.Telemetry.Subject))
	}

	var cache *services.BoltCache
	if cfg.Tools.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Tools.CachePath), 0755); err != nil {
			return fmt.Errorf("error creating cache directory: %w", err)
		}
		c, err := services.NewBoltCache(cfg.Tools.CachePath, cfg.Tools.CacheTTL)
		if err != nil {
			return err
		}
		defer c.Close()
		cache = &c
	}

	registry := builtinTools(cfg, cache, logger)

	mcpClients, stdIOCmds, err := populateMCPClients(cfg, mcp.Info{
		Name:    "chat-search",
		Version: "0.1.0",
	})
	if err != nil {
		return err
	}

	mcpCtx, mcpCancel := context.WithCancel(context.Background())
	defer mcpCancel()

	mcpTools, err := connectMCPClients(mcpCtx, mcpClients, logger)
	if err != nil {
		return err
	}
	for _, t := range mcpTools {
		registry.Add(t)
	}
	logger.Info("Agent tools", slog.Any("tools", registry.Names()))

	executor := agent.NewExecutor(
		func(apiKey string) (agent.LLM, error) {
			return cfg.LLM.llm(apiKey, logger)
		},
		registry,
		logger,
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithEmitter(emitter),
	)

	store := session.NewStore(cfg.Session.IdleTimeout, logger)
	defer store.Close()

	m, err := handlers.NewMain(executor, store, registry.Tools(), logger,
		handlers.WithRunTimeout(cfg.Agent.Timeout))
	if err != nil {
		return err
	}
	router, err := m.Router()
	if err != nil {
		return err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	eg, egCtx := errgroup.WithContext(bgCtx)
	eg.Go(func() error {
		store.Run(egCtx, sessionSweepInterval)
		return nil
	})
	if cache != nil {
		eg.Go(func() error {
			pruneCache(egCtx, *cache, logger)
			return nil
		})
	}

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}

		mcpCancel()
		for _, stdIOCmd := range stdIOCmds {
			if err := stdIOCmd.Wait(); err != nil {
				logger.Warn("Failed to wait for stdIO command", slog.String(errLoggerKey, err.Error()))
			}
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}

	bgCancel()
	if err := eg.Wait(); err != nil {
		logger.Warn("Background task failed", slog.String(errLoggerKey, err.Error()))
	}

	return runErr
}

// builtinTools registers the search, Wikipedia, and arXiv tools, memoized through cache when one is
// configured.
func builtinTools(cfg config, cache *services.BoltCache, logger *slog.Logger) *tools.Registry {
	opts := tools.Options{
		TopKResults:        cfg.Tools.TopKResults,
		DocContentCharsMax: cfg.Tools.DocContentCharsMax,
	}

	builtins := []tools.Tool{
		tools.NewSearch(tools.Options{}),
		tools.NewArxiv(opts),
		tools.NewWikipedia(opts),
	}

	registry := tools.NewRegistry()
	for _, t := range builtins {
		if cache != nil {
			t = tools.NewCached(t, *cache, logger)
		}
		registry.Add(t)
	}
	return registry
}

func populateMCPClients(cfg config, mcpClientInfo mcp.Info) ([]*mcp.Client, []*exec.Cmd, error) {
	var mcpClients []*mcp.Client

	for _, mcpSSEServerConfig := range cfg.MCPSSEServers {
		sseClient := mcp.NewSSEClient(mcpSSEServerConfig.URL, nil)
		cli := mcp.NewClient(mcpClientInfo, sseClient)
		mcpClients = append(mcpClients, cli)
	}

	var stdIOCmds []*exec.Cmd
	for name, mcpStdIOServerConfig := range cfg.MCPStdIOServers {
		cmd := exec.Command(mcpStdIOServerConfig.Command, mcpStdIOServerConfig.Args...)

		in, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("error creating stdin pipe of %s: %w", name, err)
		}
		out, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("error creating stdout pipe of %s: %w", name, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, fmt.Errorf("error starting %s: %w", name, err)
		}
		stdIOCmds = append(stdIOCmds, cmd)

		cliStdIO := mcp.NewStdIO(out, in)

		cli := mcp.NewClient(mcpClientInfo, cliStdIO)
		mcpClients = append(mcpClients, cli)
	}

	return mcpClients, stdIOCmds, nil
}

// connectMCPClients connects every client concurrently and returns the tools they serve. The
// connections live until ctx is cancelled.
func connectMCPClients(ctx context.Context, clients []*mcp.Client, logger *slog.Logger) ([]tools.Tool, error) {
	toolSets := make([][]tools.Tool, len(clients))

	var eg errgroup.Group
	for i, cli := range clients {
		eg.Go(func() error {
			logger.Info("Connecting to MCP server", slog.Int("index", i))

			if err := cli.Connect(ctx); err != nil {
				return fmt.Errorf("error connecting to MCP server at index %d: %w", i, err)
			}

			logger.Info("Connected to MCP server", slog.String("name", cli.ServerInfo().Name))

			ts, err := tools.ListMCPTools(ctx, cli)
			if err != nil {
				return fmt.Errorf("error listing tools of %s: %w", cli.ServerInfo().Name, err)
			}
			toolSets[i] = ts
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var all []tools.Tool
	for _, ts := range toolSets {
		all = append(all, ts...)
	}
	return all, nil
}

func pruneCache(ctx context.Context, cache services.BoltCache, logger *slog.Logger) {
	ticker := time.NewTicker(cachePruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.Prune(ctx)
			if err != nil {
				logger.Warn("Failed to prune tool cache", slog.String(errLoggerKey, err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("Pruned tool cache", slog.Int("count", n))
			}
		}
	}
}
