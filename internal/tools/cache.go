package tools

import (
	"context"
	"log/slog"
	"strings"
)

// Cache stores tool observations keyed by tool name and input.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Cached wraps a Tool and memoizes its successful results. Cache failures are logged and never fail the
// call.
type Cached struct {
	Tool

	cache  Cache
	logger *slog.Logger
}

const errLoggerKey = "error"

// NewCached wraps t with cache.
func NewCached(t Tool, cache Cache, logger *slog.Logger) Cached {
	return Cached{
		Tool:   t,
		cache:  cache,
		logger: logger.With(slog.String("module", "tools"), slog.String("tool", t.Name())),
	}
}

// Call returns the cached observation for input if any, otherwise calls the wrapped tool.
func (c Cached) Call(ctx context.Context, input string) (string, error) {
	key := cacheKey(c.Name(), input)

	v, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to read tool cache", slog.String(errLoggerKey, err.Error()))
	}
	if ok {
		c.logger.Debug("Tool cache hit", slog.String("input", input))
		return v, nil
	}

	res, err := c.Tool.Call(ctx, input)
	if err != nil {
		return "", err
	}

	if err := c.cache.Put(ctx, key, res); err != nil {
		c.logger.Warn("Failed to write tool cache", slog.String(errLoggerKey, err.Error()))
	}
	return res, nil
}

func cacheKey(toolName, input string) string {
	return toolName + "\x00" + strings.TrimSpace(input)
}
