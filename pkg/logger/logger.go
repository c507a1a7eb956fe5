// Package logger owns the process-wide slog configuration and carries a
// per-query id through the context so request-scoped log lines correlate.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type queryIDKey struct{}

// Setup installs the default logger. Format "json" selects the JSON handler,
// anything else falls back to text. Unknown levels default to info.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// WithQueryID tags ctx so FromContext attaches the query id to every log
// line emitted while serving that query.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, queryID)
}

// FromContext returns the default logger, tagged with the query id carried
// by ctx when present.
func FromContext(ctx context.Context) *slog.Logger {
	if id, ok := ctx.Value(queryIDKey{}).(string); ok {
		return slog.Default().With("query_id", id)
	}
	return slog.Default()
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
