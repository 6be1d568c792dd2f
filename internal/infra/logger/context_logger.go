// ABOUTME: Context-aware structured logging for retrieval calls and bulk imports
// ABOUTME: Propagates retrieval ID, pipeline stage, category, and import file through context.Context
package logger

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	// Business context keys, namespaced with a 'retriever.' prefix
	RetrievalIDKey ContextKey = "retriever.retrieval.id"
	StageKey       ContextKey = "retriever.stage"
	CategoryKey    ContextKey = "retriever.category"
	ImportFileKey  ContextKey = "retriever.import.file"
)

var contextKeys = []ContextKey{RetrievalIDKey, StageKey, CategoryKey, ImportFileKey}

// FromContext returns base enriched with the business context values found in ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}

	var fields []any
	for _, key := range contextKeys {
		if v := ctx.Value(key); v != nil {
			fields = append(fields, string(key), v)
		}
	}

	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// WithRetrievalID adds the retrieval ID to context for observability
func WithRetrievalID(ctx context.Context, retrievalID string) context.Context {
	return context.WithValue(ctx, RetrievalIDKey, retrievalID)
}

// WithStage adds the pipeline stage to context for observability
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

// WithCategory adds the category filter to context for observability
func WithCategory(ctx context.Context, category string) context.Context {
	return context.WithValue(ctx, CategoryKey, category)
}

// WithImportFile adds the import source file to context for observability
func WithImportFile(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ImportFileKey, path)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
