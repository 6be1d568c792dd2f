package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
)

const instrumentationName = "rag-retriever"

// Options controls where and how the service logs.
type Options struct {
	// Writer receives JSON lines. Defaults to os.Stdout.
	Writer io.Writer
	// Level is a LOG_LEVEL style string. Defaults to info.
	Level string
	// EnableOTel also exports records through the global OTel logger provider.
	EnableOTel bool
}

// NewWithOptions builds the service logger. Stdout records always carry trace context.
func NewWithOptions(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	level := parseLevel(opts.Level)

	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	var handler slog.Handler = NewTraceContextHandler(jsonHandler)
	if opts.EnableOTel {
		otelHandler := otelslog.NewHandler(
			instrumentationName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)
		handler = NewMultiHandler(handler, otelHandler)
	}

	l := slog.New(handler)
	l.Debug("logger initialized", "otel_enabled", opts.EnableOTel, "level", level.String())
	return l
}

// MultiHandler sends logs to multiple handlers
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler fans records out to every handler that accepts their level.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			_ = handler.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: newHandlers}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &MultiHandler{handlers: newHandlers}
}
