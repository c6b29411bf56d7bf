// Package logging provides structured logging for the viewtally application.
//
// This package wraps the standard library's log/slog package so every
// component logs the same way. It supports text and JSON output,
// configurable levels and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false)
//
//	// Get a component logger
//	log := logging.Component("aggregation")
//	log.Info("pass finished", "updated", 42)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Component returns a logger for a specific component.
//
// The returned logger resolves the global logger at call time, so package
// level component loggers created before Init still honour the configured
// handler.
func Component(name string) *slog.Logger {
	return slog.New(componentHandler{name: name})
}

// componentHandler defers to whatever the global logger is at log time.
type componentHandler struct {
	name  string
	attrs []slog.Attr
	group string
}

func (h componentHandler) base() slog.Handler {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	var hh slog.Handler = Logger.Handler().WithAttrs([]slog.Attr{slog.String("component", h.name)})
	if len(h.attrs) > 0 {
		hh = hh.WithAttrs(h.attrs)
	}
	if h.group != "" {
		hh = hh.WithGroup(h.group)
	}
	return hh
}

func (h componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base().Enabled(ctx, level)
}

func (h componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if runID, ok := ctx.Value(contextKeyRunID).(string); ok {
		r.AddAttrs(slog.String("run_id", runID))
	}
	if entityID, ok := ctx.Value(contextKeyEntityID).(string); ok {
		r.AddAttrs(slog.String("entity_id", entityID))
	}
	return h.base().Handle(ctx, r)
}

func (h componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return next
}

func (h componentHandler) WithGroup(name string) slog.Handler {
	next := h
	next.group = name
	return next
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRunID contextKey = iota
	contextKeyEntityID
)

// ContextWithRunID tags the context with an aggregation pass id.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextKeyRunID, runID)
}

// ContextWithEntityID tags the context with the entity being processed.
func ContextWithEntityID(ctx context.Context, entityID string) context.Context {
	return context.WithValue(ctx, contextKeyEntityID, entityID)
}

// RunID returns the pass id carried by ctx, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRunID).(string)
	return id
}
