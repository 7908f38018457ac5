// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

// Package logging builds the structured logger used across the gate,
// stamping every record with service identity and OpenTelemetry trace
// context when present.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// traceHandler decorates records with service identity attrs and, when
// the context carries an active span, trace correlation ids.
type traceHandler struct {
	next    slog.Handler
	stamped []slog.Attr
}

func newTraceHandler(next slog.Handler, service, version string) *traceHandler {
	return &traceHandler{
		next: next,
		stamped: []slog.Attr{
			slog.String("service", service),
			slog.String("version", version),
		},
	}
}

func (h *traceHandler) wrap(next slog.Handler) *traceHandler {
	return &traceHandler{next: next, stamped: h.stamped}
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.stamped...)

	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.next.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.wrap(h.next.WithAttrs(attrs))
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return h.wrap(h.next.WithGroup(name))
}

// ParseLevel maps a configuration string to a slog level. Unknown
// values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates a configured slog.Logger.
// format is "json" or "text" (defaults to json when empty).
// If w is nil, writes to os.Stderr.
func Setup(service, version, level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(newTraceHandler(base, service, version))
}

// SetDefault configures the process-wide default logger.
func SetDefault(service, version, level, format string) {
	slog.SetDefault(Setup(service, version, level, format, nil))
}
