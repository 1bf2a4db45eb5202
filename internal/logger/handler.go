package logger

import (
	"context"
	"log/slog"

	"corpusflow/internal/middleware"
)

// ContextHandler decorates an slog.Handler so every record carries the
// correlation id found in the context, if any.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := middleware.GetCorrelationID(ctx); id != "unknown" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}
