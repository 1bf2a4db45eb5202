package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const correlationKey ctxKey = 0

const headerName = "X-Correlation-ID"

// CorrelationID tags every request with a correlation id, reusing the one
// the caller sent when present. The id is echoed in the response header and
// stored in the request context for handlers and the logger to pick up.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerName)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(headerName, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
		slog.Info("request completed", "method", r.Method, "path", r.URL.Path, "correlation_id", id, "duration", time.Since(start))
	})
}

// GetCorrelationID returns the id stored by CorrelationID, or "unknown" for
// contexts that never passed through the middleware.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}
