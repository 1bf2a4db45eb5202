// Package monitor is the read-only HTTP surface: pipeline health, staging
// backlog stats and per-source run history for dashboards. It never mutates
// pipeline state.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"corpusflow/internal/dedup"
	"corpusflow/internal/middleware"
	"corpusflow/internal/sourcemeta"
	"corpusflow/internal/staging"
)

type StagingStats interface {
	Stats(ctx context.Context) (map[staging.Status]int, error)
	StatsBySource(ctx context.Context, source string) (map[staging.Status]int, error)
	FailedPermanently(ctx context.Context, limit int) ([]staging.Document, error)
}

type DedupStats interface {
	Stats(ctx context.Context, source string) (*dedup.Stats, error)
}

type MetadataReader interface {
	Get(ctx context.Context, source string) (*sourcemeta.RunMetadata, error)
	List(ctx context.Context) ([]sourcemeta.RunMetadata, error)
}

// ChunkCounter reports stored vector objects for one source. A source's
// objects live in exactly one collection, so summing across counters is
// safe.
type ChunkCounter interface {
	CountChunks(ctx context.Context, source string) (int, error)
}

type Handler struct {
	staging  StagingStats
	dedup    DedupStats
	meta     MetadataReader
	counters []ChunkCounter
}

func NewHandler(s StagingStats, d DedupStats, m MetadataReader, counters ...ChunkCounter) *Handler {
	return &Handler{staging: s, dedup: d, meta: m, counters: counters}
}

// Routes returns the monitoring mux. Callers wrap it with the correlation
// middleware.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /stats", h.GetStats)
	mux.HandleFunc("GET /stats/{source}", h.GetSourceStats)
	mux.HandleFunc("GET /sources", h.GetSources)
	mux.HandleFunc("GET /failed", h.GetFailed)
	return mux
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeData(r.Context(), w, map[string]string{"status": "ok"})
}

type StatsResponse struct {
	Staging map[staging.Status]int `json:"staging"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.staging.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to aggregate staging stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to aggregate staging stats", http.StatusInternalServerError)
		return
	}

	h.writeData(ctx, w, StatsResponse{Staging: counts})
}

type SourceStatsResponse struct {
	Source      string                  `json:"source"`
	Staging     map[staging.Status]int  `json:"staging"`
	Dedup       *dedup.Stats            `json:"dedup"`
	VectorCount int                     `json:"vectorCount"`
	Runs        *sourcemeta.RunMetadata `json:"runs,omitempty"`
}

func (h *Handler) GetSourceStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := r.PathValue("source")

	counts, err := h.staging.StatsBySource(ctx, source)
	if err != nil {
		slog.ErrorContext(ctx, "failed to aggregate staging stats", "error", err, "source", source)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to aggregate staging stats", http.StatusInternalServerError)
		return
	}

	dedupStats, err := h.dedup.Stats(ctx, source)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read dedup stats", "error", err, "source", source)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read dedup stats", http.StatusInternalServerError)
		return
	}

	meta, err := h.meta.Get(ctx, source)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read run metadata", "error", err, "source", source)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read run metadata", http.StatusInternalServerError)
		return
	}

	// Vector counts are best effort: the Postgres-backed stats must stay
	// readable when the sink is unreachable.
	vectorCount := 0
	for _, counter := range h.counters {
		n, err := counter.CountChunks(ctx, source)
		if err != nil {
			slog.WarnContext(ctx, "failed to count stored vectors", "error", err, "source", source)
			continue
		}
		vectorCount += n
	}

	h.writeData(ctx, w, SourceStatsResponse{
		Source:      source,
		Staging:     counts,
		Dedup:       dedupStats,
		VectorCount: vectorCount,
		Runs:        meta,
	})
}

func (h *Handler) GetSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	all, err := h.meta.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list sources", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list sources", http.StatusInternalServerError)
		return
	}
	if all == nil {
		all = []sourcemeta.RunMetadata{}
	}

	h.writeData(ctx, w, all)
}

func (h *Handler) GetFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(ctx, w, "INVALID_LIMIT", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	docs, err := h.staging.FailedPermanently(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failed rows", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list failed rows", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []staging.Document{}
	}

	h.writeData(ctx, w, docs)
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
