// Package staging is the durable hand-off point between fetching and
// embedding. Source runners write chunks in as pending rows; the embedding
// scheduler drains them and advances their status. The two halves share
// nothing else and never block one another.
package staging

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is one staged chunk awaiting (or having completed) vectorization.
// ID is globally unique: for chunked items the chunk index is baked into it,
// so re-staging the same content version upserts rather than duplicates.
type Document struct {
	ID               string            `json:"id"`
	Source           string            `json:"source"`
	TargetCollection string            `json:"target_collection"`
	Content          string            `json:"content"`
	Metadata         map[string]string `json:"metadata"`
	Status           Status            `json:"embedding_status"`
	ChunkIndex       int               `json:"chunk_index"`
	TotalChunks      int               `json:"total_chunks"`
	RetryCount       int               `json:"retry_count"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (d *Document) IsChunked() bool {
	return d.TotalChunks > 1
}

type Store interface {
	// StageBatch inserts pending rows atomically: either the whole batch is
	// visible or none of it. Rows whose ID already exists are skipped, so a
	// duplicate within or across batches collapses to the first occurrence.
	// Returns the number of rows actually inserted.
	StageBatch(ctx context.Context, docs []Document) (int, error)

	// GetPendingBatch returns up to limit rows eligible for embedding,
	// oldest first. Failed rows under the retry ceiling are eligible again.
	GetPendingBatch(ctx context.Context, limit int) ([]Document, error)

	// MarkInProgress claims a row. Returns false if another worker already
	// claimed it (conditional update, no application lock).
	MarkInProgress(ctx context.Context, id string) (bool, error)

	// UpdateStatus is the only mutation path for terminal transitions.
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage string, incrementRetry bool) error

	Stats(ctx context.Context) (map[Status]int, error)
	StatsBySource(ctx context.Context, source string) (map[Status]int, error)

	// FailedPermanently lists rows at or above the retry ceiling. They are
	// never re-offered and never silently dropped.
	FailedPermanently(ctx context.Context, limit int) ([]Document, error)
}
