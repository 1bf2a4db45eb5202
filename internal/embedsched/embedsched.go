// Package embedsched drains pending staged chunks, embeds them with bounded
// concurrency and upserts the vectors into the sink registered for each
// row's target collection. It runs on its own cadence and shares only the
// staging store with the fetch side.
package embedsched

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"corpusflow/internal/config"
	"corpusflow/internal/events"
	"corpusflow/internal/staging"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorDocument is what a sink receives: the vector plus everything needed
// for idempotent upsert and metadata filtering.
type VectorDocument struct {
	ID          string
	Vector      []float32
	Content     string
	Metadata    map[string]string
	Source      string
	Collection  string
	ChunkIndex  int
	TotalChunks int
	IsChunked   bool
}

// Sink upserts idempotently by document ID. One sink per target collection.
type Sink interface {
	Write(ctx context.Context, doc VectorDocument) error
}

type StagingStore interface {
	GetPendingBatch(ctx context.Context, limit int) ([]staging.Document, error)
	MarkInProgress(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status staging.Status, errorMessage string, incrementRetry bool) error
}

const embedTimeout = 60 * time.Second

// Scheduler polls the staging store and pipelines embedding work through a
// fixed-size pool. Pool capacity bounds outstanding embedding calls
// regardless of batch size.
type Scheduler struct {
	store    StagingStore
	embedder Embedder
	sinks    map[string]Sink
	pub      events.Publisher
	pool     *ants.Pool

	pollInterval time.Duration
	batchSize    int
	maxRetries   int
}

func New(store StagingStore, embedder Embedder, sinks map[string]Sink, pub events.Publisher, pollInterval time.Duration, batchSize, maxConcurrent, maxRetries int) (*Scheduler, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	pool, err := ants.NewPool(maxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	return &Scheduler{
		store:        store,
		embedder:     embedder,
		sinks:        sinks,
		pub:          pub,
		pool:         pool,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
	}, nil
}

// Run polls until ctx is cancelled. In-flight rows finish before it returns.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain processes one batch of eligible rows and waits for all of them to
// reach a terminal status, returning the number of rows claimed. Rows are
// independent: one failure never fails the batch.
func (s *Scheduler) Drain(ctx context.Context) int {
	docs, err := s.store.GetPendingBatch(ctx, s.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch pending batch", "error", err)
		return 0
	}
	if len(docs) == 0 {
		return 0
	}

	// Rows are claimed inside the pooled task, right before embedding, so
	// at most pool-size rows sit in IN_PROGRESS at any instant. A row that
	// never gets claimed stays pending for the next drain.
	var claimed atomic.Int64
	var wg sync.WaitGroup
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			ok, err := s.store.MarkInProgress(ctx, doc.ID)
			if err != nil {
				slog.WarnContext(ctx, "failed to claim row", "id", doc.ID, "error", err)
				return
			}
			if !ok {
				return
			}
			claimed.Add(1)
			s.process(ctx, doc)
		}); err != nil {
			wg.Done()
			slog.WarnContext(ctx, "failed to submit embedding task", "id", doc.ID, "error", err)
		}
	}
	wg.Wait()
	return int(claimed.Load())
}

func (s *Scheduler) process(ctx context.Context, doc staging.Document) {
	// A claimed row finishes or times out on its own clock: shutdown must
	// not abort it mid-flight and burn a retry on healthy content.
	ctx = context.WithoutCancel(ctx)

	sink, ok := s.sinks[doc.TargetCollection]
	if !ok {
		s.markFailed(ctx, doc, fmt.Errorf("no sink registered for collection %q", doc.TargetCollection))
		return
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(embedCtx, contextualText(doc))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "id", doc.ID, "source", doc.Source, "error", err)
		s.markFailed(ctx, doc, err)
		return
	}

	out := VectorDocument{
		ID:          doc.ID,
		Vector:      vector,
		Content:     doc.Content,
		Metadata:    doc.Metadata,
		Source:      doc.Source,
		Collection:  doc.TargetCollection,
		ChunkIndex:  doc.ChunkIndex,
		TotalChunks: doc.TotalChunks,
		IsChunked:   doc.IsChunked(),
	}
	if err := sink.Write(embedCtx, out); err != nil {
		slog.ErrorContext(ctx, "vector sink write failed", "id", doc.ID, "collection", doc.TargetCollection, "error", err)
		s.markFailed(ctx, doc, err)
		return
	}

	if err := s.store.UpdateStatus(ctx, doc.ID, staging.StatusCompleted, "", false); err != nil {
		slog.ErrorContext(ctx, "failed to mark row completed", "id", doc.ID, "error", err)
	}
}

func (s *Scheduler) markFailed(ctx context.Context, doc staging.Document, cause error) {
	if err := s.store.UpdateStatus(ctx, doc.ID, staging.StatusFailed, cause.Error(), true); err != nil {
		slog.ErrorContext(ctx, "failed to mark row failed", "id", doc.ID, "error", err)
		return
	}
	if doc.RetryCount+1 >= s.maxRetries {
		s.publishTerminal(ctx, doc, cause)
	}
}

// publishTerminal announces a row that has exhausted its retry budget.
func (s *Scheduler) publishTerminal(ctx context.Context, doc staging.Document, cause error) {
	body, err := json.Marshal(events.RowFailed{
		DocumentID: doc.ID,
		Source:     doc.Source,
		Collection: doc.TargetCollection,
		RetryCount: doc.RetryCount + 1,
		Error:      cause.Error(),
	})
	if err != nil {
		return
	}
	if err := s.pub.Publish(config.TopicRowFailed, body); err != nil {
		slog.WarnContext(ctx, "failed to publish terminal failure", "id", doc.ID, "error", err)
	}
}

// contextualText prefixes the chunk with its provenance so the embedding
// carries document-level context.
// Format:
// Title: <Item Title>
// Source: <Source Name>
// Chunk: <Index+1> of <Total> (chunked items only)
// ---
// <Raw Chunk Content>
func contextualText(doc staging.Document) string {
	header := fmt.Sprintf("Title: %s\nSource: %s", doc.Metadata["title"], doc.Source)
	if doc.IsChunked() {
		header += fmt.Sprintf("\nChunk: %d of %d", doc.ChunkIndex+1, doc.TotalChunks)
	}
	return header + "\n---\n" + doc.Content
}

// Close releases the worker pool. Call after Run has returned.
func (s *Scheduler) Close() {
	s.pool.Release()
}
