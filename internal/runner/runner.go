// Package runner orchestrates one content source: fetch items for the
// current schedule window, dedupe by content hash, chunk where the source
// asks for it, stage the resulting documents and record the run outcome.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"corpusflow/internal/chunk"
	"corpusflow/internal/config"
	"corpusflow/internal/dedup"
	"corpusflow/internal/events"
	"corpusflow/internal/schedule"
	"corpusflow/internal/sourcemeta"
	"corpusflow/internal/staging"
)

// Item is one unit of source content. Identity is (source name, ID); the
// same ID may reappear across runs with different text.
type Item interface {
	ID() string
	Title() string
	Text() string
	Metadata() map[string]string
}

// Source produces items for a run window. FetchForRun must call emit once
// per item and stop when emit or ctx reports an error; emit never blocks on
// downstream I/O beyond the staging batch being assembled.
type Source interface {
	Name() string
	SourceType() string
	TargetCollection() string
	NeedsChunking() bool
	Resync() schedule.ResyncStrategy
	Backfill() schedule.BackfillStrategy
	FetchForRun(ctx context.Context, window schedule.Window, emit func(Item) error) error
}

// Checkpointer is implemented by sources that can resume a partial sync.
// The runner restores the last recorded checkpoint before each run and
// persists the new one after a successful run.
type Checkpointer interface {
	Checkpoint() map[string]string
	RestoreCheckpoint(map[string]string)
}

type DedupStore interface {
	ShouldUpsert(ctx context.Context, source, itemID, contentHash, runID string) (dedup.Decision, error)
}

type StagingStore interface {
	StageBatch(ctx context.Context, docs []staging.Document) (int, error)
}

type MetadataStore interface {
	Get(ctx context.Context, source string) (*sourcemeta.RunMetadata, error)
	RecordSuccess(ctx context.Context, source string, processed, failed int64, checkpoint map[string]string) error
	RecordFailure(ctx context.Context, source string) error
}

// Result summarizes one completed run.
type Result struct {
	RunID          string
	Source         string
	ItemsProcessed int
	ItemsFailed    int
	ItemsSkipped   int
	DocsStaged     int
}

// Runner drives one source through its schedule.
type Runner struct {
	source    Source
	scheduler *schedule.Scheduler
	dedup     DedupStore
	staging   StagingStore
	meta      MetadataStore
	pub       events.Publisher
	chunkOpts chunk.Options
	hashText  func(string) string
}

func New(source Source, scheduler *schedule.Scheduler, d DedupStore, s StagingStore, m MetadataStore, pub events.Publisher, opts chunk.Options, hashText func(string) string) *Runner {
	return &Runner{
		source:    source,
		scheduler: scheduler,
		dedup:     d,
		staging:   s,
		meta:      m,
		pub:       pub,
		chunkOpts: opts,
		hashText:  hashText,
	}
}

func (r *Runner) SourceName() string { return r.source.Name() }

// Scheduler exposes the cadence state, used by the control channel to force
// an immediate run.
func (r *Runner) Scheduler() *schedule.Scheduler { return r.scheduler }

// Run executes one fetch cycle. Per-item failures are counted and skipped;
// only a source-level fetch error or a staging write error fails the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	result := Result{
		RunID:  uuid.New().String(),
		Source: r.source.Name(),
	}
	window := r.scheduler.Window()

	r.restoreCheckpoint(ctx)

	seen := make(map[string]struct{})
	var docs []staging.Document

	fetchErr := r.source.FetchForRun(ctx, window, func(item Item) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := item.ID()
		if _, dup := seen[id]; dup {
			// First occurrence wins inside one batch.
			result.ItemsSkipped++
			return nil
		}
		seen[id] = struct{}{}

		itemDocs, err := r.processItem(ctx, item, result.RunID)
		if err != nil {
			result.ItemsFailed++
			slog.WarnContext(ctx, "item failed, continuing run",
				"source", r.source.Name(), "item_id", id, "error", err)
			return nil
		}
		if itemDocs == nil {
			result.ItemsSkipped++
			return nil
		}
		docs = append(docs, itemDocs...)
		result.ItemsProcessed++
		return nil
	})
	if fetchErr != nil {
		r.recordFailure(ctx, result, fetchErr)
		return result, fmt.Errorf("fetch %s: %w", r.source.Name(), fetchErr)
	}

	if len(docs) > 0 {
		staged, err := r.staging.StageBatch(ctx, docs)
		if err != nil {
			r.recordFailure(ctx, result, err)
			return result, fmt.Errorf("stage batch for %s: %w", r.source.Name(), err)
		}
		result.DocsStaged = staged
	}

	if err := r.meta.RecordSuccess(ctx, r.source.Name(), int64(result.ItemsProcessed), int64(result.ItemsFailed), r.checkpoint()); err != nil {
		slog.WarnContext(ctx, "failed to record run metadata", "source", r.source.Name(), "error", err)
	}
	r.publishResult(ctx, result, nil)

	slog.InfoContext(ctx, "source run completed",
		"source", r.source.Name(), "run_id", result.RunID,
		"processed", result.ItemsProcessed, "failed", result.ItemsFailed,
		"skipped", result.ItemsSkipped, "staged", result.DocsStaged)
	return result, nil
}

// processItem returns the staged documents for one item, or nil when dedup
// says the content is unchanged.
func (r *Runner) processItem(ctx context.Context, item Item, runID string) ([]staging.Document, error) {
	// Postgres TEXT rejects NUL bytes; scrub before hashing so one bad
	// item cannot abort the whole staged batch.
	text := scrubNUL(item.Text())
	contentHash := r.hashText(text)

	decision, err := r.dedup.ShouldUpsert(ctx, r.source.Name(), item.ID(), contentHash, runID)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if decision == dedup.DecisionUnchanged {
		return nil, nil
	}

	if !r.source.NeedsChunking() {
		return []staging.Document{r.buildDocument(item, chunk.Chunk{
			Index:   0,
			Total:   1,
			Content: text,
		})}, nil
	}

	chunks := chunk.Content(r.source.SourceType(), text, r.chunkOpts)
	docs := make([]staging.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, r.buildDocument(item, c))
	}
	return docs, nil
}

func (r *Runner) buildDocument(item Item, c chunk.Chunk) staging.Document {
	metadata := map[string]string{
		"title":  scrubNUL(item.Title()),
		"itemId": item.ID(),
	}
	for k, v := range item.Metadata() {
		metadata[k] = scrubNUL(v)
	}
	if c.Snippet != "" {
		metadata["snippet"] = c.Snippet
	}

	return staging.Document{
		ID:               documentID(r.source.Name(), item.ID(), c.Index),
		Source:           r.source.Name(),
		TargetCollection: r.source.TargetCollection(),
		Content:          c.Content,
		Metadata:         metadata,
		ChunkIndex:       c.Index,
		TotalChunks:      c.Total,
	}
}

func scrubNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// documentID is deterministic so re-staging updated content upserts the
// same vector objects instead of accumulating near-duplicates.
func documentID(source, itemID string, chunkIndex int) string {
	name := source + "|" + itemID + "|" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (r *Runner) restoreCheckpoint(ctx context.Context) {
	cp, ok := r.source.(Checkpointer)
	if !ok {
		return
	}
	meta, err := r.meta.Get(ctx, r.source.Name())
	if err != nil {
		slog.WarnContext(ctx, "failed to load checkpoint", "source", r.source.Name(), "error", err)
		return
	}
	if meta != nil && meta.Checkpoint != nil {
		cp.RestoreCheckpoint(meta.Checkpoint)
	}
}

func (r *Runner) checkpoint() map[string]string {
	if cp, ok := r.source.(Checkpointer); ok {
		return cp.Checkpoint()
	}
	return nil
}

func (r *Runner) recordFailure(ctx context.Context, result Result, cause error) {
	if err := r.meta.RecordFailure(ctx, r.source.Name()); err != nil {
		slog.WarnContext(ctx, "failed to record run failure", "source", r.source.Name(), "error", err)
	}
	r.publishResult(ctx, result, cause)
}

func (r *Runner) publishResult(ctx context.Context, result Result, cause error) {
	payload := events.RunResult{
		RunID:          result.RunID,
		Source:         result.Source,
		ItemsProcessed: result.ItemsProcessed,
		ItemsFailed:    result.ItemsFailed,
		ItemsSkipped:   result.ItemsSkipped,
		DocsStaged:     result.DocsStaged,
		Success:        cause == nil,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal run result", "error", err)
		return
	}
	if err := r.pub.Publish(config.TopicRunResult, body); err != nil {
		slog.WarnContext(ctx, "failed to publish run result", "source", result.Source, "error", err)
	}
}

// Loop runs the source on its schedule until ctx is cancelled or a one-shot
// schedule completes.
func (r *Runner) Loop(ctx context.Context) {
	const idlePoll = time.Second

	for {
		if r.scheduler.Done() {
			slog.InfoContext(ctx, "source schedule finished", "source", r.source.Name())
			return
		}
		if !r.scheduler.Due() {
			wait := idlePoll
			if next := r.scheduler.NextRun(); !next.IsZero() {
				if until := time.Until(next); until < wait {
					wait = until
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		_, err := r.Run(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "source run failed", "source", r.source.Name(), "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		r.scheduler.Completed(time.Now(), err == nil)
	}
}
