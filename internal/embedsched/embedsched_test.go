package embedsched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusflow/internal/events"
	"corpusflow/internal/staging"
)

// memStaging is an in-memory staging store with the same claim and retry
// semantics as the SQL-backed one.
type memStaging struct {
	mu             sync.Mutex
	docs           map[string]*staging.Document
	order          []string
	maxRetries     int
	inProgressPeak int
}

func newMemStaging(maxRetries int) *memStaging {
	return &memStaging{docs: make(map[string]*staging.Document), maxRetries: maxRetries}
}

func (m *memStaging) add(docs ...staging.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		d.Status = staging.StatusPending
		copied := d
		m.docs[d.ID] = &copied
		m.order = append(m.order, d.ID)
	}
}

func (m *memStaging) GetPendingBatch(ctx context.Context, limit int) ([]staging.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staging.Document
	for _, id := range m.order {
		if len(out) >= limit {
			break
		}
		d := m.docs[id]
		eligible := d.Status == staging.StatusPending ||
			(d.Status == staging.StatusFailed && d.RetryCount < m.maxRetries)
		if eligible {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStaging) MarkInProgress(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return false, nil
	}
	if d.Status != staging.StatusPending && d.Status != staging.StatusFailed {
		return false, nil
	}
	d.Status = staging.StatusInProgress

	cur := 0
	for _, other := range m.docs {
		if other.Status == staging.StatusInProgress {
			cur++
		}
	}
	if cur > m.inProgressPeak {
		m.inProgressPeak = cur
	}
	return true, nil
}

func (m *memStaging) peakInProgress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgressPeak
}

func (m *memStaging) UpdateStatus(ctx context.Context, id string, status staging.Status, errorMessage string, incrementRetry bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return errors.New("no staged document " + id)
	}
	d.Status = status
	d.ErrorMessage = errorMessage
	if incrementRetry {
		d.RetryCount++
	}
	return nil
}

func (m *memStaging) countByStatus() map[staging.Status]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[staging.Status]int)
	for _, d := range m.docs {
		out[d.Status]++
	}
	return out
}

// trackingEmbedder fails for texts containing failWord and records the peak
// number of concurrent calls.
type trackingEmbedder struct {
	failWord string
	delay    time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (e *trackingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	e.calls.Add(1)

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failWord != "" && strings.Contains(text, e.failWord) {
		return nil, errors.New("embedding service rejected text")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type memSink struct {
	mu     sync.Mutex
	writes []VectorDocument
	err    error
}

func (s *memSink) Write(ctx context.Context, doc VectorDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, doc)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *capturePublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, body)
	return nil
}

func pendingDoc(id, content string) staging.Document {
	return staging.Document{
		ID:               id,
		Source:           "handbook",
		TargetCollection: "Handbook",
		Content:          content,
		Metadata:         map[string]string{"title": "Doc " + id},
		TotalChunks:      1,
	}
}

func newTestScheduler(t *testing.T, store StagingStore, embedder Embedder, sink Sink, pub events.Publisher, maxConcurrent int) *Scheduler {
	t.Helper()
	s, err := New(store, embedder, map[string]Sink{"Handbook": sink}, pub, time.Second, 100, maxConcurrent, 3)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestScheduler_DrainCompletesBatch(t *testing.T) {
	store := newMemStaging(3)
	store.add(pendingDoc("a", "alpha"), pendingDoc("b", "beta"))
	sink := &memSink{}
	embedder := &trackingEmbedder{}
	s := newTestScheduler(t, store, embedder, sink, &capturePublisher{}, 4)

	s.Drain(context.Background())

	counts := store.countByStatus()
	assert.Equal(t, 2, counts[staging.StatusCompleted])
	require.Len(t, sink.writes, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, sink.writes[0].Vector)
	assert.Equal(t, "handbook", sink.writes[0].Source)
}

func TestScheduler_NoDataLossUnderPartialFailure(t *testing.T) {
	const total = 200
	store := newMemStaging(3)
	failing := 0
	for i := 0; i < total; i++ {
		content := fmt.Sprintf("content %d", i)
		if i%7 == 0 {
			content = "POISON " + content
			failing++
		}
		store.add(pendingDoc(fmt.Sprintf("doc-%d", i), content))
	}

	sink := &memSink{}
	embedder := &trackingEmbedder{failWord: "POISON"}
	s := newTestScheduler(t, store, embedder, sink, &capturePublisher{}, 8)

	s.Drain(context.Background())

	counts := store.countByStatus()
	assert.Equal(t, total-failing, counts[staging.StatusCompleted])
	assert.Equal(t, failing, counts[staging.StatusFailed])
	assert.Equal(t, total, counts[staging.StatusCompleted]+counts[staging.StatusFailed],
		"every row must reach a terminal status")
	assert.Len(t, sink.writes, total-failing)
}

func TestScheduler_ConcurrencyCeiling(t *testing.T) {
	const rows = 50
	const ceiling = 10
	store := newMemStaging(3)
	for i := 0; i < rows; i++ {
		store.add(pendingDoc(fmt.Sprintf("doc-%d", i), "text"))
	}

	embedder := &trackingEmbedder{delay: 5 * time.Millisecond}
	s := newTestScheduler(t, store, embedder, &memSink{}, &capturePublisher{}, ceiling)

	s.Drain(context.Background())

	assert.EqualValues(t, rows, embedder.calls.Load())
	assert.LessOrEqual(t, embedder.peak.Load(), int32(ceiling))
	assert.LessOrEqual(t, store.peakInProgress(), ceiling,
		"rows are claimed just before embedding, never a whole batch up front")
	assert.Equal(t, rows, store.countByStatus()[staging.StatusCompleted])
}

// cancelingEmbedder simulates shutdown arriving while a row is in flight:
// the first call cancels the run context, then reports whether its own
// context survived.
type cancelingEmbedder struct {
	cancel context.CancelFunc
}

func (e *cancelingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []float32{0.5}, nil
}

func TestScheduler_ShutdownFinishesInFlightRows(t *testing.T) {
	const rows = 5
	store := newMemStaging(3)
	for i := 0; i < rows; i++ {
		store.add(pendingDoc(fmt.Sprintf("doc-%d", i), "text"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &capturePublisher{}
	s := newTestScheduler(t, store, &cancelingEmbedder{cancel: cancel}, &memSink{}, pub, 1)

	claimed := s.Drain(ctx)

	counts := store.countByStatus()
	assert.Zero(t, counts[staging.StatusFailed], "cancellation must not burn a retry on healthy rows")
	assert.GreaterOrEqual(t, counts[staging.StatusCompleted], 1)
	assert.Equal(t, claimed, counts[staging.StatusCompleted], "every claimed row runs to completion")
	assert.Equal(t, rows-claimed, counts[staging.StatusPending], "unclaimed rows stay pending for the next drain")
	assert.Empty(t, pub.topics)
}

func TestScheduler_FailedRowsRetryUpToCeiling(t *testing.T) {
	store := newMemStaging(3)
	store.add(pendingDoc("stuck", "POISON forever"))
	embedder := &trackingEmbedder{failWord: "POISON"}
	pub := &capturePublisher{}
	s := newTestScheduler(t, store, embedder, &memSink{}, pub, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Drain(ctx)
	}

	assert.EqualValues(t, 3, embedder.calls.Load(), "retries stop at the ceiling")
	counts := store.countByStatus()
	assert.Equal(t, 1, counts[staging.StatusFailed])

	require.Len(t, pub.topics, 1, "terminal failure published exactly once")
	assert.Equal(t, "pipeline.row.failed", pub.topics[0])
}

func TestScheduler_SinkFailureMarksRowFailed(t *testing.T) {
	store := newMemStaging(3)
	store.add(pendingDoc("a", "alpha"))
	sink := &memSink{err: errors.New("weaviate unavailable")}
	s := newTestScheduler(t, store, &trackingEmbedder{}, sink, &capturePublisher{}, 2)

	s.Drain(context.Background())

	counts := store.countByStatus()
	assert.Equal(t, 1, counts[staging.StatusFailed])
}

func TestScheduler_MissingSinkFailsRow(t *testing.T) {
	store := newMemStaging(3)
	doc := pendingDoc("a", "alpha")
	doc.TargetCollection = "Nowhere"
	store.add(doc)
	s := newTestScheduler(t, store, &trackingEmbedder{}, &memSink{}, &capturePublisher{}, 2)

	s.Drain(context.Background())

	assert.Equal(t, 1, store.countByStatus()[staging.StatusFailed])
	assert.Zero(t, store.countByStatus()[staging.StatusCompleted])
}

func TestContextualText(t *testing.T) {
	doc := pendingDoc("a", "body text")
	doc.ChunkIndex = 1
	doc.TotalChunks = 3

	text := contextualText(doc)
	assert.Contains(t, text, "Title: Doc a")
	assert.Contains(t, text, "Source: handbook")
	assert.Contains(t, text, "Chunk: 2 of 3")
	assert.True(t, strings.HasSuffix(text, "---\nbody text"))
}
