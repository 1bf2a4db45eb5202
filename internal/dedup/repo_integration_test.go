package dedup_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusflow/internal/dedup"
	"corpusflow/internal/testutils"
)

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	journalPath := filepath.Join(t.TempDir(), "dedup.journal")

	journal, err := dedup.OpenJournal(journalPath)
	require.NoError(t, err)

	store, err := dedup.NewPostgresStore(s.DB, journal)
	require.NoError(t, err)

	decision, err := store.ShouldUpsert(ctx, "rss", "item-1", "hash-a", "run-1")
	require.NoError(t, err)
	assert.Equal(t, dedup.DecisionNew, decision)

	decision, err = store.ShouldUpsert(ctx, "rss", "item-1", "hash-a", "run-2")
	require.NoError(t, err)
	assert.Equal(t, dedup.DecisionUnchanged, decision)

	decision, err = store.ShouldUpsert(ctx, "rss", "item-1", "hash-b", "run-3")
	require.NoError(t, err)
	assert.Equal(t, dedup.DecisionUpdated, decision)

	// Same item ID under a different source is a distinct identity.
	decision, err = store.ShouldUpsert(ctx, "fsdocs", "item-1", "hash-b", "run-3")
	require.NoError(t, err)
	assert.Equal(t, dedup.DecisionNew, decision)

	stats, err := store.Stats(ctx, "rss")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalItems)
	assert.False(t, stats.LastActivity.IsZero())

	require.NoError(t, store.Close())

	// A fresh store warms its cache from the journal and still recognizes
	// the latest hash without a round trip having happened yet this run.
	journal2, err := dedup.OpenJournal(journalPath)
	require.NoError(t, err)

	store2, err := dedup.NewPostgresStore(s.DB, journal2)
	require.NoError(t, err)
	defer store2.Close()

	decision, err = store2.ShouldUpsert(ctx, "rss", "item-1", "hash-b", "run-4")
	require.NoError(t, err)
	assert.Equal(t, dedup.DecisionUnchanged, decision)
}
