package staging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusflow/internal/staging"
	"corpusflow/internal/testutils"
)

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := staging.NewPostgresStore(s.DB, 3)
	ctx := context.Background()

	docs := []staging.Document{
		{ID: "doc-1", Source: "rss", TargetCollection: "Newsfeed", Content: "first", Metadata: map[string]string{"title": "First"}, TotalChunks: 1},
		{ID: "doc-2", Source: "rss", TargetCollection: "Newsfeed", Content: "second", Metadata: map[string]string{"title": "Second"}, TotalChunks: 1},
	}

	staged, err := store.StageBatch(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, staged)

	// Re-staging the same IDs is a no-op, not a duplicate.
	staged, err = store.StageBatch(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 0, staged)

	pending, err := store.GetPendingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, staging.StatusPending, pending[0].Status)
	assert.Equal(t, map[string]string{"title": "First"}, pending[0].Metadata)

	// Only one worker wins the claim.
	claimed, err := store.MarkInProgress(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.MarkInProgress(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	// A claimed row is no longer eligible.
	pending, err = store.GetPendingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "doc-2", pending[0].ID)

	require.NoError(t, store.UpdateStatus(ctx, "doc-1", staging.StatusCompleted, "", false))

	// A failed row under the retry ceiling comes back as eligible.
	claimed, err = store.MarkInProgress(ctx, "doc-2")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.UpdateStatus(ctx, "doc-2", staging.StatusFailed, "embed timeout", true))

	pending, err = store.GetPendingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "doc-2", pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "embed timeout", pending[0].ErrorMessage)

	// At the ceiling the row drops out of the pending feed for good.
	for i := 0; i < 2; i++ {
		claimed, err = store.MarkInProgress(ctx, "doc-2")
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, store.UpdateStatus(ctx, "doc-2", staging.StatusFailed, "embed timeout", true))
	}

	pending, err = store.GetPendingBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := store.FailedPermanently(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "doc-2", failed[0].ID)
	assert.Equal(t, 3, failed[0].RetryCount)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[staging.StatusCompleted])
	assert.Equal(t, 1, stats[staging.StatusFailed])
}
