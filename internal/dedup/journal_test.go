package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.log")

	j, err := OpenJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.Append("rss", "a", "h1", "run-1"))
	require.NoError(t, j.Append("rss", "b", "h2", "run-1"))
	require.NoError(t, j.Append("rss", "a", "h3", "run-2")) // later hash wins
	require.NoError(t, j.Flush())

	entries, err := j.Replay()
	require.NoError(t, err)
	assert.Equal(t, "h3", entries[cacheKey("rss", "a")])
	assert.Equal(t, "h2", entries[cacheKey("rss", "b")])
	assert.Len(t, entries, 2)

	require.NoError(t, j.Close())
}

func TestJournal_ReplaySkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.log")
	require.NoError(t, os.WriteFile(path, []byte("garbage\nrss\ta\th1\trun\t0\ntrunc"), 0o600))

	j, err := OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Replay()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "h1", entries[cacheKey("rss", "a")])
}
