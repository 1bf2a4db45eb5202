package fsdocs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusflow/internal/runner"
	"corpusflow/internal/schedule"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collect(t *testing.T, s *Source) []runner.Item {
	t.Helper()
	var items []runner.Item
	err := s.FetchForRun(context.Background(), schedule.Window{}, func(item runner.Item) error {
		items = append(items, item)
		return nil
	})
	require.NoError(t, err)
	return items
}

func TestSource_FetchForRun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "intro.md", "# Getting Started\n\nWelcome.")
	writeFile(t, root, "guides/setup.md", "Setup instructions without heading.")
	writeFile(t, root, "notes.txt", "plain text notes")
	writeFile(t, root, "image.png", "not a document")
	writeFile(t, root, ".hidden/secret.md", "# Hidden")

	s := New("handbook", root, "Handbook", schedule.IntervalResync(time.Hour))
	items := collect(t, s)

	require.Len(t, items, 3)

	byID := make(map[string]runner.Item)
	for _, item := range items {
		byID[item.ID()] = item
	}

	intro := byID["intro.md"]
	require.NotNil(t, intro)
	assert.Equal(t, "Getting Started", intro.Title())
	assert.Contains(t, intro.Text(), "Welcome.")
	assert.Equal(t, "md", intro.Metadata()["ext"])

	setup := byID[filepath.Join("guides", "setup.md")]
	require.NotNil(t, setup)
	assert.Equal(t, "setup", setup.Title(), "no heading falls back to file name")

	_, pngIncluded := byID["image.png"]
	assert.False(t, pngIncluded)
}

func TestSource_EmitErrorStopsWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "# A")
	writeFile(t, root, "b.md", "# B")

	s := New("handbook", root, "Handbook", schedule.IntervalResync(time.Hour))
	calls := 0
	err := s.FetchForRun(context.Background(), schedule.Window{}, func(runner.Item) error {
		calls++
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestTitleOf(t *testing.T) {
	assert.Equal(t, "Deep Title", titleOf("\n\n## Deep Title\nbody", "x.md"))
	assert.Equal(t, "readme", titleOf("no heading here", "docs/readme.md"))
	assert.Equal(t, "notes", titleOf("", "notes.txt"))
}
