// Package fsdocs syncs a directory tree of markdown and plain-text
// documentation into the pipeline. Item identity is the path relative to
// the root, so moved files re-enter as new items.
package fsdocs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"corpusflow/internal/runner"
	"corpusflow/internal/schedule"
)

type Source struct {
	name       string
	root       string
	collection string
	resync     schedule.ResyncStrategy
}

func New(name, root, collection string, resync schedule.ResyncStrategy) *Source {
	return &Source{
		name:       name,
		root:       root,
		collection: collection,
		resync:     resync,
	}
}

func (s *Source) Name() string                        { return s.name }
func (s *Source) SourceType() string                  { return "docs" }
func (s *Source) TargetCollection() string            { return s.collection }
func (s *Source) NeedsChunking() bool                 { return true }
func (s *Source) Resync() schedule.ResyncStrategy     { return s.resync }
func (s *Source) Backfill() schedule.BackfillStrategy { return schedule.BackfillStrategy{} }

// FetchForRun walks the tree and emits every readable document. Change
// detection is the dedup store's job, so unchanged files cost one hash and
// nothing more.
func (s *Source) FetchForRun(ctx context.Context, window schedule.Window, emit func(runner.Item) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}

		text := string(content)
		return emit(document{
			path:  rel,
			title: titleOf(text, rel),
			text:  text,
		})
	})
}

type document struct {
	path  string
	title string
	text  string
}

func (d document) ID() string    { return d.path }
func (d document) Title() string { return d.title }
func (d document) Text() string  { return d.text }

func (d document) Metadata() map[string]string {
	return map[string]string{
		"path": d.path,
		"ext":  strings.TrimPrefix(filepath.Ext(d.path), "."),
	}
}

// titleOf returns the first markdown heading, falling back to the file name
// without its extension.
func titleOf(text, path string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" {
			break
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
