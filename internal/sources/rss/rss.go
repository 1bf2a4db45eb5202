// Package rss syncs RSS 2.0 feeds into the pipeline. Item identity is the
// entry's GUID, falling back to its link. Entries outside the run window
// are skipped, so the backfill strategy controls how much history the
// first run pulls.
package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"corpusflow/internal/runner"
	"corpusflow/internal/schedule"
)

type Source struct {
	name       string
	feedURLs   []string
	collection string
	resync     schedule.ResyncStrategy
	backfill   schedule.BackfillStrategy
	client     *http.Client

	mu            sync.Mutex
	lastPublished time.Time
}

func New(name string, feedURLs []string, collection string, resync schedule.ResyncStrategy, backfill schedule.BackfillStrategy) *Source {
	return &Source{
		name:       name,
		feedURLs:   feedURLs,
		collection: collection,
		resync:     resync,
		backfill:   backfill,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Source) Name() string                        { return s.name }
func (s *Source) SourceType() string                  { return "rss" }
func (s *Source) TargetCollection() string            { return s.collection }
func (s *Source) NeedsChunking() bool                 { return true }
func (s *Source) Resync() schedule.ResyncStrategy     { return s.resync }
func (s *Source) Backfill() schedule.BackfillStrategy { return s.backfill }

func (s *Source) FetchForRun(ctx context.Context, window schedule.Window, emit func(runner.Item) error) error {
	for _, feedURL := range s.feedURLs {
		if err := s.fetchFeed(ctx, feedURL, window, emit); err != nil {
			return fmt.Errorf("feed %s: %w", feedURL, err)
		}
	}
	return nil
}

func (s *Source) fetchFeed(ctx context.Context, feedURL string, window schedule.Window, emit func(runner.Item) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var doc feed
	if err := xml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse feed: %w", err)
	}

	for _, e := range doc.Channel.Items {
		published, hasDate := e.publishedAt()
		if hasDate && !window.From.IsZero() && published.Before(window.From) {
			continue
		}

		if err := emit(entry{raw: e, feed: doc.Channel.Title, published: published}); err != nil {
			return err
		}
		if hasDate {
			s.notePublished(published)
		}
	}
	return nil
}

func (s *Source) notePublished(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.lastPublished) {
		s.lastPublished = at
	}
}

// Checkpoint records the newest entry seen so operators can tell how far a
// feed has been read.
func (s *Source) Checkpoint() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPublished.IsZero() {
		return nil
	}
	return map[string]string{"lastPublished": s.lastPublished.Format(time.RFC3339)}
}

func (s *Source) RestoreCheckpoint(cp map[string]string) {
	raw, ok := cp["lastPublished"]
	if !ok {
		return
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPublished = at
}

type feed struct {
	Channel struct {
		Title string `xml:"title"`
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	Content     string `xml:"encoded"`
	PubDate     string `xml:"pubDate"`
	Author      string `xml:"author"`
}

// publishedAt tolerates the date formats feeds use in the wild.
func (i item) publishedAt() (time.Time, bool) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339} {
		if at, err := time.Parse(layout, strings.TrimSpace(i.PubDate)); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}

type entry struct {
	raw       item
	feed      string
	published time.Time
}

func (e entry) ID() string {
	if e.raw.GUID != "" {
		return e.raw.GUID
	}
	return e.raw.Link
}

func (e entry) Title() string { return e.raw.Title }

// Text prefers the full content:encoded body over the summary description.
func (e entry) Text() string {
	if e.raw.Content != "" {
		return e.raw.Content
	}
	return e.raw.Description
}

func (e entry) Metadata() map[string]string {
	meta := map[string]string{
		"link": e.raw.Link,
		"feed": e.feed,
	}
	if e.raw.Author != "" {
		meta["author"] = e.raw.Author
	}
	if !e.published.IsZero() {
		meta["published"] = e.published.Format(time.RFC3339)
	}
	return meta
}
