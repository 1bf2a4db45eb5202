// Package dedup decides whether an observed item needs (re-)processing by
// comparing its content hash against the last one seen for the same
// (source, item) identity.
package dedup

import (
	"context"
	"time"
)

type Decision int

const (
	// DecisionNew means no prior record exists; the item must be staged.
	DecisionNew Decision = iota
	// DecisionUpdated means the content hash changed; the item must be re-staged.
	DecisionUpdated
	// DecisionUnchanged means identical content was already processed; skip it.
	DecisionUnchanged
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionUpdated:
		return "updated"
	case DecisionUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// Record is the last-known observation for one (source, item) identity.
type Record struct {
	Source        string
	ItemID        string
	ContentHash   string
	FirstSeen     time.Time
	LastSeenAt    time.Time
	LastSeenRunID string
}

type Stats struct {
	TotalItems   int       `json:"total_items"`
	LastActivity time.Time `json:"last_activity"`
}

type Store interface {
	// ShouldUpsert classifies the observation and records it. Callers must
	// consult it before every staging write; an Unchanged result is the
	// pipeline's guarantee against duplicate embeddings of identical content.
	ShouldUpsert(ctx context.Context, source, itemID, contentHash, runID string) (Decision, error)
	Stats(ctx context.Context, source string) (*Stats, error)
	Close() error
}

func cacheKey(source, itemID string) string {
	return source + "\x00" + itemID
}
