package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// PostgresStore persists dedup records in the dedup_records table. An
// in-memory hash cache, optionally backed by an append-only journal file,
// short-circuits the common unchanged case without a read round trip.
// The journal is replayed at construction and flushed on Close, so dedup
// decisions survive restarts even if the database is momentarily behind.
type PostgresStore struct {
	db      *sql.DB
	journal *Journal

	mu    sync.RWMutex
	cache map[string]string
}

func NewPostgresStore(db *sql.DB, journal *Journal) (*PostgresStore, error) {
	s := &PostgresStore{
		db:      db,
		journal: journal,
		cache:   make(map[string]string),
	}
	if journal != nil {
		replayed, err := journal.Replay()
		if err != nil {
			return nil, fmt.Errorf("replay dedup journal: %w", err)
		}
		s.cache = replayed
	}
	return s, nil
}

func (s *PostgresStore) ShouldUpsert(ctx context.Context, source, itemID, contentHash, runID string) (Decision, error) {
	key := cacheKey(source, itemID)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()

	if ok && cached == contentHash {
		query := `UPDATE dedup_records SET last_seen_at = NOW(), last_seen_run_id = $3 WHERE source = $1 AND item_id = $2`
		if _, err := s.db.ExecContext(ctx, query, source, itemID, runID); err != nil {
			return DecisionUnchanged, err
		}
		return DecisionUnchanged, nil
	}

	// Slow path: row lock so concurrent observations of the same identity
	// serialize on the store's own semantics, not an application mutex.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DecisionNew, err
	}
	defer tx.Rollback() //nolint:errcheck

	var prior string
	err = tx.QueryRowContext(ctx,
		`SELECT content_hash FROM dedup_records WHERE source = $1 AND item_id = $2 FOR UPDATE`,
		source, itemID).Scan(&prior)

	var decision Decision
	switch {
	case errors.Is(err, sql.ErrNoRows):
		decision = DecisionNew
	case err != nil:
		return DecisionNew, err
	case prior == contentHash:
		decision = DecisionUnchanged
	default:
		decision = DecisionUpdated
	}

	upsert := `INSERT INTO dedup_records (source, item_id, content_hash, first_seen, last_seen_at, last_seen_run_id)
		VALUES ($1, $2, $3, NOW(), NOW(), $4)
		ON CONFLICT (source, item_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			last_seen_at = NOW(),
			last_seen_run_id = EXCLUDED.last_seen_run_id`
	if _, err := tx.ExecContext(ctx, upsert, source, itemID, contentHash, runID); err != nil {
		return decision, err
	}

	if err := tx.Commit(); err != nil {
		return decision, err
	}

	s.mu.Lock()
	s.cache[key] = contentHash
	s.mu.Unlock()

	if s.journal != nil && decision != DecisionUnchanged {
		if err := s.journal.Append(source, itemID, contentHash, runID); err != nil {
			return decision, fmt.Errorf("append dedup journal: %w", err)
		}
	}

	return decision, nil
}

func (s *PostgresStore) Stats(ctx context.Context, source string) (*Stats, error) {
	var stats Stats
	var last sql.NullTime
	query := `SELECT COUNT(*), MAX(last_seen_at) FROM dedup_records WHERE source = $1`
	if err := s.db.QueryRowContext(ctx, query, source).Scan(&stats.TotalItems, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		stats.LastActivity = last.Time
	}
	return &stats, nil
}

// Close flushes the journal so no acknowledged decision is lost.
func (s *PostgresStore) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}
