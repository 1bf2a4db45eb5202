// Package sourcemeta persists per-source run history in an embedded Badger
// store: last success and attempt times, cumulative counters, and a
// resumable checkpoint blob.
package sourcemeta

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// RunMetadata is one source's run history. Checkpoint carries whatever the
// source needs to resume a partially-completed sync, e.g. a cursor or a
// last-seen path.
type RunMetadata struct {
	SourceName          string            `json:"sourceName"`
	LastSuccessfulRun   time.Time         `json:"lastSuccessfulRun"`
	LastAttemptedRun    time.Time         `json:"lastAttemptedRun"`
	TotalItemsProcessed int64             `json:"totalItemsProcessed"`
	TotalItemsFailed    int64             `json:"totalItemsFailed"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	Checkpoint          map[string]string `json:"checkpoint,omitempty"`
}

// Store is a Badger-backed run metadata store.
type Store struct {
	db *badger.DB
}

var keyPrefix = []byte("runmeta:")

func metaKey(source string) []byte {
	return append(append([]byte{}, keyPrefix...), source...)
}

// NewStore opens (or creates) the store at the given path.
func NewStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewInMemoryStore opens a store that lives only for the process lifetime.
func NewInMemoryStore() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory metadata store: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordSuccess stamps a successful run, adds the run's counters, resets the
// consecutive-failure counter and replaces the checkpoint.
func (s *Store) RecordSuccess(ctx context.Context, source string, processed, failed int64, checkpoint map[string]string) error {
	return s.update(source, func(meta *RunMetadata) {
		now := time.Now().UTC()
		meta.LastSuccessfulRun = now
		meta.LastAttemptedRun = now
		meta.TotalItemsProcessed += processed
		meta.TotalItemsFailed += failed
		meta.ConsecutiveFailures = 0
		if checkpoint != nil {
			meta.Checkpoint = checkpoint
		}
	})
}

// RecordFailure stamps a failed attempt. The checkpoint is left untouched so
// the next run can still resume from the last good position.
func (s *Store) RecordFailure(ctx context.Context, source string) error {
	return s.update(source, func(meta *RunMetadata) {
		meta.LastAttemptedRun = time.Now().UTC()
		meta.ConsecutiveFailures++
	})
}

func (s *Store) update(source string, mutate func(*RunMetadata)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		meta := RunMetadata{SourceName: source}

		item, err := txn.Get(metaKey(source))
		switch {
		case err == badger.ErrKeyNotFound:
		case err != nil:
			return fmt.Errorf("read metadata for %s: %w", source, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return fmt.Errorf("decode metadata for %s: %w", source, err)
			}
		}

		mutate(&meta)

		encoded, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", source, err)
		}
		return txn.Set(metaKey(source), encoded)
	})
}

// Get returns the metadata for one source, or nil when the source has never
// run.
func (s *Store) Get(ctx context.Context, source string) (*RunMetadata, error) {
	var meta *RunMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(source))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded RunMetadata
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			meta = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get metadata for %s: %w", source, err)
	}
	return meta, nil
}

// List returns metadata for every source that has ever run.
func (s *Store) List(ctx context.Context) ([]RunMetadata, error) {
	var out []RunMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta RunMetadata
				if err := json.Unmarshal(val, &meta); err != nil {
					return err
				}
				out = append(out, meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
