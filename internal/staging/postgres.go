package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const documentColumns = `id, source, target_collection, content, metadata, embedding_status,
	chunk_index, total_chunks, retry_count, COALESCE(error_message, ''), created_at, updated_at`

type PostgresStore struct {
	db         *sql.DB
	maxRetries int
}

func NewPostgresStore(db *sql.DB, maxRetries int) *PostgresStore {
	return &PostgresStore{db: db, maxRetries: maxRetries}
}

func (s *PostgresStore) StageBatch(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT INTO document_staging
		(id, source, target_collection, content, metadata, embedding_status, chunk_index, total_chunks)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		ON CONFLICT (id) DO NOTHING`

	inserted := 0
	for i := range docs {
		doc := &docs[i]
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata for %s: %w", doc.ID, err)
		}
		res, err := tx.ExecContext(ctx, query,
			doc.ID, doc.Source, doc.TargetCollection, doc.Content, meta, doc.ChunkIndex, doc.TotalChunks)
		if err != nil {
			return 0, fmt.Errorf("stage %s: %w", doc.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *PostgresStore) GetPendingBatch(ctx context.Context, limit int) ([]Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM document_staging
		WHERE embedding_status = 'pending' OR (embedding_status = 'failed' AND retry_count < $1)
		ORDER BY created_at ASC
		LIMIT $2`, documentColumns)

	rows, err := s.db.QueryContext(ctx, query, s.maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func (s *PostgresStore) MarkInProgress(ctx context.Context, id string) (bool, error) {
	query := `UPDATE document_staging SET embedding_status = 'in_progress', updated_at = NOW()
		WHERE id = $1 AND embedding_status IN ('pending', 'failed')`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, errorMessage string, incrementRetry bool) error {
	increment := 0
	if incrementRetry {
		increment = 1
	}
	query := `UPDATE document_staging
		SET embedding_status = $2, error_message = NULLIF($3, ''), retry_count = retry_count + $4, updated_at = NOW()
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, string(status), errorMessage, increment)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("staged document %s not found", id)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (map[Status]int, error) {
	return s.stats(ctx, `SELECT embedding_status, COUNT(*) FROM document_staging GROUP BY embedding_status`)
}

func (s *PostgresStore) StatsBySource(ctx context.Context, source string) (map[Status]int, error) {
	return s.stats(ctx, `SELECT embedding_status, COUNT(*) FROM document_staging WHERE source = $1 GROUP BY embedding_status`, source)
}

func (s *PostgresStore) stats(ctx context.Context, query string, args ...any) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) FailedPermanently(ctx context.Context, limit int) ([]Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM document_staging
		WHERE embedding_status = 'failed' AND retry_count >= $1
		ORDER BY updated_at DESC
		LIMIT $2`, documentColumns)

	rows, err := s.db.QueryContext(ctx, query, s.maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var status string
		var meta []byte
		if err := rows.Scan(&d.ID, &d.Source, &d.TargetCollection, &d.Content, &meta, &status,
			&d.ChunkIndex, &d.TotalChunks, &d.RetryCount, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Status = Status(status)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", d.ID, err)
			}
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
