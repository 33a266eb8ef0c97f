package projection

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/pkg/pgxtx"
)

//go:embed schema.sql
var schemaSQL string

// Store persists normalized and materialized documents in Postgres. Every
// write replaces the whole document.
type Store struct {
	pool pgxtx.Pool
}

// NewStore creates a Store on pool.
func NewStore(pool pgxtx.Pool) *Store {
	return &Store{pool: pool}
}

// CreateIndexes creates the document tables.
func (s *Store) CreateIndexes(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create projection schema: %w", err)
	}
	return nil
}

const (
	upsertNormalizedSQL = `
INSERT INTO normalized (entity_type, id, deleted, doc)
VALUES ($1, $2, $3, $4)
ON CONFLICT (entity_type, id) DO UPDATE
SET deleted = EXCLUDED.deleted, doc = EXCLUDED.doc, updated_at = now()
WHERE COALESCE((normalized.doc #>> '{_meta,touched,n}')::int, 0)
   <= COALESCE((EXCLUDED.doc #>> '{_meta,touched,n}')::int, 0)`

	upsertMaterializedSQL = `
INSERT INTO materialized (entity_type, id, deleted, doc)
VALUES ($1, $2, $3, $4)
ON CONFLICT (entity_type, id) DO UPDATE
SET deleted = EXCLUDED.deleted, doc = EXCLUDED.doc, updated_at = now()`
)

const lockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

// Locked runs fn in a transaction holding the advisory lock key. The lock is
// released when the transaction ends.
func (s *Store) Locked(ctx context.Context, key string, fn func(DocStore) error) error {
	return pgxtx.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockSQL, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		return fn(&Store{pool: tx})
	})
}

// UpsertNormalized writes docs in one transaction. A document folded from
// fewer events than the stored one is skipped.
func (s *Store) UpsertNormalized(ctx context.Context, docs []domain.Normalized) error {
	if len(docs) == 0 {
		return nil
	}
	return pgxtx.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, d := range docs {
			raw, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode normalized %s %s: %w", d.EntityType, d.ID, err)
			}
			if _, err := tx.Exec(ctx, upsertNormalizedSQL, string(d.EntityType), d.ID, d.Deleted, raw); err != nil {
				return fmt.Errorf("upsert normalized %s %s: %w", d.EntityType, d.ID, err)
			}
		}
		return nil
	})
}

// UpsertMaterialized writes docs in one transaction.
func (s *Store) UpsertMaterialized(ctx context.Context, docs []domain.Materialized) error {
	if len(docs) == 0 {
		return nil
	}
	return pgxtx.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, d := range docs {
			raw, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode materialized %s %s: %w", d.EntityType, d.ID, err)
			}
			if _, err := tx.Exec(ctx, upsertMaterializedSQL, string(d.EntityType), d.ID, d.Deleted, raw); err != nil {
				return fmt.Errorf("upsert materialized %s %s: %w", d.EntityType, d.ID, err)
			}
		}
		return nil
	})
}

const selectNormalizedSQL = `
SELECT doc FROM normalized
WHERE entity_type = $1
  AND (cardinality($2::text[]) = 0 OR id = ANY($2))
ORDER BY id`

// Normalized loads normalized documents by id. An empty id list loads every
// document of the type.
func (s *Store) Normalized(ctx context.Context, entityType domain.EntityType, ids []string) ([]domain.Normalized, error) {
	if ids == nil {
		ids = []string{}
	}
	rows, err := s.pool.Query(ctx, selectNormalizedSQL, string(entityType), ids)
	if err != nil {
		return nil, fmt.Errorf("query normalized %s: %w", entityType, err)
	}
	return collectNormalized(rows, entityType)
}

const selectNormalizedByFieldSQL = `
SELECT doc FROM normalized
WHERE entity_type = $1
  AND doc->>$2 = ANY($3)
ORDER BY id`

// NormalizedByField loads the documents of a type whose value field is one
// of values.
func (s *Store) NormalizedByField(ctx context.Context, entityType domain.EntityType, field string, values []string) ([]domain.Normalized, error) {
	if len(values) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, selectNormalizedByFieldSQL, string(entityType), field, values)
	if err != nil {
		return nil, fmt.Errorf("query normalized %s by %s: %w", entityType, field, err)
	}
	return collectNormalized(rows, entityType)
}

func collectNormalized(rows pgx.Rows, entityType domain.EntityType) ([]domain.Normalized, error) {
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Normalized, error) {
		var (
			raw []byte
			doc domain.Normalized
		)
		if err := row.Scan(&raw); err != nil {
			return doc, err
		}
		err := json.Unmarshal(raw, &doc)
		return doc, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect normalized %s: %w", entityType, err)
	}
	return docs, nil
}

const selectMaterializedSQL = `
SELECT doc FROM materialized
WHERE entity_type = $1
  AND (cardinality($2::text[]) = 0 OR id = ANY($2))
ORDER BY id`

// Materialized loads materialized documents by id. An empty id list loads
// every document of the type.
func (s *Store) Materialized(ctx context.Context, entityType domain.EntityType, ids []string) ([]domain.Materialized, error) {
	if ids == nil {
		ids = []string{}
	}
	rows, err := s.pool.Query(ctx, selectMaterializedSQL, string(entityType), ids)
	if err != nil {
		return nil, fmt.Errorf("query materialized %s: %w", entityType, err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Materialized, error) {
		var (
			raw []byte
			doc domain.Materialized
		)
		if err := row.Scan(&raw); err != nil {
			return doc, err
		}
		err := json.Unmarshal(raw, &doc)
		return doc, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect materialized %s: %w", entityType, err)
	}
	return docs, nil
}
