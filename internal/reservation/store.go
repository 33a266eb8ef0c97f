// Package reservation holds uniqueness claims on natural keys (user email,
// application and organization keys, workspace app:org:key). Claims live
// outside the event log and are written in the same transaction as the
// events they protect.
//
// Import Path: orgdir.io/orgdir/internal/reservation
package reservation

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
	"orgdir.io/orgdir/internal/pkg/logger"
	"orgdir.io/orgdir/internal/pkg/pgxtx"
)

//go:embed schema.sql
var schemaSQL string

const valueUniqueConstraint = "reservations_value_unique"

// Store reads and writes reservations.
type Store struct {
	db  pgxtx.DBTX
	log *zap.Logger
}

// New creates a Store on db, which may be a pool or a transaction.
func New(db pgxtx.DBTX) *Store {
	return &Store{db: db, log: logger.Named("reservation")}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx, log: s.log}
}

// CreateIndexes creates the reservations table and its indexes.
func (s *Store) CreateIndexes(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create reservation schema: %w", err)
	}
	return nil
}

const insertReservationSQL = `
INSERT INTO reservations (id, entity_id, entity_type, key, value)
VALUES ($1, $2, $3, $4, $5)`

// Reserve inserts the reservations in order. A value already held for the
// same entity type and key fails with KEY_IN_USE; callers run Reserve inside
// the transaction of the command it protects so the failure aborts it.
func (s *Store) Reserve(ctx context.Context, entries []domain.Reservation) ([]domain.Reservation, error) {
	out := make([]domain.Reservation, 0, len(entries))
	for _, r := range entries {
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("generate reservation id: %w", err)
			}
			r.ID = id
		}
		_, err := s.db.Exec(ctx, insertReservationSQL, r.ID, r.EntityID, string(r.EntityType), r.Key, r.Value)
		if err != nil {
			if pgxtx.IsUniqueViolation(err, valueUniqueConstraint) {
				s.log.Warn("reservation conflict",
					zap.String("entity_type", string(r.EntityType)),
					zap.String("key", r.Key),
					zap.String("entity_id", r.EntityID),
				)
				return nil, apperrors.ErrKeyInUsef(string(r.EntityType), r.Key, r.Value, err)
			}
			return nil, fmt.Errorf("reserve %s %s for %s: %w", r.EntityType, r.Key, r.EntityID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

const deleteReservationSQL = `
DELETE FROM reservations
WHERE entity_id = $1 AND entity_type = $2 AND key = $3`

// Release deletes the reservations matching each claim, whatever their value.
// Releasing a claim that holds nothing is not an error.
func (s *Store) Release(ctx context.Context, claims []domain.Claim) (int64, error) {
	var released int64
	for _, c := range claims {
		tag, err := s.db.Exec(ctx, deleteReservationSQL, c.EntityID, string(c.EntityType), c.Key)
		if err != nil {
			return released, fmt.Errorf("release %s %s for %s: %w", c.EntityType, c.Key, c.EntityID, err)
		}
		released += tag.RowsAffected()
	}
	return released, nil
}

const lookupReservationSQL = `
SELECT id, entity_id, entity_type, key, value
FROM reservations
WHERE entity_type = $1 AND key = $2 AND value = $3`

// Lookup returns the reservation holding value, if any.
func (s *Store) Lookup(ctx context.Context, entityType domain.EntityType, key, value string) (domain.Reservation, bool, error) {
	var (
		r  domain.Reservation
		et string
	)
	err := s.db.QueryRow(ctx, lookupReservationSQL, string(entityType), key, value).
		Scan(&r.ID, &r.EntityID, &et, &r.Key, &r.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, false, nil
	}
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("lookup %s %s: %w", entityType, key, err)
	}
	r.EntityType = domain.EntityType(et)
	return r, true, nil
}
