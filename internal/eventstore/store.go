// Package eventstore is the append-only event log. Events are inserted, never
// updated or deleted, and the lifecycle state of an entity is derived by
// replaying its CREATE/DELETE/RESTORE events in (date, id) order.
//
// Import Path: orgdir.io/orgdir/internal/eventstore
package eventstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
	"orgdir.io/orgdir/internal/pkg/logger"
	"orgdir.io/orgdir/internal/pkg/pgxtx"
	"orgdir.io/orgdir/internal/pkg/validate"
)

//go:embed schema.sql
var schemaSQL string

// createOnceIndex enforces at most one CREATE per entity.
const createOnceIndex = "events_create_once"

// Store reads and appends events. A Store returned by WithTx runs every
// statement inside the caller's transaction.
type Store struct {
	db       pgxtx.DBTX
	beginner pgxtx.Beginner
	inTx     bool
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Store on a pool.
func New(pool pgxtx.Pool) *Store {
	return &Store{
		db:       pool,
		beginner: pool,
		now:      time.Now,
		log:      logger.Named("eventstore"),
	}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{
		db:       tx,
		beginner: tx,
		inTx:     true,
		now:      s.now,
		log:      s.log,
	}
}

// CreateIndexes creates the events table and its ordering, state-lookup and
// CREATE-uniqueness indexes. It is idempotent.
func (s *Store) CreateIndexes(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create event store schema: %w", err)
	}
	return nil
}

// Push validates every event, then inserts them. Nothing is written when any
// event is invalid. A single event is inserted without a transaction; several
// events are inserted atomically. The persisted events are returned with
// their generated ids and dates.
func (s *Store) Push(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	prepared := make([]domain.Event, len(events))
	now := s.now()
	var fieldErrs []apperrors.FieldError
	for i, e := range events {
		if err := e.ApplyDefaults(now); err != nil {
			return nil, fmt.Errorf("prepare event: %w", err)
		}
		fieldErrs = append(fieldErrs, eventFieldErrors(i, e)...)
		prepared[i] = e
	}
	if len(fieldErrs) > 0 {
		return nil, apperrors.ErrInvalidEvent(fieldErrs)
	}

	if len(prepared) == 1 || s.inTx {
		if err := insertAll(ctx, s.db, prepared); err != nil {
			return nil, err
		}
	} else {
		err := pgxtx.WithTx(ctx, s.beginner, func(tx pgx.Tx) error {
			return insertAll(ctx, tx, prepared)
		})
		if err != nil {
			return nil, err
		}
	}

	s.log.Debug("events pushed",
		zap.Int("count", len(prepared)),
		zap.String("entity_type", string(prepared[0].EntityType)),
		zap.String("command", string(prepared[0].Command)),
		zap.Bool("in_tx", s.inTx),
	)
	return prepared, nil
}

func eventFieldErrors(i int, e domain.Event) []apperrors.FieldError {
	err := validate.V().Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apperrors.FieldError{{Field: "events[" + strconv.Itoa(i) + "]", Code: "invalid", Message: err.Error()}}
	}
	out := validate.FieldErrors(verrs)
	for j := range out {
		out[j].Field = "events[" + strconv.Itoa(i) + "]." + out[j].Field
	}
	return out
}

const insertEventSQL = `
INSERT INTO events (id, entity_id, entity_type, command, occurred_at, payload, user_id, omit_from_history, omit_from_modified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func insertAll(ctx context.Context, db pgxtx.DBTX, events []domain.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e.Values)
		if err != nil {
			return fmt.Errorf("encode values for %s %s: %w", e.EntityType, e.EntityID, err)
		}
		_, err = db.Exec(ctx, insertEventSQL,
			e.ID, e.EntityID, string(e.EntityType), string(e.Command), e.Date,
			payload, e.UserID, e.OmitFromHistory, e.OmitFromModified,
		)
		if err != nil {
			if pgxtx.IsUniqueViolation(err, createOnceIndex) {
				return apperrors.ErrDuplicateCreatef(string(e.EntityType), e.EntityID, err)
			}
			return fmt.Errorf("insert %s event for %s %s: %w", e.Command, e.EntityType, e.EntityID, err)
		}
	}
	return nil
}

const entityStatesSQL = `
SELECT entity_id,
       (array_agg(command ORDER BY occurred_at, id))[1]           AS first_command,
       (array_agg(command ORDER BY occurred_at DESC, id DESC))[1] AS last_command
FROM events
WHERE entity_type = $1
  AND entity_id = ANY($2)
  AND command IN ('CREATE', 'DELETE', 'RESTORE')
GROUP BY entity_id`

// EntityStates derives the lifecycle state of each entity. Entities that were
// never created are absent from the result.
func (s *Store) EntityStates(ctx context.Context, entityType domain.EntityType, entityIDs []string) (map[string]domain.EntityState, error) {
	states := make(map[string]domain.EntityState, len(entityIDs))
	if len(entityIDs) == 0 {
		return states, nil
	}

	rows, err := s.db.Query(ctx, entityStatesSQL, string(entityType), entityIDs)
	if err != nil {
		return nil, fmt.Errorf("query %s states: %w", entityType, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, first, last string
		if err := rows.Scan(&id, &first, &last); err != nil {
			return nil, fmt.Errorf("scan %s state: %w", entityType, err)
		}
		if st, ok := domain.StateFromBounds(domain.Command(first), domain.Command(last)); ok {
			states[id] = st
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s states: %w", entityType, err)
	}
	return states, nil
}

const selectEventsSQL = `
SELECT id, entity_id, entity_type, command, occurred_at, payload, user_id, omit_from_history, omit_from_modified
FROM events
WHERE entity_type = $1
  AND (cardinality($2::text[]) = 0 OR entity_id = ANY($2))
ORDER BY entity_id, occurred_at, id`

// Events returns the events of the given entities, grouped by entity and in
// stream order. An empty id list selects every entity of the type.
func (s *Store) Events(ctx context.Context, entityType domain.EntityType, entityIDs []string) ([]domain.Event, error) {
	if entityIDs == nil {
		entityIDs = []string{}
	}
	rows, err := s.db.Query(ctx, selectEventsSQL, string(entityType), entityIDs)
	if err != nil {
		return nil, fmt.Errorf("query %s events: %w", entityType, err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			et, cmd string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &et, &cmd, &e.Date, &payload, &e.UserID, &e.OmitFromHistory, &e.OmitFromModified); err != nil {
			return nil, fmt.Errorf("scan %s event: %w", entityType, err)
		}
		e.EntityType = domain.EntityType(et)
		e.Command = domain.Command(cmd)
		e.Date = e.Date.UTC()
		if err := json.Unmarshal(payload, &e.Values); err != nil {
			return nil, fmt.Errorf("decode values of event %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s events: %w", entityType, err)
	}
	return out, nil
}

const entityIDsSQL = `SELECT DISTINCT entity_id FROM events WHERE entity_type = $1 ORDER BY entity_id`

// EntityIDs lists every entity of a type that has at least one event.
func (s *Store) EntityIDs(ctx context.Context, entityType domain.EntityType) ([]string, error) {
	rows, err := s.db.Query(ctx, entityIDsSQL, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("query %s ids: %w", entityType, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect %s ids: %w", entityType, err)
	}
	return ids, nil
}
