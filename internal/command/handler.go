// Package command implements the per-entity command handlers. Each verb
// validates its input, checks the lifecycle state of the targeted entities,
// reserves or releases natural keys and appends events, all-or-nothing.
//
// Import Path: orgdir.io/orgdir/internal/command
package command

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	apperrors "orgdir.io/orgdir/internal/pkg/errors"
	"orgdir.io/orgdir/internal/pkg/logger"
)

// UnitOfWork is the transactional view handed to InTx callbacks. Every call
// joins the same transaction.
type UnitOfWork interface {
	Push(ctx context.Context, events []domain.Event) ([]domain.Event, error)
	Reserve(ctx context.Context, entries []domain.Reservation) error
	Release(ctx context.Context, claims []domain.Claim) error
}

// Backend is the storage the handlers drive. Push outside InTx follows the
// event store rules: a single event is written without a transaction.
type Backend interface {
	EntityStates(ctx context.Context, entityType domain.EntityType, entityIDs []string) (map[string]domain.EntityState, error)
	Events(ctx context.Context, entityType domain.EntityType, entityIDs []string) ([]domain.Event, error)
	Push(ctx context.Context, events []domain.Event) ([]domain.Event, error)
	InTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// Item is one command input: the targeted entity, optional date and actor,
// and the typed values.
type Item[V any] struct {
	EntityID string    `json:"entityId,omitempty"`
	Date     time.Time `json:"date,omitempty"`
	UserID   string    `json:"userId,omitempty"`
	Values   V         `json:"values"`
}

// Target addresses an existing entity for commands without values.
type Target struct {
	EntityID string    `json:"entityId" validate:"required"`
	Date     time.Time `json:"date,omitempty"`
	UserID   string    `json:"userId,omitempty"`
}

// naturalKey describes the reserved key of an entity type and how to read
// its value from the entity's values.
type naturalKey struct {
	name  string
	value func(domain.Values) string
}

// entry is a validated command item in untyped form.
type entry struct {
	entityID string
	date     time.Time
	userID   string
	values   domain.Values
}

// plan describes one write: events with one command for each entry, the
// optional guard and the reservation changes made in the same transaction.
type plan struct {
	command          domain.Command
	entries          []entry
	when             *domain.Eligibility
	release          []domain.Claim
	reserve          []domain.Reservation
	omitFromHistory  bool
	omitFromModified bool
}

// Handler is the entity-agnostic part of every command handler.
type Handler struct {
	entityType domain.EntityType
	backend    Backend
	key        *naturalKey
	now        func() time.Time
	log        *zap.Logger
}

func newHandler(entityType domain.EntityType, backend Backend, key *naturalKey) *Handler {
	return &Handler{
		entityType: entityType,
		backend:    backend,
		key:        key,
		now:        time.Now,
		log:        logger.Named("command").With(zap.String("entity_type", string(entityType))),
	}
}

// EntityType returns the entity type the handler writes.
func (h *Handler) EntityType() domain.EntityType { return h.entityType }

// States returns the derived lifecycle states of the given entities.
func (h *Handler) States(ctx context.Context, entityIDs []string) (map[string]domain.EntityState, error) {
	return h.backend.EntityStates(ctx, h.entityType, entityIDs)
}

// CanPush fails with ENTITY_NOT_ELIGIBLE, naming the offending ids, when any
// entity does not satisfy when.
func (h *Handler) CanPush(ctx context.Context, entityIDs []string, when domain.Eligibility) error {
	return canPush(ctx, h.backend, h.entityType, entityIDs, when, h.log)
}

func canPush(
	ctx context.Context,
	backend Backend,
	entityType domain.EntityType,
	entityIDs []string,
	when domain.Eligibility,
	log *zap.Logger,
) error {
	ids := unique(entityIDs)
	states, err := backend.EntityStates(ctx, entityType, ids)
	if err != nil {
		return fmt.Errorf("load %s states: %w", entityType, err)
	}
	var rejected []string
	for _, id := range ids {
		st, ok := states[id]
		if !when.Accept(st, ok) {
			rejected = append(rejected, id)
		}
	}
	if len(rejected) > 0 {
		log.Warn("entities not eligible",
			zap.String("target_type", string(entityType)),
			zap.Strings("entity_ids", rejected),
			zap.String("required", when.State),
		)
		return apperrors.ErrNotEligiblef(string(entityType), when.State, rejected)
	}
	return nil
}

// executeCreate pushes one CREATE per entry without an eligibility guard. When
// the entity type has a natural key it is reserved in the same transaction,
// before the events are written.
func (h *Handler) executeCreate(ctx context.Context, entries []entry) ([]domain.Event, error) {
	for i := range entries {
		if entries[i].entityID != "" {
			continue
		}
		id, err := domain.NewEntityID()
		if err != nil {
			return nil, err
		}
		entries[i].entityID = id
	}
	p := plan{command: domain.CommandCreate, entries: entries}
	if h.key != nil {
		p.reserve = h.reservations(entries, nil)
	}
	return h.run(ctx, p)
}

// executeUpdate pushes cmd for each entry once every entity is CREATED.
func (h *Handler) executeUpdate(ctx context.Context, cmd domain.Command, entries []entry) ([]domain.Event, error) {
	when := domain.WhenCreated
	return h.run(ctx, plan{command: cmd, entries: entries, when: &when})
}

// executeDelete pushes DELETE for CREATED entities and releases their natural key.
func (h *Handler) executeDelete(ctx context.Context, targets []Target) ([]domain.Event, error) {
	when := domain.WhenCreated
	p := plan{command: domain.CommandDelete, entries: targetEntries(targets), when: &when}
	if h.key != nil {
		for _, e := range p.entries {
			p.release = append(p.release, domain.Claim{EntityID: e.entityID, EntityType: h.entityType, Key: h.key.name})
		}
	}
	return h.run(ctx, p)
}

// executeRestore pushes RESTORE for DELETED entities. The natural key each
// entity last held is reserved again; if it was taken meanwhile the restore
// fails with KEY_IN_USE.
func (h *Handler) executeRestore(ctx context.Context, entries []entry) ([]domain.Event, error) {
	ids := entryIDs(entries)
	if err := h.CanPush(ctx, ids, domain.WhenDeleted); err != nil {
		return nil, err
	}
	p := plan{command: domain.CommandRestore, entries: entries}
	if h.key != nil {
		events, err := h.backend.Events(ctx, h.entityType, ids)
		if err != nil {
			return nil, fmt.Errorf("load %s events: %w", h.entityType, err)
		}
		p.reserve = h.reservations(entries, domain.CurrentValues(events))
	}
	return h.run(ctx, p)
}

// reservations builds the natural-key claims of entries. Values of an entry
// are merged over current, so a restore that carries values wins.
func (h *Handler) reservations(entries []entry, current map[string]domain.Values) []domain.Reservation {
	var out []domain.Reservation
	for _, e := range entries {
		values := domain.MergeValues(current[e.entityID], e.values)
		v := h.key.value(values)
		if v == "" {
			continue
		}
		out = append(out, domain.Reservation{
			EntityID:   e.entityID,
			EntityType: h.entityType,
			Key:        h.key.name,
			Value:      v,
		})
	}
	return out
}

// run checks the guards, then writes the events of every plan as one batch.
// Reservation changes and the events share one transaction: release first,
// then reserve, then push.
func (h *Handler) run(ctx context.Context, plans ...plan) ([]domain.Event, error) {
	var (
		events  []domain.Event
		release []domain.Claim
		reserve []domain.Reservation
		written []plan
	)
	for _, p := range plans {
		if len(p.entries) == 0 {
			continue
		}
		if p.when != nil {
			if err := h.CanPush(ctx, entryIDs(p.entries), *p.when); err != nil {
				return nil, err
			}
		}
		for _, e := range p.entries {
			events = append(events, domain.Event{
				EntityID:         e.entityID,
				EntityType:       h.entityType,
				Command:          p.command,
				Date:             e.date,
				Values:           e.values,
				UserID:           domain.UserRef(e.userID),
				OmitFromHistory:  p.omitFromHistory,
				OmitFromModified: p.omitFromModified,
			})
		}
		release = append(release, p.release...)
		reserve = append(reserve, p.reserve...)
		written = append(written, p)
	}
	if len(events) == 0 {
		return nil, nil
	}

	var (
		pushed []domain.Event
		err    error
	)
	if len(release) == 0 && len(reserve) == 0 {
		pushed, err = h.backend.Push(ctx, events)
	} else {
		err = h.backend.InTx(ctx, func(uow UnitOfWork) error {
			if len(release) > 0 {
				if err := uow.Release(ctx, release); err != nil {
					return err
				}
			}
			if len(reserve) > 0 {
				if err := uow.Reserve(ctx, reserve); err != nil {
					return err
				}
			}
			var perr error
			pushed, perr = uow.Push(ctx, events)
			return perr
		})
	}
	if err != nil {
		switch _, ok := apperrors.IsAppError(err); {
		case apperrors.IsConflict(err):
			h.log.Warn("command rejected", zap.String("command", string(written[0].command)), zap.Error(err))
		case !ok:
			h.log.Error("command failed", zap.String("command", string(written[0].command)), zap.Error(err))
		}
		return nil, err
	}

	for _, p := range written {
		h.log.Info("command committed",
			zap.String("command", string(p.command)),
			zap.Int("count", len(p.entries)),
			zap.String("user_id", p.entries[0].userID),
		)
	}
	return pushed, nil
}

func targetEntries(targets []Target) []entry {
	out := make([]entry, 0, len(targets))
	for _, t := range targets {
		out = append(out, entry{entityID: t.EntityID, date: t.Date, userID: t.UserID, values: domain.Values{}})
	}
	return out
}

func entryIDs(entries []entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.entityID)
	}
	return ids
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
