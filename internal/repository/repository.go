// Package repository is the Postgres backend of the command handlers. It
// joins the event store and the reservation store in one transaction and
// publishes committed events: jobs are inserted in the same transaction, so
// they exist only if the events do, and after-commit hooks run once the
// transaction is durable.
//
// Import Path: orgdir.io/orgdir/internal/repository
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/command"
	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/eventstore"
	"orgdir.io/orgdir/internal/pkg/logger"
	"orgdir.io/orgdir/internal/pkg/pgxtx"
	"orgdir.io/orgdir/internal/reservation"
)

// Publisher enqueues the downstream jobs of committed events.
type Publisher interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, events []domain.Event) error
	Enqueue(ctx context.Context, events []domain.Event) error
}

// AfterCommit runs after events are durable. It must not block.
type AfterCommit func(ctx context.Context, events []domain.Event)

// Repository implements command.Backend on Postgres.
type Repository struct {
	pool         pgxtx.Pool
	events       *eventstore.Store
	reservations *reservation.Store
	publisher    Publisher
	hooks        []AfterCommit
	log          *zap.Logger
}

var _ command.Backend = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithPublisher publishes every committed event through p.
func WithPublisher(p Publisher) Option {
	return func(r *Repository) { r.publisher = p }
}

// WithAfterCommit adds a hook run after every commit.
func WithAfterCommit(h AfterCommit) Option {
	return func(r *Repository) { r.hooks = append(r.hooks, h) }
}

// New creates a Repository on pool.
func New(pool pgxtx.Pool, opts ...Option) *Repository {
	r := &Repository{
		pool:         pool,
		events:       eventstore.New(pool),
		reservations: reservation.New(pool),
		log:          logger.Named("repository"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateIndexes creates the event and reservation tables.
func (r *Repository) CreateIndexes(ctx context.Context) error {
	if err := r.events.CreateIndexes(ctx); err != nil {
		return err
	}
	return r.reservations.CreateIndexes(ctx)
}

// EntityStates derives lifecycle states from the event store.
func (r *Repository) EntityStates(ctx context.Context, entityType domain.EntityType, entityIDs []string) (map[string]domain.EntityState, error) {
	return r.events.EntityStates(ctx, entityType, entityIDs)
}

// EntityIDs lists every entity of a type that has events.
func (r *Repository) EntityIDs(ctx context.Context, entityType domain.EntityType) ([]string, error) {
	return r.events.EntityIDs(ctx, entityType)
}

// Reservation returns the reservation holding a natural-key value, if any.
func (r *Repository) Reservation(ctx context.Context, entityType domain.EntityType, key, value string) (domain.Reservation, bool, error) {
	return r.reservations.Lookup(ctx, entityType, key, value)
}

// Events returns the ordered events of entities.
func (r *Repository) Events(ctx context.Context, entityType domain.EntityType, entityIDs []string) ([]domain.Event, error) {
	return r.events.Events(ctx, entityType, entityIDs)
}

// Push appends events. A single event is written without a transaction and
// published right after; several events go through InTx.
func (r *Repository) Push(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	if len(events) != 1 {
		var pushed []domain.Event
		err := r.InTx(ctx, func(uow command.UnitOfWork) error {
			var err error
			pushed, err = uow.Push(ctx, events)
			return err
		})
		return pushed, err
	}

	pushed, err := r.events.Push(ctx, events)
	if err != nil {
		return nil, err
	}
	if r.publisher != nil {
		// The event is committed; a publish failure must not fail the command.
		if err := r.publisher.Enqueue(ctx, pushed); err != nil {
			r.log.Error("publish committed event",
				zap.String("entity_type", string(pushed[0].EntityType)),
				zap.String("entity_id", pushed[0].EntityID),
				zap.Error(err),
			)
		}
	}
	r.afterCommit(ctx, pushed)
	return pushed, nil
}

// InTx runs fn in a transaction. Jobs for the pushed events are inserted in
// the same transaction; hooks run after commit.
func (r *Repository) InTx(ctx context.Context, fn func(uow command.UnitOfWork) error) error {
	uow := &unitOfWork{}
	err := pgxtx.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		uow.events = r.events.WithTx(tx)
		uow.reservations = r.reservations.WithTx(tx)
		if err := fn(uow); err != nil {
			return err
		}
		if r.publisher != nil && len(uow.pushed) > 0 {
			if err := r.publisher.EnqueueTx(ctx, tx, uow.pushed); err != nil {
				return fmt.Errorf("publish events: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.afterCommit(ctx, uow.pushed)
	return nil
}

func (r *Repository) afterCommit(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, h := range r.hooks {
		h(ctx, events)
	}
}

// unitOfWork binds the stores to one transaction and records what was pushed.
type unitOfWork struct {
	events       *eventstore.Store
	reservations *reservation.Store
	pushed       []domain.Event
}

func (u *unitOfWork) Push(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	pushed, err := u.events.Push(ctx, events)
	if err != nil {
		return nil, err
	}
	u.pushed = append(u.pushed, pushed...)
	return pushed, nil
}

func (u *unitOfWork) Reserve(ctx context.Context, entries []domain.Reservation) error {
	_, err := u.reservations.Reserve(ctx, entries)
	return err
}

func (u *unitOfWork) Release(ctx context.Context, claims []domain.Claim) error {
	_, err := u.reservations.Release(ctx, claims)
	return err
}
