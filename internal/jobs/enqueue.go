package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/notification"
	"orgdir.io/orgdir/internal/pkg/logger"
)

// Inserter is the part of *river.Client[pgx.Tx] the enqueuer uses.
type Inserter interface {
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
	InsertManyTx(ctx context.Context, tx pgx.Tx, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
}

// Enqueuer turns committed events into jobs.
type Enqueuer struct {
	client  Inserter
	project bool
	log     *zap.Logger
}

// NewEnqueuer creates an Enqueuer. With project set, a projection refresh job
// is enqueued for every entity type an event batch touches.
func NewEnqueuer(client Inserter, project bool) *Enqueuer {
	return &Enqueuer{client: client, project: project, log: logger.Named("enqueuer")}
}

// EnqueueTx inserts the jobs of events in tx. They become visible to workers
// only when tx commits.
func (e *Enqueuer) EnqueueTx(ctx context.Context, tx pgx.Tx, events []domain.Event) error {
	params, err := BuildParams(events, e.project)
	if err != nil || len(params) == 0 {
		return err
	}
	if _, err := e.client.InsertManyTx(ctx, tx, params); err != nil {
		return fmt.Errorf("enqueue %d jobs: %w", len(params), err)
	}
	return nil
}

// Enqueue inserts the jobs of events that were committed without a
// transaction.
func (e *Enqueuer) Enqueue(ctx context.Context, events []domain.Event) error {
	params, err := BuildParams(events, e.project)
	if err != nil || len(params) == 0 {
		return err
	}
	if _, err := e.client.InsertMany(ctx, params); err != nil {
		return fmt.Errorf("enqueue %d jobs: %w", len(params), err)
	}
	e.log.Debug("jobs enqueued", zap.Int("count", len(params)))
	return nil
}

// BuildParams returns one notification job per event, carrying the routing
// attributes as job metadata, followed by the projection jobs when project
// is set.
func BuildParams(events []domain.Event, project bool) ([]river.InsertManyParams, error) {
	params := make([]river.InsertManyParams, 0, len(events)+1)
	for _, ev := range events {
		args := EventNotificationArgs{Message: notification.FromEvent(ev)}
		meta, err := json.Marshal(args.Attributes())
		if err != nil {
			return nil, fmt.Errorf("encode routing attributes: %w", err)
		}
		opts := args.InsertOpts()
		opts.Metadata = meta
		params = append(params, river.InsertManyParams{Args: args, InsertOpts: &opts})
	}
	if project {
		for _, args := range RefreshTargets(events) {
			params = append(params, river.InsertManyParams{Args: args})
		}
	}
	return params, nil
}

// RefreshTargets groups the entities events touch by type, in
// domain.EntityTypes order with sorted ids.
func RefreshTargets(events []domain.Event) []ProjectArgs {
	byType := make(map[domain.EntityType]map[string]struct{})
	for _, ev := range events {
		if byType[ev.EntityType] == nil {
			byType[ev.EntityType] = make(map[string]struct{})
		}
		byType[ev.EntityType][ev.EntityID] = struct{}{}
	}
	var out []ProjectArgs
	for _, t := range domain.EntityTypes() {
		set, ok := byType[t]
		if !ok {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = append(out, ProjectArgs{EntityType: t, EntityIDs: ids})
	}
	return out
}
