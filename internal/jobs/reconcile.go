package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/pkg/logger"
)

// DefaultReconcileInterval is how often every read model is rebuilt from the
// event store.
const DefaultReconcileInterval = 24 * time.Hour

// ReconcileArgs is a periodic maintenance job that refreshes every entity of
// every type, repairing read models whose refresh was lost.
type ReconcileArgs struct{}

// Kind returns the job kind identifier for periodic reconciliation.
func (ReconcileArgs) Kind() string { return "projection_reconcile" }

// InsertOpts ensures at most one reconcile job is enqueued within the same day.
func (ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueProjections,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: DefaultReconcileInterval,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ReconcileWorker refreshes all read models.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	refresher Refresher
}

// NewReconcileWorker creates a reconcile worker.
func NewReconcileWorker(refresher Refresher) *ReconcileWorker {
	return &ReconcileWorker{refresher: refresher}
}

// Work refreshes each entity type in turn, parents first.
func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[ReconcileArgs]) error {
	if w == nil || w.refresher == nil {
		return fmt.Errorf("reconcile worker is not initialized")
	}

	start := time.Now()
	for _, t := range domain.EntityTypes() {
		if err := w.refresher.Refresh(ctx, t, nil); err != nil {
			return fmt.Errorf("reconcile %s: %w", t, err)
		}
	}

	logger.Info("projection reconcile completed",
		zap.Int("entity_types", len(domain.EntityTypes())),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// ReconcileJob returns the periodic job that enqueues ReconcileArgs every
// interval.
func ReconcileJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ReconcileArgs{}, nil
		},
		&river.PeriodicJobOpts{},
	)
}
