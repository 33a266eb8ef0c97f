package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"orgdir.io/orgdir/internal/domain"
)

// Refresher rebuilds the read models of entities.
type Refresher interface {
	Refresh(ctx context.Context, entityType domain.EntityType, entityIDs []string) error
}

// ProjectArgs asks for a projection refresh of some entities of one type.
type ProjectArgs struct {
	EntityType domain.EntityType `json:"entity_type"`
	EntityIDs  []string          `json:"entity_ids"`
}

// Kind returns the job kind identifier for projection refreshes.
func (ProjectArgs) Kind() string { return "projection_refresh" }

// InsertOpts returns default insert options for projection refreshes.
func (ProjectArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueProjections,
		MaxAttempts: 10,
	}
}

// ProjectWorker runs projection refreshes.
type ProjectWorker struct {
	river.WorkerDefaults[ProjectArgs]
	refresher Refresher
}

// NewProjectWorker creates a projection worker.
func NewProjectWorker(refresher Refresher) *ProjectWorker {
	return &ProjectWorker{refresher: refresher}
}

// Work refreshes the entities named by the job.
func (w *ProjectWorker) Work(ctx context.Context, job *river.Job[ProjectArgs]) error {
	if w == nil || w.refresher == nil {
		return fmt.Errorf("projection worker is not initialized")
	}
	if !job.Args.EntityType.Valid() {
		return river.JobCancel(fmt.Errorf("unknown entity type %q", job.Args.EntityType))
	}
	return w.refresher.Refresh(ctx, job.Args.EntityType, job.Args.EntityIDs)
}
