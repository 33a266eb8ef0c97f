package modules

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"orgdir.io/orgdir/internal/api/handlers"
	"orgdir.io/orgdir/internal/eventstore"
	"orgdir.io/orgdir/internal/jobs"
	"orgdir.io/orgdir/internal/projection"
)

// ProjectionModule owns the read model pipeline and its periodic full
// rebuild.
type ProjectionModule struct {
	Store    *projection.Store
	Pipeline *projection.Pipeline

	reconcile time.Duration
}

// NewProjectionModule builds the pipeline on the shared pool.
func NewProjectionModule(infra *Infrastructure) *ProjectionModule {
	store := projection.NewStore(infra.Pool)
	return &ProjectionModule{
		Store:     store,
		Pipeline:  projection.NewPipeline(eventstore.New(infra.Pool), store),
		reconcile: infra.Config.Projection.ReconcileInterval,
	}
}

func (m *ProjectionModule) Name() string { return "projection" }

func (m *ProjectionModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Normalizer = m.Pipeline.Normalizer()
	deps.Materializer = m.Pipeline.Materializer()
}

func (m *ProjectionModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewProjectWorker(m.Pipeline))
	river.AddWorker(workers, jobs.NewReconcileWorker(m.Pipeline))
}

// PeriodicJobs schedules the reconcile job unless its interval is zero.
func (m *ProjectionModule) PeriodicJobs() []*river.PeriodicJob {
	if m.reconcile <= 0 {
		return nil
	}
	return []*river.PeriodicJob{jobs.ReconcileJob(m.reconcile)}
}

func (m *ProjectionModule) Shutdown(context.Context) error { return nil }
