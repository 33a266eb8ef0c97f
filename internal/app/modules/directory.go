package modules

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/api/handlers"
	"orgdir.io/orgdir/internal/command"
	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/jobs"
	"orgdir.io/orgdir/internal/pkg/logger"
	"orgdir.io/orgdir/internal/pkg/worker"
	"orgdir.io/orgdir/internal/projection"
	"orgdir.io/orgdir/internal/repository"
)

// DirectoryModule owns the write side: the Postgres backend and the command
// handlers built on it. It needs the River client, so it is created after
// InitRiver.
type DirectoryModule struct {
	Repository *repository.Repository
	Commands   *command.Registry
}

// NewDirectoryModule wires the repository publisher. Notification jobs are
// always enqueued; projection refreshes are enqueued too when projection is
// async, otherwise they run in the projection pool after commit.
func NewDirectoryModule(infra *Infrastructure, proj *ProjectionModule) *DirectoryModule {
	async := infra.Config.Projection.Async
	var opts []repository.Option
	if infra.RiverClient != nil {
		opts = append(opts, repository.WithPublisher(jobs.NewEnqueuer(infra.RiverClient, async)))
	}
	if !async {
		opts = append(opts, repository.WithAfterCommit(
			InlineRefresh(infra.Pools, proj.Pipeline, infra.Config.Projection.Timeout),
		))
	}
	repo := repository.New(infra.Pool, opts...)
	return &DirectoryModule{
		Repository: repo,
		Commands:   command.NewRegistry(repo),
	}
}

func (m *DirectoryModule) Name() string { return "directory" }

func (m *DirectoryModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.States = m.Repository
}

func (m *DirectoryModule) RegisterWorkers(*river.Workers) {}

func (m *DirectoryModule) PeriodicJobs() []*river.PeriodicJob { return nil }

func (m *DirectoryModule) Shutdown(context.Context) error { return nil }

// InlineRefresh returns an after-commit hook that refreshes the read models
// of committed events in the projection pool. A refresh that cannot be
// submitted is logged and left to the next normalize/materialize run.
func InlineRefresh(pools *worker.Pools, refresher jobs.Refresher, timeout time.Duration) repository.AfterCommit {
	log := logger.Named("inline-projection")
	return func(_ context.Context, events []domain.Event) {
		for _, target := range jobs.RefreshTargets(events) {
			err := pools.SubmitDetached(worker.PoolProjection, func(ctx context.Context) {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				if err := refresher.Refresh(ctx, target.EntityType, target.EntityIDs); err != nil {
					log.Error("inline projection refresh failed",
						zap.String("entity_type", string(target.EntityType)),
						zap.Strings("entity_ids", target.EntityIDs),
						zap.Error(err),
					)
				}
			})
			if err != nil {
				log.Warn("inline projection refresh not submitted",
					zap.String("entity_type", string(target.EntityType)),
					zap.Error(err),
				)
			}
		}
	}
}

var _ jobs.Refresher = (*projection.Pipeline)(nil)
