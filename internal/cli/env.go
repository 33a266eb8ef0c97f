package cli

import (
	"context"
	"fmt"

	"orgdir.io/orgdir/internal/command"
	"orgdir.io/orgdir/internal/config"
	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/eventstore"
	"orgdir.io/orgdir/internal/infrastructure"
	"orgdir.io/orgdir/internal/jobs"
	"orgdir.io/orgdir/internal/pkg/logger"
	"orgdir.io/orgdir/internal/projection"
	"orgdir.io/orgdir/internal/repository"
)

// StateReader lists entities and derives their lifecycle states.
type StateReader interface {
	EntityIDs(ctx context.Context, entityType domain.EntityType) ([]string, error)
	EntityStates(ctx context.Context, entityType domain.EntityType, entityIDs []string) (map[string]domain.EntityState, error)
}

// KeyReader finds the entity holding a natural-key value.
type KeyReader interface {
	Reservation(ctx context.Context, entityType domain.EntityType, key, value string) (domain.Reservation, bool, error)
}

// Env is what the commands run against.
type Env struct {
	Migrate  func(ctx context.Context) error
	Pipeline *projection.Pipeline
	States   StateReader
	Keys     KeyReader
	Commands *command.Registry

	close func()
}

// Close releases the environment.
func (e *Env) Close() {
	if e.close != nil {
		e.close()
	}
}

// Opener builds an Env.
type Opener func(ctx context.Context) (*Env, error)

// OpenDatabase connects to the configured database. Commands issued by the
// CLI enqueue their jobs through an insert-only River client, so a running
// server delivers them.
func OpenDatabase(ctx context.Context) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.InitRiverClient(nil, cfg.River); err != nil {
		db.Close()
		return nil, err
	}

	repo := repository.New(db.Pool,
		repository.WithPublisher(jobs.NewEnqueuer(db.RiverClient, cfg.Projection.Async)),
	)
	return &Env{
		Migrate:  db.Migrate,
		Pipeline: projection.NewPipeline(eventstore.New(db.Pool), projection.NewStore(db.Pool)),
		States:   repo,
		Keys:     repo,
		Commands: command.NewRegistry(repo),
		close: func() {
			db.Close()
			_ = logger.Sync()
		},
	}, nil
}
