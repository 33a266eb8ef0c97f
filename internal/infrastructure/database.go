// Package infrastructure provides database and connection pool setup.
//
// One pgxpool serves the event store, the reservation store, the projection
// store and River, so a command's events and its jobs commit together.
//
// Import Path: orgdir.io/orgdir/internal/infrastructure
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/config"
	"orgdir.io/orgdir/internal/eventstore"
	"orgdir.io/orgdir/internal/jobs"
	"orgdir.io/orgdir/internal/pkg/logger"
	"orgdir.io/orgdir/internal/projection"
	"orgdir.io/orgdir/internal/reservation"
)

// DatabaseClients contains all database-related clients.
// All clients share a single pgxpool connection pool.
type DatabaseClients struct {
	// Pool is the shared connection pool.
	Pool *pgxpool.Pool

	// RiverClient is the River job queue client backed by the shared pool.
	// Nil until InitRiverClient.
	RiverClient *river.Client[pgx.Tx]
}

// NewDatabaseClients creates the shared connection pool.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	// Event dates are compared in UTC.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)

	return &DatabaseClients{Pool: pool}, nil
}

// Migrate creates the store tables and runs the River queue migrations.
// Every step is idempotent.
func (c *DatabaseClients) Migrate(ctx context.Context) error {
	logger.Info("Creating store tables...")
	if err := eventstore.New(c.Pool).CreateIndexes(ctx); err != nil {
		return fmt.Errorf("event store: %w", err)
	}
	if err := reservation.New(c.Pool).CreateIndexes(ctx); err != nil {
		return fmt.Errorf("reservation store: %w", err)
	}
	if err := projection.NewStore(c.Pool).CreateIndexes(ctx); err != nil {
		return fmt.Errorf("projection store: %w", err)
	}

	logger.Info("Running River migration...")
	migrator, err := rivermigrate.New(riverpgxv5.New(c.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("River migration: already up-to-date")
	}
	return nil
}

// RiverQueues returns the queue layout for the configured worker counts.
func RiverQueues(cfg config.RiverConfig) map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		jobs.QueueNotifications: {MaxWorkers: cfg.NotificationWorkers},
		jobs.QueueProjections:   {MaxWorkers: cfg.ProjectionWorkers},
	}
}

// InitRiverClient creates a River client with registered workers.
// Passing nil workers creates an insert-only client.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, cfg config.RiverConfig) error {
	riverCfg := &river.Config{
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	}
	if workers != nil {
		riverCfg.Queues = RiverQueues(cfg)
		riverCfg.Workers = workers
	}
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), riverCfg)
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized",
		zap.Int("notification_workers", cfg.NotificationWorkers),
		zap.Int("projection_workers", cfg.ProjectionWorkers),
	)
	return nil
}

// Close closes the connection pool.
func (c *DatabaseClients) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
