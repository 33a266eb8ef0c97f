// Package handlers implements the ops HTTP surface: health probes, projection
// invocation, entity state lookup and the log level.
//
// Handlers do NOT register their own routes; the app router does.
//
// Import Path: orgdir.io/orgdir/internal/api/handlers
package handlers

import (
	"context"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/projection"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolMetrics reports worker pool usage.
type PoolMetrics interface {
	Metrics() map[string]interface{}
}

// NormalizeBuilder runs the normalize stage.
type NormalizeBuilder interface {
	Build(ctx context.Context, req projection.Request) ([]domain.Normalized, error)
}

// MaterializeBuilder runs the materialize stage.
type MaterializeBuilder interface {
	Build(ctx context.Context, req projection.Request) ([]domain.Materialized, error)
}

// StateReader derives entity lifecycle states.
type StateReader interface {
	EntityStates(ctx context.Context, entityType domain.EntityType, entityIDs []string) (map[string]domain.EntityState, error)
}

// Server holds the dependencies of the ops handlers.
type Server struct {
	pool         Pinger
	pools        PoolMetrics
	normalizer   NormalizeBuilder
	materializer MaterializeBuilder
	states       StateReader
}

// ServerDeps holds all dependencies for creating a Server. Pools is optional.
type ServerDeps struct {
	Pool         Pinger
	Pools        PoolMetrics
	Normalizer   NormalizeBuilder
	Materializer MaterializeBuilder
	States       StateReader
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		pool:         deps.Pool,
		pools:        deps.Pools,
		normalizer:   deps.Normalizer,
		materializer: deps.Materializer,
		states:       deps.States,
	}
}
