// Package modules splits the composition root by concern: the write side,
// the read models and event notification. Each module feeds the HTTP deps,
// the River worker registry and the River periodic schedule.
//
// Import Path: orgdir.io/orgdir/internal/app/modules
package modules

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"orgdir.io/orgdir/internal/api/handlers"
)

// Module is one concern of the directory service.
type Module interface {
	Name() string
	ContributeServerDeps(*handlers.ServerDeps)
	RegisterWorkers(*river.Workers)
	// PeriodicJobs is read once, after every module is built.
	PeriodicJobs() []*river.PeriodicJob
	// Shutdown runs after River has stopped, in reverse module order.
	Shutdown(context.Context) error
}

// Schedule adds the periodic jobs of mods to client and returns how many
// were added. Without a client nothing is scheduled.
func Schedule(client *river.Client[pgx.Tx], mods []Module) int {
	if client == nil {
		return 0
	}
	n := 0
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		for _, job := range mod.PeriodicJobs() {
			client.PeriodicJobs().Add(job)
			n++
		}
	}
	return n
}
