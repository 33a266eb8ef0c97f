// Package app is the composition root: it builds the modules, the River
// client and the ops router from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"orgdir.io/orgdir/internal/api/handlers"
	"orgdir.io/orgdir/internal/app/modules"
	"orgdir.io/orgdir/internal/command"
	"orgdir.io/orgdir/internal/config"
	"orgdir.io/orgdir/internal/infrastructure"
	"orgdir.io/orgdir/internal/pkg/worker"
	"orgdir.io/orgdir/internal/projection"
)

// Application holds composed application dependencies.
type Application struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *infrastructure.DatabaseClients
	Pools    *worker.Pools
	Commands *command.Registry
	Pipeline *projection.Pipeline
	Modules  []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	projectionModule := modules.NewProjectionModule(infra)
	baseModules := []modules.Module{
		projectionModule,
		modules.NewNotificationModule(),
	}

	workers := river.NewWorkers()
	for _, mod := range baseModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	directoryModule := modules.NewDirectoryModule(infra, projectionModule)
	allModules := append(baseModules, directoryModule)
	modules.Schedule(infra.RiverClient, allModules)
	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:   cfg,
		Router:   newRouter(server),
		DB:       infra.DB,
		Pools:    infra.Pools,
		Commands: directoryModule.Commands,
		Pipeline: projectionModule.Pipeline,
		Modules:  allModules,
	}, nil
}
