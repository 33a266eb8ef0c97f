package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/pkg/logger"
)

const defaultShutdownTimeout = 30 * time.Second

// Start starts the River client. Projection, reconcile and notification jobs
// are consumed from here on.
func (a *Application) Start(ctx context.Context) error {
	if a.DB == nil || a.DB.RiverClient == nil {
		logger.Warn("no River client, jobs stay queued")
		return nil
	}
	if err := a.DB.RiverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	logger.Info("River client started", zap.Strings("modules", a.moduleNames()))
	return nil
}

// Shutdown stops job intake, then the modules in reverse order, then drains
// the worker pools so inline projection refreshes finish before the database
// pool closes.
func (a *Application) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(ctx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		} else {
			logger.Info("River client stopped")
		}
	}

	for i := len(a.Modules) - 1; i >= 0; i-- {
		mod := a.Modules[i]
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.Pools != nil {
		logger.Info("draining worker pools", zap.Any("pools", a.Pools.Metrics()))
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *Application) shutdownTimeout() time.Duration {
	if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

func (a *Application) moduleNames() []string {
	names := make([]string, 0, len(a.Modules))
	for _, mod := range a.Modules {
		if mod != nil {
			names = append(names, mod.Name())
		}
	}
	return names
}
