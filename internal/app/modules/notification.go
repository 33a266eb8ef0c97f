package modules

import (
	"context"

	"github.com/riverqueue/river"

	"orgdir.io/orgdir/internal/api/handlers"
	"orgdir.io/orgdir/internal/jobs"
	"orgdir.io/orgdir/internal/notification"
	"orgdir.io/orgdir/internal/pkg/logger"
)

// NotificationModule delivers committed events to the registered handlers.
type NotificationModule struct {
	Dispatcher *notification.Dispatcher
}

// NewNotificationModule creates the dispatcher with the log handler on every
// entity type.
func NewNotificationModule() *NotificationModule {
	d := notification.NewDispatcher()
	d.Register(notification.AnyEntity, notification.LogHandler(logger.Named("notification")))
	return &NotificationModule{Dispatcher: d}
}

func (m *NotificationModule) Name() string { return "notification" }

func (m *NotificationModule) ContributeServerDeps(*handlers.ServerDeps) {}

func (m *NotificationModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewEventNotificationWorker(m.Dispatcher))
}

func (m *NotificationModule) PeriodicJobs() []*river.PeriodicJob { return nil }

func (m *NotificationModule) Shutdown(context.Context) error { return nil }
