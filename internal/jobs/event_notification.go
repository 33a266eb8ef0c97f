// Package jobs defines the River job types run after a command commits: one
// notification job per event and, in async projection mode, one projection
// refresh job per entity type touched.
//
// Import Path: orgdir.io/orgdir/internal/jobs
package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"orgdir.io/orgdir/internal/notification"
)

// Queue names.
const (
	QueueNotifications = "notifications"
	QueueProjections   = "projections"
)

// EventNotificationArgs carries one committed event, values stripped.
type EventNotificationArgs struct {
	notification.Message
}

// Kind returns the job kind identifier for event notifications.
func (EventNotificationArgs) Kind() string { return "event_notification" }

// InsertOpts returns default insert options for event notifications.
func (EventNotificationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueNotifications,
		MaxAttempts: 5,
	}
}

// EventNotificationWorker hands messages to the dispatcher.
type EventNotificationWorker struct {
	river.WorkerDefaults[EventNotificationArgs]
	dispatcher *notification.Dispatcher
}

// NewEventNotificationWorker creates a notification worker.
func NewEventNotificationWorker(dispatcher *notification.Dispatcher) *EventNotificationWorker {
	return &EventNotificationWorker{dispatcher: dispatcher}
}

// Work dispatches the message. A handler error fails the attempt.
func (w *EventNotificationWorker) Work(ctx context.Context, job *river.Job[EventNotificationArgs]) error {
	if w == nil || w.dispatcher == nil {
		return fmt.Errorf("event notification worker is not initialized")
	}
	return w.dispatcher.Dispatch(ctx, job.Args.Message)
}
