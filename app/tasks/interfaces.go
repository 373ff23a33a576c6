package tasks

import "time"

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the HTTP handlers to queue background work.
// Example usage:
//
//	scheduler := NewScheduler(deps)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewSyncAnnouncementsTask(orchestrator, 30))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// Timeouter is implemented by tasks that need a deadline other than the
// scheduler default. A zero Timeout runs the task without a deadline.
type Timeouter interface {
	Timeout() time.Duration
}
