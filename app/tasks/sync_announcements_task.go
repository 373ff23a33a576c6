package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/syncer"
)

type SyncRunner interface {
	RunOnce(ctx context.Context, pageSize int) (syncer.Result, error)
}

type SyncAnnouncementsTask struct {
	Task
	runner   SyncRunner
	pageSize int
}

func NewSyncAnnouncementsTask(runner SyncRunner, pageSize int) *SyncAnnouncementsTask {
	return &SyncAnnouncementsTask{
		Task:     NewTask(TaskTypeSyncAnnouncements, fmt.Sprintf("page_size=%d", pageSize)),
		runner:   runner,
		pageSize: pageSize,
	}
}

// Timeout is zero because the pass bounds itself once it starts; a task queued
// behind a running pass waits without a deadline.
func (t *SyncAnnouncementsTask) Timeout() time.Duration {
	return 0
}

func (t *SyncAnnouncementsTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.runner.RunOnce(ctx, t.pageSize)
	if err != nil {
		return fmt.Errorf("sync pass failed after %d stocks: %w", result.Stocks, err)
	}

	slog.Info("Task completed",
		"type", "SyncAnnouncements",
		"page_size", t.pageSize,
		"duration", t.GetDuration(),
		"stocks", result.Stocks,
		"fetched", result.Fetched,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"empty", result.Empty)

	return nil
}
