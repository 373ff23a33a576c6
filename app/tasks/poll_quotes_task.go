package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/disclosure-comb/app/quotes"
	"github.com/lysyi3m/disclosure-comb/app/syncer"
)

type QuotePublisher interface {
	Publish(snapshot quotes.Snapshot)
}

// PollQuotesTask refreshes the quote board once. It is not retried: the next
// tick produces a fresh snapshot anyway.
type PollQuotesTask struct {
	Task
	source    quotes.Source
	watchlist syncer.Watchlist
	board     QuotePublisher
}

func NewPollQuotesTask(source quotes.Source, watchlist syncer.Watchlist, board QuotePublisher) *PollQuotesTask {
	task := &PollQuotesTask{
		Task:      NewTask(TaskTypePollQuotes, "watchlist"),
		source:    source,
		watchlist: watchlist,
		board:     board,
	}
	task.MaxRetries = 0
	return task
}

func (t *PollQuotesTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	codes, err := t.watchlist.List()
	if err != nil {
		return fmt.Errorf("failed to list watchlist: %w", err)
	}

	snapshot := quotes.Collect(ctx, t.source, codes)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.board.Publish(snapshot)

	available := 0
	for _, item := range snapshot.Items {
		if item.Available {
			available++
		}
	}

	slog.Debug("Task completed",
		"type", "PollQuotes",
		"duration", t.GetDuration(),
		"stocks", len(codes),
		"available", available)

	return nil
}
