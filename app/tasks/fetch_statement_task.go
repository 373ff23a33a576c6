package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/disclosure-comb/app/statement"
)

type StatementGetter interface {
	Get(ctx context.Context, code, category string) (statement.Table, error)
}

// FetchStatementTask warms the statement cache for one (code, category).
type FetchStatementTask struct {
	Task
	cache    StatementGetter
	code     string
	category string
}

func NewFetchStatementTask(cache StatementGetter, code, category string) *FetchStatementTask {
	return &FetchStatementTask{
		Task:     NewTask(TaskTypeFetchStatement, code+"_"+category),
		cache:    cache,
		code:     code,
		category: category,
	}
}

func (t *FetchStatementTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	table, err := t.cache.Get(ctx, t.code, t.category)
	if errors.Is(err, statement.ErrInvalidKey) {
		slog.Warn("Skipping statement fetch", "code", t.code, "category", t.category, "error", err)
		t.MaxRetries = 0
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to fetch statement: %w", err)
	}

	slog.Info("Task completed",
		"type", "FetchStatement",
		"code", t.code,
		"category", t.category,
		"duration", t.GetDuration(),
		"rows", len(table))

	return nil
}
