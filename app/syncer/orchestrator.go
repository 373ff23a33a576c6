package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/lysyi3m/disclosure-comb/app/metrics"
	"github.com/lysyi3m/disclosure-comb/app/provider"
)

type Fetcher interface {
	ListAnnouncements(ctx context.Context, code string, pageSize int, category provider.Category) []database.Announcement
}

type Store interface {
	Insert(ann database.Announcement) (bool, error)
}

type Watchlist interface {
	List() ([]string, error)
}

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseMerging  Phase = "merging"
)

type Result struct {
	Stocks     int       `json:"stocks"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Empty      int       `json:"empty"`
	PageSize   int       `json:"page_size"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Status struct {
	Phase     Phase   `json:"phase"`
	Code      string  `json:"code,omitempty"`
	Last      *Result `json:"last,omitempty"`
	LastError string  `json:"last_error,omitempty"`
}

// PassTimeout bounds a single pass. It starts once the pass holds the lock,
// so time spent queued behind another pass does not count.
const PassTimeout = 5 * time.Minute

// Orchestrator runs sync passes over the watchlist: fetch each stock's latest
// announcements and merge them into the store. Passes never overlap.
type Orchestrator struct {
	fetcher     Fetcher
	store       Store
	watchlist   Watchlist
	category    provider.Category
	passTimeout time.Duration

	pass chan struct{}

	mu     sync.RWMutex
	status Status
}

func NewOrchestrator(fetcher Fetcher, store Store, watchlist Watchlist, category provider.Category) *Orchestrator {
	return &Orchestrator{
		fetcher:     fetcher,
		store:       store,
		watchlist:   watchlist,
		category:    category,
		passTimeout: PassTimeout,
		pass:        make(chan struct{}, 1),
		status:      Status{Phase: PhaseIdle},
	}
}

// RunOnce performs one pass. Stocks whose fetch comes back empty are skipped;
// a storage error aborts the pass. On cancellation everything merged so far
// stays merged and ctx.Err() is returned. A call waiting for a running pass
// gives up when ctx is done, leaving the status untouched.
func (o *Orchestrator) RunOnce(ctx context.Context, pageSize int) (result Result, err error) {
	select {
	case o.pass <- struct{}{}:
	case <-ctx.Done():
		return Result{PageSize: pageSize}, ctx.Err()
	}
	defer func() { <-o.pass }()

	if o.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.passTimeout)
		defer cancel()
	}

	result = Result{PageSize: pageSize, StartedAt: time.Now().UTC()}
	defer func() {
		result.FinishedAt = time.Now().UTC()
		o.finish(result, err)
	}()

	codes, err := o.watchlist.List()
	if err != nil {
		return result, fmt.Errorf("failed to list watchlist: %w", err)
	}
	metrics.WatchlistSize.Set(float64(len(codes)))

	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		o.setPhase(PhaseFetching, code)
		announcements := o.fetcher.ListAnnouncements(ctx, code, pageSize, o.category)
		result.Stocks++

		if len(announcements) == 0 {
			result.Empty++
			continue
		}
		result.Fetched += len(announcements)

		o.setPhase(PhaseMerging, code)
		for _, ann := range announcements {
			if ann.StockCode == "" {
				ann.StockCode = code
			}

			inserted, err := o.store.Insert(ann)
			if err != nil {
				return result, fmt.Errorf("failed to merge announcement %d for %s: %w", ann.ID, code, err)
			}

			if inserted {
				result.Inserted++
				metrics.AnnouncementsInserted.Inc()
			} else {
				result.Duplicates++
			}
		}
	}

	return result, nil
}

// Run repeats passes every interval until ctx is cancelled. Pass errors are
// logged and do not stop the loop.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration, pageSize int) error {
	for {
		result, err := o.RunOnce(ctx, pageSize)
		if err != nil && ctx.Err() == nil {
			slog.Error("Sync pass failed", "error", err, "stocks", result.Stocks, "inserted", result.Inserted)
		} else if err == nil {
			slog.Debug("Sync pass completed",
				"stocks", result.Stocks,
				"fetched", result.Fetched,
				"inserted", result.Inserted,
				"duplicates", result.Duplicates,
				"empty", result.Empty)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status := o.status
	if o.status.Last != nil {
		last := *o.status.Last
		status.Last = &last
	}
	return status
}

func (o *Orchestrator) setPhase(phase Phase, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Phase = phase
	o.status.Code = code
}

func (o *Orchestrator) finish(result Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.status.Phase = PhaseIdle
	o.status.Code = ""
	o.status.Last = &result
	o.status.LastError = ""

	switch {
	case err == nil:
		metrics.SyncPasses.WithLabelValues("ok").Inc()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.SyncPasses.WithLabelValues("cancelled").Inc()
		o.status.LastError = err.Error()
	default:
		metrics.SyncPasses.WithLabelValues("error").Inc()
		o.status.LastError = err.Error()
	}
}
