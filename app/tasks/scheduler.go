package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/cfg"
	"github.com/lysyi3m/disclosure-comb/app/quotes"
	"github.com/lysyi3m/disclosure-comb/app/syncer"
	"github.com/robfig/cron/v3"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Syncer interface {
	SyncRunner
	Run(ctx context.Context, interval time.Duration, pageSize int) error
}

type Dependencies struct {
	Syncer    Syncer
	Quotes    quotes.Source
	Board     QuotePublisher
	Watchlist syncer.Watchlist
}

type Scheduler struct {
	syncer        Syncer
	quotes        quotes.Source
	board         QuotePublisher
	watchlist     syncer.Watchlist
	quoteInterval time.Duration
	syncInterval  time.Duration
	pollPageSize  int
	fullPageSize  int
	fullSyncCron  string
	location      *time.Location
	workerCount   int
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	taskQueue     chan TaskInterface
}

func NewScheduler(deps Dependencies) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		syncer:        deps.Syncer,
		quotes:        deps.Quotes,
		board:         deps.Board,
		watchlist:     deps.Watchlist,
		quoteInterval: cfg.GetQuoteInterval(),
		syncInterval:  cfg.GetSyncInterval(),
		pollPageSize:  cfg.PollPageSize,
		fullPageSize:  cfg.FullPageSize,
		fullSyncCron:  cfg.FullSyncCron,
		location:      cfg.Location,
		workerCount:   cfg.WorkerCount,
		ctx:           ctx,
		cancel:        cancel,
		taskQueue:     make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.enqueueStartupTasks()

	// Quote poller
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.quoteInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueuePollQuotes()
			}
		}
	}()

	// Announcement poller; the startup full sync covers the first interval
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.syncInterval):
		}

		s.syncer.Run(s.ctx, s.syncInterval, s.pollPageSize)
	}()

	if s.fullSyncCron != "" {
		location := s.location
		if location == nil {
			location = time.Local
		}
		s.cron = cron.New(cron.WithLocation(location))
		_, err := s.cron.AddFunc(s.fullSyncCron, func() {
			if err := s.EnqueueTask(NewSyncAnnouncementsTask(s.syncer, s.fullPageSize)); err != nil {
				slog.Warn("Failed to enqueue scheduled full sync", "error", err)
			}
		})
		if err != nil {
			slog.Error("Invalid full sync schedule, scheduled sync disabled", "cron", s.fullSyncCron, "error", err)
			s.cron = nil
		} else {
			s.cron.Start()
		}
	}
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueStartupTasks() {
	s.enqueuePollQuotes()

	if err := s.EnqueueTask(NewSyncAnnouncementsTask(s.syncer, s.fullPageSize)); err != nil {
		slog.Warn("Failed to enqueue startup sync", "error", err)
	}
}

func (s *Scheduler) enqueuePollQuotes() {
	task := NewPollQuotesTask(s.quotes, s.watchlist, s.board)
	if err := s.EnqueueTask(task); err != nil {
		slog.Warn("Failed to enqueue PollQuotesTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout := taskTimeout(task); timeout > 0 {
		taskCtx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		taskCtx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		if s.ctx.Err() != nil {
			slog.Debug("Task interrupted by shutdown", "type", string(task.GetType()), "id", task.GetID())
			return
		}

		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "target", task.GetTarget(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()

				timer := time.NewTimer(retryDelay)
				defer timer.Stop()

				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				case <-timer.C:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else if task.GetMaxRetries() > 0 {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}

const defaultTaskTimeout = 5 * time.Minute

func taskTimeout(task TaskInterface) time.Duration {
	if t, ok := task.(Timeouter); ok {
		return t.Timeout()
	}
	return defaultTaskTimeout
}
