package api

import (
	"context"

	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/lysyi3m/disclosure-comb/app/feed"
	"github.com/lysyi3m/disclosure-comb/app/provider"
	"github.com/lysyi3m/disclosure-comb/app/quotes"
	"github.com/lysyi3m/disclosure-comb/app/statement"
	"github.com/lysyi3m/disclosure-comb/app/syncer"
	"github.com/lysyi3m/disclosure-comb/app/tasks"
)

type GeneratorInterface interface {
	Run(channel feed.Channel, announcements []database.Announcement) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

type CompanyDirectory interface {
	SearchTickers(ctx context.Context, query string) []provider.TickerMatch
	CompanyOverview(ctx context.Context, code string) (*provider.Overview, bool)
	SearchFullText(ctx context.Context, keyword string, pageNum int) provider.FullTextPage
}

var _ CompanyDirectory = (*provider.Disclosure)(nil)

type StatementStore interface {
	Get(ctx context.Context, code, category string) (statement.Table, error)
	GetEntry(ctx context.Context, code, category string) (statement.Entry, statement.Table, error)
	Entries(code, category string) ([]statement.Entry, error)
	Load(code, category, date string) (statement.Table, error)
}

var _ StatementStore = (*statement.Cache)(nil)

type QuoteBoard interface {
	Latest() quotes.Snapshot
	Subscribe() (<-chan quotes.Snapshot, func())
}

var _ QuoteBoard = (*quotes.Board)(nil)

type SyncService interface {
	tasks.SyncRunner
	Status() syncer.Status
}

var _ SyncService = (*syncer.Orchestrator)(nil)

type Dependencies struct {
	Announcements database.AnnouncementRepository
	Stocks        database.StockRepository
	Directory     CompanyDirectory
	Statements    StatementStore
	Board         QuoteBoard
	Syncer        SyncService
	Scheduler     tasks.TaskSchedulerInterface
	Documents     tasks.DocumentOpener
	Downloads     *tasks.DownloadTracker
	DownloadDir   string
	PollPageSize  int
	FullPageSize  int
}

type Handler struct {
	announcements database.AnnouncementRepository
	stocks        database.StockRepository
	directory     CompanyDirectory
	statements    StatementStore
	board         QuoteBoard
	syncer        SyncService
	scheduler     tasks.TaskSchedulerInterface
	documents     tasks.DocumentOpener
	downloads     *tasks.DownloadTracker
	downloadDir   string
	pollPageSize  int
	fullPageSize  int
	generator     GeneratorInterface
}

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

type addStockRequest struct {
	Code     string `json:"code" binding:"required"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type syncRequest struct {
	Full bool `json:"full"`
}

type downloadRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}
