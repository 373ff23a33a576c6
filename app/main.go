package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/disclosure-comb/app/api"
	"github.com/lysyi3m/disclosure-comb/app/cfg"
	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/lysyi3m/disclosure-comb/app/metrics"
	"github.com/lysyi3m/disclosure-comb/app/provider"
	"github.com/lysyi3m/disclosure-comb/app/quotes"
	"github.com/lysyi3m/disclosure-comb/app/statement"
	"github.com/lysyi3m/disclosure-comb/app/syncer"
	"github.com/lysyi3m/disclosure-comb/app/tasks"
	"github.com/lysyi3m/disclosure-comb/app/watchlist"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	setupLogging(appConfig)

	slog.Info("Starting Disclosure Comb server", "version", appConfig.Version)

	slog.Info("Opening database", "path", appConfig.DBPath)
	db, err := database.Open(appConfig.DBPath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		log.Fatal("Failed to run migrations:", err)
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	announcementRepo := database.NewAnnouncementRepository(db)
	stockRepo := database.NewStockRepository(db)

	seed, err := watchlist.LoadSeed(appConfig.WatchlistFile)
	if err != nil {
		log.Fatal("Failed to load watchlist seed:", err)
	}
	added, err := watchlist.Apply(seed, stockRepo)
	if err != nil {
		log.Fatal("Failed to seed watchlist:", err)
	}
	if count, err := stockRepo.Count(); err == nil {
		metrics.WatchlistSize.Set(float64(count))
		slog.Info("Watchlist loaded", "stocks", count, "seeded", added)
	}

	client := provider.NewClient(provider.ClientOptions{
		UserAgent:     appConfig.UserAgent,
		Timeout:       appConfig.GetTimeout(),
		RequestDelay:  appConfig.GetRequestDelay(),
		RetryAttempts: appConfig.RetryAttempts,
		RetryBackoff:  appConfig.GetRetryBackoff(),
	})

	disclosure, err := provider.NewDisclosure(client, appConfig.DisclosureURL, appConfig.StaticURL, appConfig.Location)
	if err != nil {
		log.Fatal("Failed to configure disclosure provider:", err)
	}
	quoteProvider := provider.NewQuoteProvider(client, appConfig.QuoteURL)
	statementProvider := provider.NewStatementProvider(client, appConfig.StatementURL)

	statementCache, err := statement.NewCache(appConfig.CacheDir, statementProvider)
	if err != nil {
		log.Fatal("Failed to open statement cache:", err)
	}

	category, err := provider.ParseCategory(appConfig.Category)
	if err != nil {
		log.Fatal("Invalid announcement category:", err)
	}
	orchestrator := syncer.NewOrchestrator(disclosure, announcementRepo, stockRepo, category)
	board := quotes.NewBoard()

	slog.Info("Starting background scheduler", "workers", appConfig.WorkerCount)
	taskScheduler := tasks.NewScheduler(tasks.Dependencies{
		Syncer:    orchestrator,
		Quotes:    quoteProvider,
		Board:     board,
		Watchlist: stockRepo,
	})
	taskScheduler.Start()
	defer taskScheduler.Stop()

	apiHandler := api.NewHandler(api.Dependencies{
		Announcements: announcementRepo,
		Stocks:        stockRepo,
		Directory:     disclosure,
		Statements:    statementCache,
		Board:         board,
		Syncer:        orchestrator,
		Scheduler:     taskScheduler,
		Documents:     client,
		Downloads:     tasks.NewDownloadTracker(),
		DownloadDir:   appConfig.DownloadDir,
		PollPageSize:  appConfig.PollPageSize,
		FullPageSize:  appConfig.FullPageSize,
	})
	server := api.NewServer(apiHandler, appConfig.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appConfig.Port)
		slog.Info("Endpoints available",
			"feed", fmt.Sprintf("http://localhost:%s/feeds/announcements", appConfig.Port),
			"health", fmt.Sprintf("http://localhost:%s/health", appConfig.Port),
			"api", fmt.Sprintf("http://localhost:%s/api", appConfig.Port))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Disclosure Comb server started")

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Scheduler and database are closed via defer
	slog.Info("Disclosure Comb server shutdown complete")
}

func setupLogging(appConfig *cfg.Cfg) {
	level := slog.LevelInfo
	if appConfig.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if appConfig.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(appConfig.LogFile), 0o755); err != nil {
			log.Fatalf("Failed to create log directory: %v", err)
		}
		out = &lumberjack.Logger{
			Filename:  appConfig.LogFile,
			MaxSize:   100, // MB
			MaxAge:    30,
			Compress:  true,
			LocalTime: true,
		}
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	gin.DefaultWriter = out
}
