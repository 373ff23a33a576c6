package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./data/announcements.db" description:"SQLite database file"`
	CacheDir      string `long:"cache-dir" env:"CACHE_DIR" default:"./data/statements" description:"Directory for cached financial statements"`
	DownloadDir   string `long:"download-dir" env:"DOWNLOAD_DIR" default:"./data/downloads" description:"Directory for downloaded announcement documents"`
	WatchlistFile string `long:"watchlist" env:"WATCHLIST_FILE" default:"./watchlist.yml" description:"YAML file with stocks to seed the watchlist"`

	// Application configuration
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl       string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://ann.example.com)"`
	APIAccessKey  string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key (optional)"`
	WorkerCount   int    `long:"worker-count" env:"WORKER_COUNT" default:"3" description:"Number of background workers"`
	QuoteInterval int    `long:"quote-interval" env:"QUOTE_INTERVAL" default:"10" description:"Quote polling interval in seconds"`
	SyncInterval  int    `long:"sync-interval" env:"SYNC_INTERVAL" default:"300" description:"Announcement polling interval in seconds"`
	FullSyncCron  string `long:"full-sync-cron" env:"FULL_SYNC_CRON" default:"30 18 * * 1-5" description:"Cron schedule for full-history announcement sync (empty disables)"`
	PollPageSize  int    `long:"poll-page-size" env:"POLL_PAGE_SIZE" default:"1" description:"Announcements fetched per stock on periodic polling"`
	FullPageSize  int    `long:"full-page-size" env:"FULL_PAGE_SIZE" default:"30" description:"Announcements fetched per stock on full sync"`
	Category      string `long:"category" env:"ANNOUNCEMENT_CATEGORY" default:"all" choice:"all" choice:"report" choice:"relation" description:"Announcement category to synchronize"`

	// Provider configuration
	DisclosureURL string `long:"disclosure-url" env:"DISCLOSURE_URL" default:"http://www.cninfo.com.cn" description:"Disclosure provider base URL"`
	StaticURL     string `long:"static-url" env:"STATIC_URL" default:"http://static.cninfo.com.cn" description:"Disclosure document host"`
	QuoteURL      string `long:"quote-url" env:"QUOTE_URL" default:"http://qt.gtimg.cn" description:"Quote provider base URL"`
	StatementURL  string `long:"statement-url" env:"STATEMENT_URL" default:"http://quotes.money.163.com" description:"Statement provider base URL"`
	RequestDelay  int    `long:"request-delay" env:"REQUEST_DELAY" default:"1000" description:"Minimum delay between requests to the same host in milliseconds"`
	Timeout       int    `long:"timeout" env:"REQUEST_TIMEOUT" default:"10" description:"HTTP request timeout in seconds"`
	RetryAttempts int    `long:"retry-attempts" env:"RETRY_ATTEMPTS" default:"5" description:"Attempts per HTTP request before giving up"`
	RetryBackoff  int    `long:"retry-backoff" env:"RETRY_BACKOFF" default:"500" description:"Initial retry backoff in milliseconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:100.0) Gecko/20100101 Firefox/100.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"Asia/Shanghai" description:"Timezone used for announcement dates"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
	LogFile   string `long:"log-file" env:"LOG_FILE" description:"Write logs to a rotating file instead of stderr"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses the given arguments, or os.Args when args is nil.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:        raw.DBPath,
		CacheDir:      raw.CacheDir,
		DownloadDir:   raw.DownloadDir,
		WatchlistFile: raw.WatchlistFile,
		Port:          raw.Port,
		BaseUrl:       raw.BaseUrl,
		APIAccessKey:  raw.APIAccessKey,
		WorkerCount:   raw.WorkerCount,
		QuoteInterval: raw.QuoteInterval,
		SyncInterval:  raw.SyncInterval,
		FullSyncCron:  raw.FullSyncCron,
		PollPageSize:  raw.PollPageSize,
		FullPageSize:  raw.FullPageSize,
		Category:      raw.Category,
		DisclosureURL: raw.DisclosureURL,
		StaticURL:     raw.StaticURL,
		QuoteURL:      raw.QuoteURL,
		StatementURL:  raw.StatementURL,
		RequestDelay:  raw.RequestDelay,
		Timeout:       raw.Timeout,
		RetryAttempts: raw.RetryAttempts,
		RetryBackoff:  raw.RetryBackoff,
		UserAgent:     raw.UserAgent,
		Timezone:      raw.Timezone,
		Debug:         raw.Debug,
		LogFile:       raw.LogFile,
		Version:       GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
		loc = time.Local
	}
	cfg.Location = loc

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	positiveFields := map[string]int{
		"worker count":   cfg.WorkerCount,
		"quote interval": cfg.QuoteInterval,
		"sync interval":  cfg.SyncInterval,
		"poll page size": cfg.PollPageSize,
		"full page size": cfg.FullPageSize,
		"timeout":        cfg.Timeout,
		"retry attempts": cfg.RetryAttempts,
	}

	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	if cfg.RequestDelay < 0 || cfg.RetryBackoff < 0 {
		return fmt.Errorf("request delay and retry backoff must be non-negative")
	}

	if cfg.FullSyncCron != "" {
		if _, err := cron.ParseStandard(cfg.FullSyncCron); err != nil {
			return fmt.Errorf("invalid full sync schedule %q: %w", cfg.FullSyncCron, err)
		}
	}

	return nil
}
