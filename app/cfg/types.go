package cfg

import "time"

type Cfg struct {
	// Storage configuration
	DBPath        string
	CacheDir      string
	DownloadDir   string
	WatchlistFile string

	// Application configuration
	Port          string
	BaseUrl       string
	APIAccessKey  string
	WorkerCount   int
	QuoteInterval int
	SyncInterval  int
	FullSyncCron  string
	PollPageSize  int
	FullPageSize  int
	Category      string

	// Provider configuration
	DisclosureURL string
	StaticURL     string
	QuoteURL      string
	StatementURL  string
	RequestDelay  int
	Timeout       int
	RetryAttempts int
	RetryBackoff  int

	// Application metadata
	UserAgent string
	Timezone  string
	Location  *time.Location
	Debug     bool
	LogFile   string
	Version   string
}

func (c *Cfg) GetQuoteInterval() time.Duration {
	return time.Duration(c.QuoteInterval) * time.Second
}

func (c *Cfg) GetSyncInterval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

func (c *Cfg) GetRequestDelay() time.Duration {
	return time.Duration(c.RequestDelay) * time.Millisecond
}

func (c *Cfg) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Cfg) GetRetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoff) * time.Millisecond
}
