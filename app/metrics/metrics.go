package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "disclosure"

var registry = prometheus.NewRegistry()

var (
	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "HTTP requests to upstream providers by outcome.",
	}, []string{"provider", "outcome"})

	AnnouncementsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "announcements_inserted_total",
		Help:      "Announcements newly stored by sync passes.",
	})

	SyncPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_passes_total",
		Help:      "Completed announcement sync passes by result.",
	}, []string{"result"})

	StatementCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "statement_cache_total",
		Help:      "Statement cache lookups by result.",
	}, []string{"result"})

	WatchlistSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watchlist_size",
		Help:      "Number of stocks on the watchlist.",
	})
)

// Provider request outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeRetry       = "retry"
	OutcomeClientError = "client_error"
	OutcomeFailure     = "failure"
)

func init() {
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		ProviderRequests,
		AnnouncementsInserted,
		SyncPasses,
		StatementCache,
		WatchlistSize,
	)
}

func Registry() *prometheus.Registry {
	return registry
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
