package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ProviderRequests.WithLabelValues("quote", OutcomeSuccess).Inc()
	SyncPasses.WithLabelValues("ok").Inc()
	WatchlistSize.Set(3)

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}

	for _, name := range []string{
		`disclosure_provider_requests_total{outcome="success",provider="quote"}`,
		`disclosure_sync_passes_total{result="ok"}`,
		"disclosure_watchlist_size 3",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected metrics output to contain %q", name)
		}
	}
}
