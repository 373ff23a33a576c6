package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/quotes"
	"github.com/lysyi3m/disclosure-comb/app/tasks"
)

type event struct {
	name string
	data string
}

func openStream(t *testing.T, env *testEnv, path string) (*bufio.Scanner, func()) {
	t.Helper()

	srv := httptest.NewServer(env.router)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+path, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected event stream, got %q", ct)
	}

	return bufio.NewScanner(resp.Body), func() {
		cancel()
		resp.Body.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, scanner *bufio.Scanner) (event, bool) {
	t.Helper()

	var ev event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && ev.name != "":
			return ev, true
		}
	}
	return ev, false
}

func TestStreamQuotes(t *testing.T) {
	env := newTestEnv(t, "")
	env.board.Publish(quotes.Snapshot{Items: []quotes.Item{{Code: "601166"}}})

	scanner, closeStream := openStream(t, env, "/api/quotes/stream")
	defer closeStream()

	ev, ok := readEvent(t, scanner)
	if !ok || ev.name != "quotes" || !strings.Contains(ev.data, `"601166"`) {
		t.Fatalf("Expected current snapshot first, got %+v", ev)
	}

	env.board.Publish(quotes.Snapshot{Items: []quotes.Item{{Code: "000001"}}})
	ev, ok = readEvent(t, scanner)
	if !ok || ev.name != "quotes" || !strings.Contains(ev.data, `"000001"`) {
		t.Errorf("Expected published snapshot, got %+v", ev)
	}
}

func TestStreamDownload(t *testing.T) {
	env := newTestEnv(t, "")
	env.downloads.Register("d1", 1)

	scanner, closeStream := openStream(t, env, "/api/downloads/d1/events")
	defer closeStream()

	ev, ok := readEvent(t, scanner)
	if !ok || ev.name != "status" || !strings.Contains(ev.data, `"id":"d1"`) {
		t.Fatalf("Expected initial status, got %+v", ev)
	}

	env.downloads.Update(tasks.DownloadProgress{TaskID: "d1", Percent: 100, Message: "Saved a.pdf"}, "a.pdf", false)
	env.downloads.Finish("d1", false)

	ev, ok = readEvent(t, scanner)
	if !ok || ev.name != "progress" || !strings.Contains(ev.data, "Saved a.pdf") {
		t.Fatalf("Expected progress event, got %+v", ev)
	}

	ev, ok = readEvent(t, scanner)
	if !ok || ev.name != "status" || !strings.Contains(ev.data, `"finished":true`) {
		t.Fatalf("Expected final status, got %+v", ev)
	}

	if ev, ok := readEvent(t, scanner); ok {
		t.Errorf("Expected stream to end after finish, got %+v", ev)
	}
}

func TestStreamUnknownDownload(t *testing.T) {
	env := newTestEnv(t, "")

	if w := env.do("GET", "/api/downloads/unknown/events", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
