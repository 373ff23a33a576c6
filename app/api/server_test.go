package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/disclosure-comb/app/cfg"
	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/lysyi3m/disclosure-comb/app/provider"
	"github.com/lysyi3m/disclosure-comb/app/quotes"
	"github.com/lysyi3m/disclosure-comb/app/statement"
	"github.com/lysyi3m/disclosure-comb/app/syncer"
	"github.com/lysyi3m/disclosure-comb/app/tasks"
)

type MockDirectory struct {
	matches  []provider.TickerMatch
	overview *provider.Overview
	page     provider.FullTextPage
}

func (m *MockDirectory) SearchTickers(ctx context.Context, query string) []provider.TickerMatch {
	return m.matches
}

func (m *MockDirectory) CompanyOverview(ctx context.Context, code string) (*provider.Overview, bool) {
	return m.overview, m.overview != nil
}

func (m *MockDirectory) SearchFullText(ctx context.Context, keyword string, pageNum int) provider.FullTextPage {
	return m.page
}

type MockStatements struct {
	entry   statement.Entry
	table   statement.Table
	err     error
	entries []statement.Entry
}

func (m *MockStatements) Get(ctx context.Context, code, category string) (statement.Table, error) {
	_, table, err := m.GetEntry(ctx, code, category)
	return table, err
}

func (m *MockStatements) GetEntry(ctx context.Context, code, category string) (statement.Entry, statement.Table, error) {
	return m.entry, m.table, m.err
}

func (m *MockStatements) Entries(code, category string) ([]statement.Entry, error) {
	return m.entries, m.err
}

func (m *MockStatements) Load(code, category, date string) (statement.Table, error) {
	return m.table, m.err
}

type MockSyncer struct {
	status syncer.Status
}

func (m *MockSyncer) RunOnce(ctx context.Context, pageSize int) (syncer.Result, error) {
	return syncer.Result{PageSize: pageSize}, nil
}

func (m *MockSyncer) Status() syncer.Status {
	return m.status
}

type MockScheduler struct {
	tasks []tasks.TaskInterface
}

func (m *MockScheduler) Start() {}
func (m *MockScheduler) Stop()  {}

func (m *MockScheduler) EnqueueTask(task tasks.TaskInterface) error {
	m.tasks = append(m.tasks, task)
	return nil
}

type testEnv struct {
	router        *gin.Engine
	announcements database.AnnouncementRepository
	stocks        database.StockRepository
	directory     *MockDirectory
	statements    *MockStatements
	scheduler     *MockScheduler
	board         *quotes.Board
	downloads     *tasks.DownloadTracker
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	if _, err := cfg.LoadArgs([]string{"--port", "8080"}); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	env := &testEnv{
		announcements: database.NewAnnouncementRepository(db),
		stocks:        database.NewStockRepository(db),
		directory:     &MockDirectory{},
		statements:    &MockStatements{},
		scheduler:     &MockScheduler{},
		board:         quotes.NewBoard(),
		downloads:     tasks.NewDownloadTracker(),
	}

	handler := NewHandler(Dependencies{
		Announcements: env.announcements,
		Stocks:        env.stocks,
		Directory:     env.directory,
		Statements:    env.statements,
		Board:         env.board,
		Syncer:        &MockSyncer{status: syncer.Status{Phase: syncer.PhaseIdle}},
		Scheduler:     env.scheduler,
		Downloads:     env.downloads,
		DownloadDir:   t.TempDir(),
		PollPageSize:  1,
		FullPageSize:  30,
	})
	env.router = NewServer(handler, apiKey)

	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) insert(t *testing.T, id int64, date string) {
	t.Helper()
	day, _ := time.Parse(database.DateLayout, date)
	_, err := e.announcements.Insert(database.Announcement{
		ID:        id,
		StockCode: "601166",
		StockName: "兴业银行",
		Title:     "公告",
		Date:      day,
		URL:       "http://static.example.com/" + date + ".PDF",
	})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret")

	if w := env.do("GET", "/api/stocks", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/stocks", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong key, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/stocks", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with bearer key, got %d", w.Code)
	}

	if w := env.do("GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("Expected health to be public, got %d", w.Code)
	}
}

func TestRootAndMetrics(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decode(t, w)["service"] != "Disclosure Comb" {
		t.Error("Expected service name in root response")
	}

	w = env.do("GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "disclosure_watchlist_size") {
		t.Error("Expected watchlist gauge in metrics output")
	}
}

func TestListAnnouncements(t *testing.T) {
	env := newTestEnv(t, "")
	env.insert(t, 1, "2024-03-01")
	env.insert(t, 2, "2024-03-05")

	w := env.do("GET", "/api/announcements?order=asc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	anns := body["announcements"].([]interface{})
	if len(anns) != 2 {
		t.Fatalf("Expected 2 announcements, got %d", len(anns))
	}
	first := anns[0].(map[string]interface{})
	if first["id"].(float64) != 1 || first["date"] != "2024-03-01" || first["state"] != "UNREAD" {
		t.Errorf("Unexpected first announcement %v", first)
	}

	w = env.do("GET", "/api/announcements", "")
	first = decode(t, w)["announcements"].([]interface{})[0].(map[string]interface{})
	if first["id"].(float64) != 2 {
		t.Errorf("Expected newest first by default, got %v", first["id"])
	}

	if w := env.do("GET", "/api/announcements?order=sideways", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad order, got %d", w.Code)
	}
}

func TestSetAnnouncementState(t *testing.T) {
	env := newTestEnv(t, "")
	env.insert(t, 1, "2024-03-01")

	if w := env.do("POST", "/api/announcements/1/state", `{"state":"read"}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ann, _ := env.announcements.Get(1)
	if ann.State != database.StateRead {
		t.Errorf("Expected READ, got %s", ann.State)
	}

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"invalid state", "/api/announcements/1/state", `{"state":"ARCHIVED"}`, http.StatusBadRequest},
		{"missing body", "/api/announcements/1/state", `{}`, http.StatusBadRequest},
		{"bad id", "/api/announcements/abc/state", `{"state":"READ"}`, http.StatusBadRequest},
		{"unknown id", "/api/announcements/99/state", `{"state":"READ"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do("POST", tt.path, tt.body); w.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, w.Code)
			}
		})
	}

	if w := env.do("POST", "/api/announcements/1/state", `{"state":"DELETED"}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", w.Code)
	}
	if w := env.do("POST", "/api/announcements/1/state", `{"state":"UNREAD"}`); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for a deleted announcement, got %d", w.Code)
	}
	if w := env.do("GET", "/api/announcements/1/open", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 opening a deleted announcement, got %d", w.Code)
	}
}

func TestOpenAnnouncement(t *testing.T) {
	env := newTestEnv(t, "")
	env.insert(t, 5, "2024-03-01")

	w := env.do("GET", "/api/announcements/5/open", "")
	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "http://static.example.com/2024-03-01.PDF" {
		t.Errorf("Unexpected redirect %q", loc)
	}

	ann, _ := env.announcements.Get(5)
	if ann.State != database.StateRead {
		t.Errorf("Expected READ after open, got %s", ann.State)
	}
}

func TestAddAndRemoveStock(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("POST", "/api/stocks", `{"code":"601166","name":"兴业银行","category":"A股"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.scheduler.tasks) != 3 {
		t.Errorf("Expected 3 statement tasks enqueued, got %d", len(env.scheduler.tasks))
	}
	for _, task := range env.scheduler.tasks {
		if task.GetType() != tasks.TaskTypeFetchStatement {
			t.Errorf("Expected fetch statement task, got %s", task.GetType())
		}
	}

	w = env.do("POST", "/api/stocks", `{"code":"601166","name":"兴业银行"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on duplicate add, got %d", w.Code)
	}
	if decode(t, w)["added"] != false {
		t.Error("Duplicate add should report added=false")
	}
	if count, _ := env.stocks.Count(); count != 1 {
		t.Errorf("Expected 1 stock, got %d", count)
	}

	env.directory.matches = []provider.TickerMatch{
		{Code: "00700", Name: "腾讯控股", Category: "港股"},
	}
	w = env.do("POST", "/api/stocks", `{"code":"00700"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 with looked-up name, got %d", w.Code)
	}
	if decode(t, w)["name"] != "腾讯控股" {
		t.Error("Expected name from ticker search")
	}
	if len(env.scheduler.tasks) != 3 {
		t.Errorf("Hong Kong stocks should not enqueue statement tasks, got %d tasks", len(env.scheduler.tasks))
	}

	if w := env.do("POST", "/api/stocks", `{"code":"000002"}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown code, got %d", w.Code)
	}
	if w := env.do("POST", "/api/stocks", `{"code":"12ab"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid code, got %d", w.Code)
	}

	w = env.do("GET", "/api/stocks", "")
	stocks := decode(t, w)["stocks"].([]interface{})
	if len(stocks) != 2 || stocks[0].(map[string]interface{})["code"] != "601166" {
		t.Errorf("Unexpected stock list %v", stocks)
	}

	if w := env.do("DELETE", "/api/stocks/601166", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on remove, got %d", w.Code)
	}
	codes, _ := env.stocks.List()
	if len(codes) != 1 || codes[0] != "00700" {
		t.Errorf("Expected only 00700 left, got %v", codes)
	}
}

func TestSearchAndOverview(t *testing.T) {
	env := newTestEnv(t, "")
	env.directory.matches = []provider.TickerMatch{{Code: "601166", Name: "兴业银行"}}

	if w := env.do("GET", "/api/search", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without query, got %d", w.Code)
	}
	w := env.do("GET", "/api/search?q=xyyh", "")
	if decode(t, w)["total"].(float64) != 1 {
		t.Error("Expected one match")
	}

	env.directory.page = provider.FullTextPage{
		Announcements:      []database.Announcement{{ID: 9, StockCode: "601166", Title: "年度报告"}},
		TotalPages:         3,
		TotalAnnouncements: 25,
	}
	w = env.do("GET", "/api/search/announcements?q=annual&page=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["total"].(float64) != 25 || body["page"].(float64) != 2 {
		t.Errorf("Unexpected full-text response %v", body)
	}
	if w := env.do("GET", "/api/search/announcements?q=x&page=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for page 0, got %d", w.Code)
	}

	if w := env.do("GET", "/api/stocks/601166/overview", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when overview is absent, got %d", w.Code)
	}
	env.directory.overview = &provider.Overview{}
	if w := env.do("GET", "/api/stocks/601166/overview", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestGetStatement(t *testing.T) {
	env := newTestEnv(t, "")

	env.statements.entry = statement.Entry{Date: "2024-03-31", File: "601166_zcfzb_2024-03-31.csv"}
	env.statements.table = statement.Table{{"报告日期", "2024-03-31"}, {"货币资金", "100"}}
	w := env.do("GET", "/api/statements/601166/zcfzb", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if rows := body["rows"].([]interface{}); len(rows) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(rows))
	}
	if body["date"] != "2024-03-31" || body["stale"] != false {
		t.Errorf("Expected served date 2024-03-31, got %v (stale %v)", body["date"], body["stale"])
	}

	// A fallback to an older cached entry reports that entry's date
	env.statements.entry = statement.Entry{Date: "2023-12-31", Stale: true}
	body = decode(t, env.do("GET", "/api/statements/601166/zcfzb", ""))
	if body["date"] != "2023-12-31" || body["stale"] != true {
		t.Errorf("Expected stale date 2023-12-31, got %v (stale %v)", body["date"], body["stale"])
	}

	body = decode(t, env.do("GET", "/api/statements/601166/zcfzb?date=2022-12-31", ""))
	if body["date"] != "2022-12-31" {
		t.Errorf("Expected requested date, got %v", body["date"])
	}

	env.statements.err = statement.ErrUnavailable
	if w := env.do("GET", "/api/statements/601166/zcfzb", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	if w := env.do("GET", "/api/statements/601166/zcfzb?date=2020-12-31", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing entry, got %d", w.Code)
	}

	env.statements.err = statement.ErrInvalidKey
	if w := env.do("GET", "/api/statements/601166/bogus/entries", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestTriggerSync(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("POST", "/api/sync", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["page_size"].(float64) != 1 {
		t.Error("Expected poll page size for a plain sync")
	}

	w = env.do("POST", "/api/sync", `{"full":true}`)
	if decode(t, w)["page_size"].(float64) != 30 {
		t.Error("Expected full page size for a full sync")
	}
	if len(env.scheduler.tasks) != 2 || env.scheduler.tasks[1].GetType() != tasks.TaskTypeSyncAnnouncements {
		t.Errorf("Expected 2 sync tasks, got %d", len(env.scheduler.tasks))
	}

	w = env.do("GET", "/api/sync", "")
	if decode(t, w)["phase"] != "idle" {
		t.Error("Expected idle sync phase")
	}
}

func TestDownloads(t *testing.T) {
	env := newTestEnv(t, "")

	if w := env.do("POST", "/api/downloads", `{"ids":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty ids, got %d", w.Code)
	}

	w := env.do("POST", "/api/downloads", `{"ids":[1,2]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["task"].(map[string]interface{})["id"].(string)

	w = env.do("GET", "/api/downloads/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decode(t, w)["total"].(float64) != 2 {
		t.Error("Expected total of 2 documents")
	}

	if w := env.do("GET", "/api/downloads/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestGetFeed(t *testing.T) {
	env := newTestEnv(t, "")
	env.insert(t, 42, "2024-03-01")

	w := env.do("GET", "/feeds/announcements", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/xml") {
		t.Errorf("Unexpected content type %q", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("X-Feed-Items") != "1" {
		t.Errorf("Expected 1 feed item, got %q", w.Header().Get("X-Feed-Items"))
	}
	if !strings.Contains(w.Body.String(), `<guid isPermaLink="false">42</guid>`) {
		t.Error("Feed should contain the announcement")
	}
}
