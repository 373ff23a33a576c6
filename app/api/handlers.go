package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/lysyi3m/disclosure-comb/app/feed"
	"github.com/lysyi3m/disclosure-comb/app/metrics"
	"github.com/lysyi3m/disclosure-comb/app/statement"
	"github.com/lysyi3m/disclosure-comb/app/tasks"
	"github.com/lysyi3m/disclosure-comb/app/watchlist"
)

var statementCategories = []string{statement.BalanceSheet, statement.IncomeStatement, statement.CashFlow}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		announcements: deps.Announcements,
		stocks:        deps.Stocks,
		directory:     deps.Directory,
		statements:    deps.Statements,
		board:         deps.Board,
		syncer:        deps.Syncer,
		scheduler:     deps.Scheduler,
		documents:     deps.Documents,
		downloads:     deps.Downloads,
		downloadDir:   deps.DownloadDir,
		pollPageSize:  deps.PollPageSize,
		fullPageSize:  deps.FullPageSize,
		generator:     feed.NewGenerator(),
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	anns, err := h.announcements.List(database.OrderDesc)
	if err != nil {
		slog.Error("Database error", "operation", "list_announcements", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(feed.Channel{Title: "Watched stock announcements"}, anns)
	if err != nil {
		slog.Error("RSS generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(anns)))

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if counts, err := h.announcements.CountByState(); err == nil {
		health["announcements"] = map[string]int{
			"unread":  counts[database.StateUnread],
			"read":    counts[database.StateRead],
			"deleted": counts[database.StateDeleted],
		}
	}

	if count, err := h.stocks.Count(); err == nil {
		health["stocks"] = count
	}

	health["sync"] = h.syncer.Status()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListAnnouncements(c *gin.Context) {
	order := database.Order(strings.ToLower(c.DefaultQuery("order", string(database.OrderDesc))))
	if order != database.OrderDesc && order != database.OrderAsc {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be 'desc' or 'asc'"})
		return
	}

	anns, err := h.announcements.List(order)
	if err != nil {
		slog.Error("Database error", "operation", "list_announcements", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	result := make([]map[string]interface{}, 0, len(anns))
	for _, ann := range anns {
		result = append(result, announcementJSON(ann))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"announcements": result,
		"total":         len(result),
	})
}

func (h *Handler) SetAnnouncementState(c *gin.Context) {
	id, ok := announcementID(c)
	if !ok {
		return
	}

	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	state := database.State(strings.ToUpper(strings.TrimSpace(req.State)))
	if !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be one of UNREAD, READ, DELETED"})
		return
	}

	ann, err := h.announcements.Get(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_announcement", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if ann == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Announcement not found"})
		return
	}
	if ann.State == database.StateDeleted && state != database.StateDeleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Announcement has been deleted"})
		return
	}

	if err := h.announcements.SetState(id, state); err != nil {
		slog.Error("Database error", "operation", "set_state", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "state": state})
}

// OpenAnnouncement marks an unread announcement as read and redirects to its
// document.
func (h *Handler) OpenAnnouncement(c *gin.Context) {
	id, ok := announcementID(c)
	if !ok {
		return
	}

	ann, err := h.announcements.Get(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_announcement", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if ann == nil || ann.State == database.StateDeleted || ann.URL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Announcement not found"})
		return
	}

	if ann.State == database.StateUnread {
		if err := h.announcements.SetState(id, database.StateRead); err != nil {
			slog.Error("Database error", "operation", "set_state", "id", id, "error", err)
		}
	}

	c.Redirect(http.StatusFound, ann.URL)
}

func (h *Handler) ListStocks(c *gin.Context) {
	stocks, err := h.stocks.ListStocks()
	if err != nil {
		slog.Error("Database error", "operation", "list_stocks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	result := make([]map[string]interface{}, 0, len(stocks))
	for _, stock := range stocks {
		result = append(result, map[string]interface{}{
			"code":       stock.Code,
			"name":       stock.Name,
			"category":   stock.Category,
			"created_at": stock.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"stocks": result,
		"total":  len(result),
	})
}

// AddStock registers a stock. Missing name and category are looked up through
// ticker search.
func (h *Handler) AddStock(c *gin.Context) {
	var req addStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	code := strings.TrimSpace(req.Code)
	if !watchlist.ValidCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code must be 5 or 6 digits"})
		return
	}

	name, category := strings.TrimSpace(req.Name), strings.TrimSpace(req.Category)
	if name == "" {
		for _, match := range h.directory.SearchTickers(c.Request.Context(), code) {
			if match.Code == code {
				name = match.Name
				if category == "" {
					category = match.Category
				}
				break
			}
		}
	}
	if name == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown stock code"})
		return
	}

	added, err := h.stocks.Add(code, name, category)
	if err != nil {
		slog.Error("Database error", "operation", "add_stock", "code", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	h.refreshWatchlistSize()

	if !added {
		c.JSON(http.StatusOK, gin.H{"added": false, "code": code, "message": "Stock is already on the watchlist"})
		return
	}

	slog.Info("Stock added", "code", code, "name", name)

	// Statements are only published for A-shares.
	if len(code) == 6 {
		for _, kind := range statementCategories {
			if err := h.scheduler.EnqueueTask(tasks.NewFetchStatementTask(h.statements, code, kind)); err != nil {
				slog.Warn("Error enqueueing statement task", "code", code, "category", kind, "error", err)
			}
		}
	}

	c.JSON(http.StatusCreated, gin.H{"added": true, "code": code, "name": name, "category": category})
}

func (h *Handler) RemoveStock(c *gin.Context) {
	code := c.Param("code")
	if !watchlist.ValidCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code must be 5 or 6 digits"})
		return
	}

	if err := h.stocks.Remove(code); err != nil {
		slog.Error("Database error", "operation", "remove_stock", "code", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	h.refreshWatchlistSize()
	slog.Info("Stock removed", "code", code)

	c.JSON(http.StatusOK, gin.H{"removed": true, "code": code})
}

func (h *Handler) SearchTickers(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing q parameter"})
		return
	}

	matches := h.directory.SearchTickers(c.Request.Context(), query)

	c.JSON(http.StatusOK, map[string]interface{}{
		"matches": matches,
		"total":   len(matches),
	})
}

// SearchAnnouncements runs a full-text search over all announcements, not just
// those of watched stocks. Results are not stored.
func (h *Handler) SearchAnnouncements(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("q"))
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing q parameter"})
		return
	}

	pageNum, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || pageNum < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}

	page := h.directory.SearchFullText(c.Request.Context(), keyword, pageNum)

	result := make([]map[string]interface{}, 0, len(page.Announcements))
	for _, ann := range page.Announcements {
		item := announcementJSON(ann)
		delete(item, "state")
		delete(item, "created_at")
		result = append(result, item)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"announcements": result,
		"page":          pageNum,
		"total_pages":   page.TotalPages,
		"total":         page.TotalAnnouncements,
	})
}

func (h *Handler) GetOverview(c *gin.Context) {
	code := c.Param("code")
	if !watchlist.ValidCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code must be 5 or 6 digits"})
		return
	}

	overview, ok := h.directory.CompanyOverview(c.Request.Context(), code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Overview unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code, "overview": overview})
}

func (h *Handler) GetQuotes(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.Latest())
}

func (h *Handler) GetStatement(c *gin.Context) {
	code, category := c.Param("code"), c.Param("category")

	var (
		entry statement.Entry
		table statement.Table
		err   error
	)
	date := c.Query("date")
	if date != "" {
		entry.Date = date
		table, err = h.statements.Load(code, category, date)
	} else {
		entry, table, err = h.statements.GetEntry(c.Request.Context(), code, category)
	}

	switch {
	case errors.Is(err, statement.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, statement.ErrUnavailable) && date != "":
		c.JSON(http.StatusNotFound, gin.H{"error": "Statement entry not found"})
		return
	case errors.Is(err, statement.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Statement unavailable"})
		return
	case err != nil:
		slog.Error("Statement error", "code", code, "category", category, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Statement error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":     code,
		"category": category,
		"date":     entry.Date,
		"stale":    entry.Stale,
		"rows":     table,
	})
}

func (h *Handler) ListStatementEntries(c *gin.Context) {
	code, category := c.Param("code"), c.Param("category")

	entries, err := h.statements.Entries(code, category)
	if errors.Is(err, statement.ErrInvalidKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("Statement error", "code", code, "category", category, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Statement error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *Handler) TriggerSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	pageSize := h.pollPageSize
	if req.Full {
		pageSize = h.fullPageSize
	}

	task := tasks.NewSyncAnnouncementsTask(h.syncer, pageSize)
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing sync task", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"page_size": pageSize,
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
		},
	})
}

func (h *Handler) GetSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.syncer.Status())
}

func (h *Handler) StartDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	task := tasks.NewDownloadTask(req.IDs, h.announcements, h.documents, h.downloadDir, h.downloads)
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing download task", "error", err)
		h.downloads.Finish(task.ID, false)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue download task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":    task.ID,
			"type":  task.Type,
			"total": len(req.IDs),
		},
	})
}

func (h *Handler) GetDownload(c *gin.Context) {
	status, ok := h.downloads.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) refreshWatchlistSize() {
	if count, err := h.stocks.Count(); err == nil {
		metrics.WatchlistSize.Set(float64(count))
	}
}

func announcementID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid announcement id"})
		return 0, false
	}
	return id, true
}

func announcementJSON(ann database.Announcement) map[string]interface{} {
	return map[string]interface{}{
		"id":         ann.ID,
		"code":       ann.StockCode,
		"name":       ann.StockName,
		"title":      ann.Title,
		"date":       ann.Date.Format(database.DateLayout),
		"url":        ann.URL,
		"state":      ann.State,
		"created_at": ann.CreatedAt,
	}
}
