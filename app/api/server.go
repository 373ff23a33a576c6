package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/disclosure-comb/app/cfg"
	"github.com/lysyi3m/disclosure-comb/app/metrics"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/metrics"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	r.GET("/feeds/announcements", handler.GetFeed)

	r.GET("/health", handler.GetHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	if apiAccessKey != "" {
		api.Use(authMiddleware(apiAccessKey))
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled (API_ACCESS_KEY not set)")
	}
	{
		api.GET("/announcements", handler.ListAnnouncements)
		api.POST("/announcements/:id/state", handler.SetAnnouncementState)
		api.GET("/announcements/:id/open", handler.OpenAnnouncement)

		api.GET("/stocks", handler.ListStocks)
		api.POST("/stocks", handler.AddStock)
		api.DELETE("/stocks/:code", handler.RemoveStock)
		api.GET("/stocks/:code/overview", handler.GetOverview)
		api.GET("/search", handler.SearchTickers)
		api.GET("/search/announcements", handler.SearchAnnouncements)

		api.GET("/quotes", handler.GetQuotes)
		api.GET("/quotes/stream", handler.StreamQuotes)

		api.GET("/statements/:code/:category", handler.GetStatement)
		api.GET("/statements/:code/:category/entries", handler.ListStatementEntries)

		api.GET("/sync", handler.GetSyncStatus)
		api.POST("/sync", handler.TriggerSync)

		api.POST("/downloads", handler.StartDownload)
		api.GET("/downloads/:id", handler.GetDownload)
		api.GET("/downloads/:id/events", handler.StreamDownload)
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"feed":          "/feeds/announcements",
			"health":        "/health",
			"metrics":       "/metrics",
			"announcements": "/api/announcements?order=desc|asc",
			"state":         "/api/announcements/<id>/state (POST)",
			"open":          "/api/announcements/<id>/open",
			"stocks":        "/api/stocks (GET, POST), /api/stocks/<code> (DELETE)",
			"overview":      "/api/stocks/<code>/overview",
			"search":        "/api/search?q=<keyword>",
			"fulltext":      "/api/search/announcements?q=<keyword>&page=<n>",
			"quotes":        "/api/quotes, /api/quotes/stream (SSE)",
			"statements":    "/api/statements/<code>/<zcfzb|lrb|xjllb>[?date=<date>]",
			"entries":       "/api/statements/<code>/<category>/entries",
			"sync":          "/api/sync (GET, POST)",
			"downloads":     "/api/downloads (POST), /api/downloads/<id>, /api/downloads/<id>/events (SSE)",
		}

		c.JSON(200, gin.H{
			"service":     "Disclosure Comb",
			"version":     cfg.Get().Version,
			"description": "Announcement tracker for watched stocks with statement caching and quote polling",
			"endpoints":   endpoints,
			"api_status": map[string]interface{}{
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
