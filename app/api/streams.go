package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StreamQuotes pushes a "quotes" event with the current snapshot and another
// after every publish until the client disconnects.
func (h *Handler) StreamQuotes(c *gin.Context) {
	updates, cancel := h.board.Subscribe()
	defer cancel()

	streamHeaders(c)

	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			c.SSEvent("quotes", h.board.Latest())
			return true
		}

		select {
		case <-c.Request.Context().Done():
			return false
		case snapshot, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("quotes", snapshot)
			return true
		}
	})
}

// StreamDownload sends the download status, a "progress" event per document
// and a final "status" event once the download finishes.
func (h *Handler) StreamDownload(c *gin.Context) {
	id := c.Param("id")

	progress, cancel, ok := h.downloads.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
		return
	}
	defer cancel()

	streamHeaders(c)

	first, done := true, false
	c.Stream(func(w io.Writer) bool {
		if done {
			return false
		}
		if first {
			first = false
			if status, ok := h.downloads.Get(id); ok {
				c.SSEvent("status", status)
			}
			return true
		}

		select {
		case <-c.Request.Context().Done():
			return false
		case p, ok := <-progress:
			if ok {
				c.SSEvent("progress", p)
				return true
			}
			done = true
			if status, ok := h.downloads.Get(id); ok {
				c.SSEvent("status", status)
			}
			return true
		}
	})
}

func streamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
}
