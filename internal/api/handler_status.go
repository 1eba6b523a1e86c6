package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStatus returns the alarm display status.
func (h *Handler) GetStatus(c *gin.Context) {
	if h.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alarm monitor is disabled"})
		return
	}
	c.JSON(http.StatusOK, h.Monitor.Status())
}

// GetLatestReading returns the newest stored record.
func (h *Handler) GetLatestReading(c *gin.Context) {
	rec, err := h.Store.Latest(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reading"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no readings yet"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Health reports liveness and the number of connected viewers.
func (h *Handler) Health(c *gin.Context) {
	viewers := 0
	if h.Hub != nil {
		viewers = h.Hub.Count()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "viewers": viewers})
}

// ServeWS upgrades the connection to a broadcast viewer.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broadcast is unavailable"})
		return
	}
	h.Hub.Serve(c.Writer, c.Request, h.Viewer)
}
