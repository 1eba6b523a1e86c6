package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"geofence-tracker-backend/internal/ingest"
)

const octetStream = "application/octet-stream"

// PostUplink accepts one binary frame from the device.
func (h *Handler) PostUplink(c *gin.Context) {
	if c.ContentType() != octetStream {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be " + octetStream})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.UplinkMaxBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	ack, err := h.Uplink.HandleUplink(c.Request.Context(), body)
	if err != nil {
		var f *ingest.Failure
		if errors.As(err, &f) && f.Kind == ingest.KindDecode {
			c.JSON(http.StatusBadRequest, gin.H{"error": f.Err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": ack.Record.ID, "status": "stored"})
}
