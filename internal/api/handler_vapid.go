package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetVAPIDPublicKey returns the application server key browsers need to
// subscribe to alarm notifications.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	key := ""
	if h.Webpush != nil {
		key = h.Webpush.VAPIDPublicKey
	}
	if key == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": key, "subject": h.Webpush.Subscriber})
}
