package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"geofence-tracker-backend/config"
	"geofence-tracker-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(log))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	r.GET("/healthz", h.Health)
	r.POST("/uplink", rateLimiter, h.PostUplink)
	r.GET("/ws", h.ServeWS)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings/home", h.PutHome)
		api.PUT("/settings/radius", h.PutRadius)
		api.PUT("/settings/downtime", h.PutDowntime)
		api.DELETE("/settings/:key", h.DeleteSetting)

		api.GET("/status", h.GetStatus)
		api.GET("/readings/latest", h.GetLatestReading)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
