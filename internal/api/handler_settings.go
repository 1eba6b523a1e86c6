package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"geofence-tracker-backend/internal/alarm"
	"geofence-tracker-backend/internal/settings"
)

// settingsResponse is the wire form of the alarm configuration.
type settingsResponse struct {
	Home      *alarm.Coordinate `json:"home"`
	MaxRadius *int              `json:"max_radius"`
	Downtime  *alarm.Window     `json:"downtime_window"`
}

func toSettingsResponse(cfg alarm.Config) settingsResponse {
	resp := settingsResponse{Home: cfg.Home, Downtime: cfg.Window}
	if cfg.MaxRadius != nil {
		m := int(*cfg.MaxRadius)
		resp.MaxRadius = &m
	}
	return resp
}

// GetSettings returns the current configuration.
func (h *Handler) GetSettings(c *gin.Context) {
	cfg, err := h.Settings.Current(c.Request.Context())
	if err != nil {
		h.settingsError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSettingsResponse(cfg))
}

// PutHome sets the home coordinate.
func (h *Handler) PutHome(c *gin.Context) {
	var req settings.HomeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cfg, err := h.Settings.SetHome(c.Request.Context(), req)
	h.respondSettings(c, cfg, err)
}

// PutRadius sets the maximum radius in meters.
func (h *Handler) PutRadius(c *gin.Context) {
	var req settings.RadiusInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cfg, err := h.Settings.SetRadius(c.Request.Context(), req)
	h.respondSettings(c, cfg, err)
}

// PutDowntime sets the downtime window.
func (h *Handler) PutDowntime(c *gin.Context) {
	var req settings.DowntimeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cfg, err := h.Settings.SetDowntime(c.Request.Context(), req)
	h.respondSettings(c, cfg, err)
}

// DeleteSetting unsets one value.
func (h *Handler) DeleteSetting(c *gin.Context) {
	cfg, err := h.Settings.Clear(c.Request.Context(), c.Param("key"))
	h.respondSettings(c, cfg, err)
}

func (h *Handler) respondSettings(c *gin.Context, cfg alarm.Config, err error) {
	if err != nil {
		h.settingsError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSettingsResponse(cfg))
}

func (h *Handler) settingsError(c *gin.Context, err error) {
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to access settings"})
}
