package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"geofence-tracker-backend/internal/broadcast"
	"geofence-tracker-backend/internal/ingest"
	"geofence-tracker-backend/internal/monitor"
	"geofence-tracker-backend/internal/settings"
	"geofence-tracker-backend/internal/store"
)

// Uplinker accepts raw uplink frames.
type Uplinker interface {
	HandleUplink(ctx context.Context, raw []byte) (ingest.Ack, error)
}

// StatusSource reports the alarm display status.
type StatusSource interface {
	Status() monitor.Status
}

// Deps are the collaborators of the API handlers. Monitor and Hub may be
// nil; the routes that need them then answer 503.
type Deps struct {
	Uplink         Uplinker
	Store          store.Store
	Settings       *settings.Service
	Monitor        StatusSource
	Hub            *broadcast.Hub
	Viewer         broadcast.ViewerOptions
	Webpush        *webpush.Options
	UplinkMaxBytes int64
	Log            zerolog.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.UplinkMaxBytes <= 0 {
		d.UplinkMaxBytes = 10 << 10
	}
	return &Handler{Deps: d}
}
