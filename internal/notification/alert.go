package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"geofence-tracker-backend/internal/alarm"
)

// Alert describes one geofence violation.
type Alert struct {
	At        time.Time        `json:"at"`
	Position  alarm.Coordinate `json:"position"`
	Home      alarm.Coordinate `json:"home"`
	Distance  float64          `json:"distance_meters"`
	MaxRadius float64          `json:"max_radius_meters"`
	Window    string           `json:"downtime_window"`
}

// Title is the short headline shown by notification surfaces.
func (a Alert) Title() string {
	return "Geofence alarm"
}

// Body is the human-readable alert text.
func (a Alert) Body() string {
	return fmt.Sprintf("Device is %.0f m from home, outside the %.0f m radius during downtime (%s).",
		a.Distance, a.MaxRadius, a.Window)
}

// JSON encodes the alert with its title and body.
func (a Alert) JSON() ([]byte, error) {
	type payload struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Alert
	}
	return json.Marshal(payload{Title: a.Title(), Body: a.Body(), Alert: a})
}

// Alerter delivers an alert. Implementations must not block for long; the
// alarm monitor calls them inline.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the log.
type LogAlerter struct {
	Log zerolog.Logger
}

func (l LogAlerter) Alert(_ context.Context, a Alert) error {
	l.Log.Warn().
		Float64("lat", a.Position.Latitude).
		Float64("lng", a.Position.Longitude).
		Float64("distance_m", a.Distance).
		Float64("radius_m", a.MaxRadius).
		Str("window", a.Window).
		Msg("ALARM: device outside the home radius during downtime")
	return nil
}

// Multi fans an alert out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if al == nil {
			continue
		}
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
