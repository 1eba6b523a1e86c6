// Package monitor runs a GeofenceAlarm inside the server. It subscribes to
// the broadcast hub like any viewer, re-evaluates on a timer, and raises
// alerts through an Alerter.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geofence-tracker-backend/internal/alarm"
	"geofence-tracker-backend/internal/broadcast"
	"geofence-tracker-backend/internal/notification"
)

// Options tunes a Monitor.
type Options struct {
	Buffer       int
	TickInterval time.Duration
	// Location is the zone the downtime window is evaluated in.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor owns one alarm. All alarm transitions happen on the Run
// goroutine.
type Monitor struct {
	alarm   *alarm.Alarm
	alerter notification.Alerter
	opts    Options
	log     zerolog.Logger

	readings    chan alarm.Coordinate
	reconfigure chan struct{}

	mu      sync.RWMutex
	pending *alarm.Config
	snap    snapshot
}

type snapshot struct {
	cfg   alarm.Config
	state alarm.State
	last  *alarm.Coordinate
}

// New creates a monitor starting from cfg.
func New(cfg alarm.Config, alerter notification.Alerter, opts Options, log zerolog.Logger) *Monitor {
	if opts.Buffer < 1 {
		opts.Buffer = 16
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		alarm:       alarm.New(cfg),
		alerter:     alerter,
		opts:        opts,
		log:         log.With().Str("module", "monitor").Logger(),
		readings:    make(chan alarm.Coordinate, opts.Buffer),
		reconfigure: make(chan struct{}, 1),
		snap:        snapshot{cfg: cfg},
	}
}

func (m *Monitor) ID() string {
	return "alarm-monitor"
}

// Push queues a broadcast reading. It never blocks.
func (m *Monitor) Push(msg broadcast.Message) bool {
	select {
	case m.readings <- alarm.Coordinate{Latitude: msg.Latitude, Longitude: msg.Longitude}:
		return true
	default:
		return false
	}
}

// Reconfigure schedules a configuration change. Only the latest pending
// configuration is applied.
func (m *Monitor) Reconfigure(cfg alarm.Config) {
	m.mu.Lock()
	m.pending = &cfg
	m.mu.Unlock()
	select {
	case m.reconfigure <- struct{}{}:
	default:
	}
}

// Run processes readings, ticks and reconfigurations until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()

	m.log.Info().Dur("tick", m.opts.TickInterval).Msg("alarm monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("alarm monitor stopped")
			return
		case pos := <-m.readings:
			m.handle(ctx, m.alarm.Evaluate(pos, m.now()))
		case <-ticker.C:
			m.handle(ctx, m.alarm.Tick(m.now()))
		case <-m.reconfigure:
			m.mu.Lock()
			cfg := m.pending
			m.pending = nil
			m.mu.Unlock()
			if cfg != nil {
				m.alarm.Configure(*cfg)
				m.log.Info().Bool("armed", cfg.Armed()).Msg("alarm reconfigured")
				m.handle(ctx, alarm.None)
			}
		}
	}
}

func (m *Monitor) now() time.Time {
	return m.opts.Now().In(m.opts.Location)
}

func (m *Monitor) handle(ctx context.Context, t alarm.Transition) {
	m.mu.Lock()
	m.snap = snapshot{cfg: m.alarm.Config(), state: m.alarm.State(), last: m.alarm.Last()}
	m.mu.Unlock()

	switch t {
	case alarm.Fired:
		a := m.alertFor(m.now())
		m.log.Warn().Float64("distance_m", a.Distance).Msg("alarm triggered")
		if m.alerter == nil {
			return
		}
		if err := m.alerter.Alert(ctx, a); err != nil {
			m.log.Error().Err(err).Msg("failed to deliver alert")
		}
	case alarm.Reset:
		m.log.Info().Msg("alarm reset")
	}
}

func (m *Monitor) alertFor(now time.Time) notification.Alert {
	cfg := m.alarm.Config()
	pos := m.alarm.Last()
	a := notification.Alert{At: now}
	if pos != nil {
		a.Position = *pos
	}
	if cfg.Home != nil {
		a.Home = *cfg.Home
		a.Distance = alarm.Distance(a.Position, a.Home)
	}
	if cfg.MaxRadius != nil {
		a.MaxRadius = *cfg.MaxRadius
	}
	if cfg.Window != nil {
		a.Window = cfg.Window.Describe()
	}
	return a
}

// Status is the display view of the alarm.
type Status struct {
	// Alarm is "Active" while the downtime window is open, else "Inactive".
	Alarm        string            `json:"alarm"`
	Window       string            `json:"downtime_window"`
	Radius       string            `json:"max_radius"`
	Triggered    bool              `json:"triggered"`
	Home         *alarm.Coordinate `json:"home"`
	LastPosition *alarm.Coordinate `json:"last_position"`
}

// Status renders the current state for display.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	snap := m.snap
	m.mu.RUnlock()

	st := Status{
		Alarm:        "Inactive",
		Window:       "Not Set",
		Radius:       "Not Set",
		Triggered:    snap.state == alarm.Triggered,
		Home:         snap.cfg.Home,
		LastPosition: snap.last,
	}
	if snap.cfg.InWindow(m.now()) {
		st.Alarm = "Active"
	}
	if snap.cfg.Window != nil {
		st.Window = snap.cfg.Window.Describe()
	}
	if snap.cfg.MaxRadius != nil {
		st.Radius = fmt.Sprintf("%.0f meters", *snap.cfg.MaxRadius)
	}
	return st
}
