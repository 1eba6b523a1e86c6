// Package alarm implements the geofence/downtime alarm: an edge-triggered
// state machine that fires once when the device leaves the home radius
// during the downtime window.
package alarm

import "time"

// State is the alarm state.
type State int

const (
	Idle State = iota
	Triggered
)

func (s State) String() string {
	if s == Triggered {
		return "triggered"
	}
	return "idle"
}

// Transition is the outcome of one evaluation.
type Transition int

const (
	// None means the state did not change.
	None Transition = iota
	// Fired is Idle -> Triggered. The caller raises the alert.
	Fired
	// Reset is Triggered -> Idle. No alert.
	Reset
)

func (t Transition) String() string {
	switch t {
	case Fired:
		return "fired"
	case Reset:
		return "reset"
	default:
		return "none"
	}
}

// Config is the alarm configuration. Nil fields are unconfigured. Values are
// validated before they reach the alarm.
type Config struct {
	Home      *Coordinate `json:"home"`
	MaxRadius *float64    `json:"max_radius"`
	Window    *Window     `json:"downtime_window"`
}

// Armed reports whether every constraint needed to trigger is present.
func (c Config) Armed() bool {
	return c.Home != nil && c.MaxRadius != nil && c.Window != nil
}

// InWindow reports whether now is inside the downtime window. An unset window
// is never active.
func (c Config) InWindow(now time.Time) bool {
	return c.Window != nil && c.Window.Contains(now)
}

// Outside reports whether pos lies beyond the radius around home. Without a
// home or radius nothing is outside.
func (c Config) Outside(pos Coordinate) bool {
	if c.Home == nil || c.MaxRadius == nil {
		return false
	}
	return Distance(pos, *c.Home) > *c.MaxRadius
}

// Alarm tracks one viewer's alarm state. It is not safe for concurrent use;
// each viewer owns its own.
type Alarm struct {
	cfg   Config
	state State
	last  *Coordinate
}

// New creates an Idle alarm.
func New(cfg Config) *Alarm {
	return &Alarm{cfg: cfg}
}

// State returns the current state.
func (a *Alarm) State() State {
	return a.state
}

// Config returns the configuration in effect.
func (a *Alarm) Config() Config {
	return a.cfg
}

// Last returns the most recent evaluated position, or nil.
func (a *Alarm) Last() *Coordinate {
	if a.last == nil {
		return nil
	}
	c := *a.last
	return &c
}

// Configure replaces the configuration and forces the alarm to Idle,
// regardless of where the device is.
func (a *Alarm) Configure(cfg Config) {
	a.cfg = cfg
	a.state = Idle
}

// Evaluate runs one evaluation for a new reading.
func (a *Alarm) Evaluate(pos Coordinate, now time.Time) Transition {
	p := pos
	a.last = &p
	return a.step(pos, now)
}

// Tick re-evaluates the last known position at now, catching a window that
// opened or closed without new movement.
func (a *Alarm) Tick(now time.Time) Transition {
	if a.last == nil {
		return None
	}
	return a.step(*a.last, now)
}

func (a *Alarm) step(pos Coordinate, now time.Time) Transition {
	if a.cfg.Home == nil {
		return None
	}

	shouldTrigger := a.cfg.Armed() && a.cfg.InWindow(now) && a.cfg.Outside(pos)

	switch {
	case shouldTrigger && a.state == Idle:
		a.state = Triggered
		return Fired
	case !shouldTrigger && a.state == Triggered:
		a.state = Idle
		return Reset
	}
	return None
}
