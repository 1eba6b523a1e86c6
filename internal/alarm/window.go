package alarm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ErrBadTimeOfDay is returned for strings that are not 24-hour HH:MM.
var ErrBadTimeOfDay = errors.New("time must be HH:MM in 24-hour format")

// TimeOfDay is minutes after midnight, 0..1439.
type TimeOfDay int

// ParseTimeOfDay parses a strict 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := hhmm.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTimeOfDay, s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return TimeOfDay(h*60 + mm), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Of returns the time of day of t in t's location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalText encodes the time as HH:MM.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses HH:MM.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Format12h renders the time as "7:05 PM". Midnight is "12:00 AM".
func (t TimeOfDay) Format12h() string {
	hour, minute := int(t)/60, int(t)%60
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", (hour+11)%12+1, minute, period)
}

// Window is a daily downtime interval. When Start >= End the window wraps
// past midnight.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// ParseWindow parses a pair of HH:MM strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.Start >= w.End
}

// Contains reports whether now falls inside the window. Start is inclusive,
// End exclusive.
func (w Window) Contains(now time.Time) bool {
	cur := Of(now)
	if !w.Wraps() {
		return cur >= w.Start && cur < w.End
	}
	return cur >= w.Start || cur < w.End
}

// Describe renders the window for display, e.g. "7:00 PM to 7:00 AM".
func (w Window) Describe() string {
	return w.Start.Format12h() + " to " + w.End.Format12h()
}
