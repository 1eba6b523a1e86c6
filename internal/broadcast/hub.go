// Package broadcast fans decoded readings out to connected viewers.
// Delivery is best-effort: a viewer that cannot take a message right away
// misses it.
package broadcast

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geofence-tracker-backend/internal/model"
)

const (
	DateLayout = "02-01-2006"
	TimeLayout = "15:04:05"
)

// Message is what viewers receive for each stored reading.
type Message struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
}

// NewMessage enriches r with its capture date and time rendered in loc.
func NewMessage(r model.Reading, loc *time.Location) Message {
	t := time.Unix(r.CapturedAt, 0).In(loc)
	return Message{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Date:      t.Format(DateLayout),
		Time:      t.Format(TimeLayout),
	}
}

// Subscriber receives messages. Push must not block; it reports whether
// the message was accepted.
type Subscriber interface {
	ID() string
	Push(m Message) bool
}

// Delivery summarizes one Publish.
type Delivery struct {
	Delivered int
	Dropped   int
}

// Hub holds the current subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
	loc  *time.Location
	log  zerolog.Logger
}

// NewHub creates a hub that renders timestamps in loc.
func NewHub(loc *time.Location, log zerolog.Logger) *Hub {
	if loc == nil {
		loc = time.Local
	}
	return &Hub{
		subs: make(map[string]Subscriber),
		loc:  loc,
		log:  log.With().Str("module", "broadcast").Logger(),
	}
}

func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()
	h.log.Debug().Str("viewer", s.ID()).Int("viewers", n).Msg("viewer subscribed")
}

func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s.ID())
	n := len(h.subs)
	h.mu.Unlock()
	h.log.Debug().Str("viewer", s.ID()).Int("viewers", n).Msg("viewer unsubscribed")
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish pushes r to every subscriber without waiting on any of them.
func (h *Hub) Publish(r model.Reading) Delivery {
	msg := NewMessage(r, h.loc)

	h.mu.RLock()
	defer h.mu.RUnlock()

	var d Delivery
	for id, s := range h.subs {
		if s.Push(msg) {
			d.Delivered++
		} else {
			d.Dropped++
			h.log.Debug().Str("viewer", id).Msg("viewer not ready, message skipped")
		}
	}
	return d
}
