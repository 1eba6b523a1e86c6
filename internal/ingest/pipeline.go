// Package ingest runs one uplink through decode, durable append and
// broadcast, in that order.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"geofence-tracker-backend/internal/broadcast"
	"geofence-tracker-backend/internal/codec"
	"geofence-tracker-backend/internal/model"
)

// Store is the durable append used by the pipeline.
type Store interface {
	Append(ctx context.Context, r model.Reading) (model.GPSRecord, error)
}

// Broadcaster pushes a stored reading to viewers. It must not block.
type Broadcaster interface {
	Publish(r model.Reading) broadcast.Delivery
}

// Kind classifies a failed uplink.
type Kind int

const (
	// KindDecode means the payload was rejected; nothing was stored.
	KindDecode Kind = iota + 1
	// KindStore means the write failed terminally; nothing was broadcast.
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Failure is returned by HandleUplink when the uplink was not accepted.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Ack acknowledges a stored uplink.
type Ack struct {
	Record   model.GPSRecord
	Delivery broadcast.Delivery
}

// Pipeline orchestrates codec, store and broadcaster.
type Pipeline struct {
	store Store
	bc    Broadcaster
	now   func() time.Time
	log   zerolog.Logger
}

// NewPipeline creates a pipeline. bc may be nil when nobody listens.
func NewPipeline(s Store, bc Broadcaster, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store: s,
		bc:    bc,
		now:   time.Now,
		log:   log.With().Str("module", "ingest").Logger(),
	}
}

// HandleUplink decodes raw, appends it and broadcasts the stored record.
// The ack depends only on the append. Once decoding succeeds the write and broadcast run to
// completion even if ctx is cancelled.
func (p *Pipeline) HandleUplink(ctx context.Context, raw []byte) (Ack, error) {
	reading, err := codec.Decode(raw)
	if err != nil {
		p.log.Warn().Err(err).Int("bytes", len(raw)).Msg("rejected uplink")
		return Ack{}, &Failure{Kind: KindDecode, Err: err}
	}
	reading.CapturedAt = p.now().Unix()

	rec, err := p.store.Append(context.WithoutCancel(ctx), reading)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to store uplink")
		return Ack{}, &Failure{Kind: KindStore, Err: err}
	}

	ack := Ack{Record: rec}
	if p.bc != nil {
		ack.Delivery = p.bc.Publish(rec.Reading())
	}

	p.log.Info().
		Int64("id", rec.ID).
		Float64("lat", reading.Latitude).
		Float64("lng", reading.Longitude).
		Int("delivered", ack.Delivery.Delivered).
		Int("dropped", ack.Delivery.Dropped).
		Msg("uplink stored")
	return ack, nil
}
