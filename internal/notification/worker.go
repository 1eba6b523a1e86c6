package notification

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"geofence-tracker-backend/internal/model"
)

// Sender delivers one push message to one browser.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)

func (f SenderFunc) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return f(payload, sub, options)
}

// WebPush sends through the push service named in the subscription endpoint.
var WebPush Sender = SenderFunc(webpush.SendNotification)

// ErrQueueFull is returned by PushAlerter.Alert when earlier alerts are
// still waiting for dispatch.
var ErrQueueFull = errors.New("push alert queue full")

// queuePerWorker sizes the alert queue.
const queuePerWorker = 16

// PushStats counts delivery outcomes since start.
type PushStats struct {
	Sent    uint64
	Expired uint64
	Failed  uint64
	Dropped uint64
}

type delivery struct {
	sub     model.PushSubscription
	payload []byte
}

// PushAlerter fans each alert out to every stored push subscription. One
// dispatcher resolves subscriptions; a fixed set of workers does the sends.
type PushAlerter struct {
	workers    int
	alerts     chan Alert
	deliveries chan delivery
	db         *gorm.DB
	opts       *webpush.Options
	sender     Sender
	log        zerolog.Logger

	sent, expired, failed, dropped atomic.Uint64
}

// NewPushAlerter creates an alerter with the given number of send workers.
// Call Start before raising alerts.
func NewPushAlerter(workers int, db *gorm.DB, opts *webpush.Options, log zerolog.Logger) *PushAlerter {
	if workers < 1 {
		workers = 1
	}
	return &PushAlerter{
		workers:    workers,
		alerts:     make(chan Alert, workers*queuePerWorker),
		deliveries: make(chan delivery, workers),
		db:         db,
		opts:       opts,
		sender:     WebPush,
		log:        log.With().Str("module", "push").Logger(),
	}
}

// WithSender replaces the push transport. It must be called before Start.
func (p *PushAlerter) WithSender(s Sender) *PushAlerter {
	p.sender = s
	return p
}

// Start launches the dispatcher and the send workers. They stop with ctx.
func (p *PushAlerter) Start(ctx context.Context) {
	go p.dispatch(ctx)
	for i := 0; i < p.workers; i++ {
		go p.deliver(ctx, i)
	}
}

// Alert queues a for delivery. It never blocks: when the queue is full the
// alert is dropped and ErrQueueFull returned.
func (p *PushAlerter) Alert(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.alerts <- a:
		return nil
	default:
		p.dropped.Add(1)
		p.log.Warn().Time("at", a.At).Msg("push queue full, alert dropped")
		return ErrQueueFull
	}
}

// Stats returns the delivery counters.
func (p *PushAlerter) Stats() PushStats {
	return PushStats{Sent: p.sent.Load(), Expired: p.expired.Load(), Failed: p.failed.Load(), Dropped: p.dropped.Load()}
}

func (p *PushAlerter) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-p.alerts:
			var subs []model.PushSubscription
			if err := p.db.WithContext(ctx).Find(&subs).Error; err != nil {
				p.log.Error().Err(err).Msg("error fetching push subscriptions")
				continue
			}
			if len(subs) == 0 {
				p.log.Debug().Msg("no push subscriptions, alert not pushed")
				continue
			}
			payload, err := a.JSON()
			if err != nil {
				p.log.Error().Err(err).Msg("error encoding alert")
				continue
			}

			p.log.Info().Int("subscriptions", len(subs)).Msg("pushing alert")
			for _, sub := range subs {
				select {
				case p.deliveries <- delivery{sub: sub, payload: payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (p *PushAlerter) deliver(ctx context.Context, id int) {
	log := p.log.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.deliveries:
			p.send(ctx, log, d)
		}
	}
}

func (p *PushAlerter) send(ctx context.Context, log zerolog.Logger, d delivery) {
	resp, err := p.sender.Send(d.payload, &webpush.Subscription{
		Endpoint: d.sub.Endpoint,
		Keys:     webpush.Keys{P256dh: d.sub.P256DH, Auth: d.sub.Auth},
	}, p.opts)
	if err != nil {
		p.failed.Add(1)
		log.Warn().Err(err).Str("endpoint", d.sub.Endpoint).Msg("push failed")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		p.expired.Add(1)
		log.Info().Str("endpoint", d.sub.Endpoint).Msg("subscription expired, deleting")
		if err := p.db.WithContext(ctx).Delete(&d.sub).Error; err != nil {
			log.Error().Err(err).Str("endpoint", d.sub.Endpoint).Msg("failed to delete expired subscription")
		}
	case resp.StatusCode >= 300:
		p.failed.Add(1)
		log.Warn().Int("status", resp.StatusCode).Str("endpoint", d.sub.Endpoint).Msg("push rejected")
	default:
		p.sent.Add(1)
	}
}
