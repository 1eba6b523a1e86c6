package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Subscriber delivers raw message payloads for a topic.
type Subscriber interface {
	Subscribe(topic string, qos byte, fn func(topic string, payload []byte)) error
}

// SubscribeUplinks feeds every message on topic into the pipeline. There is
// no caller to acknowledge, so outcomes are only logged.
func SubscribeUplinks(ctx context.Context, sub Subscriber, topic string, qos byte, p *Pipeline, log zerolog.Logger) error {
	log = log.With().Str("module", "uplink-source").Str("topic", topic).Logger()
	return sub.Subscribe(topic, qos, func(t string, payload []byte) {
		_, err := p.HandleUplink(ctx, payload)
		var f *Failure
		if errors.As(err, &f) {
			log.Warn().Str("kind", f.Kind.String()).Err(f.Err).Msg("uplink from broker not accepted")
		}
	})
}
