package broadcast

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Viewer is a websocket subscriber. Messages are queued in a small buffer
// and written by Run; when the buffer is full new messages are skipped.
type Viewer struct {
	id           string
	conn         *websocket.Conn
	out          chan Message
	writeTimeout time.Duration
	log          zerolog.Logger

	pushed  atomic.Uint64
	skipped atomic.Uint64
}

// NewViewer wraps an accepted connection.
func NewViewer(conn *websocket.Conn, buffer int, writeTimeout time.Duration, log zerolog.Logger) *Viewer {
	if buffer < 1 {
		buffer = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	id := uuid.NewString()
	return &Viewer{
		id:           id,
		conn:         conn,
		out:          make(chan Message, buffer),
		writeTimeout: writeTimeout,
		log:          log.With().Str("viewer", id).Logger(),
	}
}

func (v *Viewer) ID() string {
	return v.id
}

func (v *Viewer) Push(m Message) bool {
	select {
	case v.out <- m:
		v.pushed.Add(1)
		return true
	default:
		v.skipped.Add(1)
		return false
	}
}

// Stats returns how many messages were queued and skipped.
func (v *Viewer) Stats() (pushed, skipped uint64) {
	return v.pushed.Load(), v.skipped.Load()
}

// Run writes queued messages until the peer goes away or ctx ends. Inbound
// frames are discarded.
func (v *Viewer) Run(ctx context.Context) error {
	ctx = v.conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-v.out:
			wctx, cancel := context.WithTimeout(ctx, v.writeTimeout)
			err := wsjson.Write(wctx, v.conn, m)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// ViewerOptions configures Serve.
type ViewerOptions struct {
	Buffer       int
	WriteTimeout time.Duration
}

// Serve upgrades the request to a websocket, subscribes it to the hub and
// blocks until the viewer disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, opts ViewerOptions) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		h.log.Err(err).Msg("error while upgrading websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unhandled error")

	v := NewViewer(conn, opts.Buffer, opts.WriteTimeout, h.log)
	h.Subscribe(v)
	defer h.Unsubscribe(v)

	v.log.Info().Str("remote", r.RemoteAddr).Msg("viewer connected")
	err = v.Run(r.Context())
	pushed, skipped := v.Stats()
	ev := v.log.Info()
	if err != nil && !isNormalClose(err) {
		ev = v.log.Warn().Err(err)
	}
	ev.Uint64("pushed", pushed).Uint64("skipped", skipped).Msg("viewer disconnected")
	conn.Close(websocket.StatusNormalClosure, "")
}

func isNormalClose(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
