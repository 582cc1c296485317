package realtime

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// ConnOptions limits what one websocket client may publish.
type ConnOptions struct {
	// PublishRate is frames per second; zero disables limiting.
	PublishRate  float64
	PublishBurst int
}

// Conn is the Handle for a websocket client. Only the hub's delivery
// goroutine writes data frames; pings go through WriteControl, which
// gorilla allows concurrently.
type Conn struct {
	ws    *websocket.Conn
	topic string
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		// a failed write leaves the connection unusable; closing it ends
		// the read loop, which unsubscribes.
		_ = c.ws.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return context.DeadlineExceeded
		}
		return err
	}
	return nil
}

// ServeConn subscribes ws to topic and relays its frames until the client
// disconnects or ctx is done. The connection is unsubscribed and closed on
// return. Only Subscribe failures are returned.
func ServeConn(ctx context.Context, hub *Hub, ws *websocket.Conn, topic string, opts ConnOptions) error {
	c := &Conn{ws: ws, topic: topic}
	tok, err := hub.Subscribe(topic, c)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		return err
	}

	metrics.WSConnections.Inc()
	logging.Info().
		Str("topic", topic).
		Str("remote", ws.RemoteAddr().String()).
		Msg("websocket client connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		hub.Unsubscribe(tok)
		_ = ws.Close()
		metrics.WSConnections.Dec()
		logging.Info().Str("topic", topic).Msg("websocket client disconnected")
	}()

	go c.pingLoop(ctx, done)
	c.readLoop(hub, newLimiter(opts))
	return nil
}

func newLimiter(opts ConnOptions) *rate.Limiter {
	if opts.PublishRate <= 0 {
		return nil
	}
	burst := opts.PublishBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.PublishRate), burst)
}

func (c *Conn) readLoop(hub *Hub, limiter *rate.Limiter) {
	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("topic", c.topic).Msg("unexpected websocket close")
			}
			return
		}
		metrics.WSFramesReceived.Inc()

		if limiter != nil && !limiter.Allow() {
			metrics.WSFramesRejected.WithLabelValues("rate_limited").Inc()
			logging.Warn().Str("topic", c.topic).Msg("client publish rate exceeded, frame dropped")
			continue
		}

		payload, err := DecodeEnvelope(data)
		if err != nil {
			metrics.WSFramesRejected.WithLabelValues("malformed").Inc()
			logging.Warn().Err(err).Str("topic", c.topic).Msg("malformed frame dropped")
			continue
		}
		out, err := EncodeEnvelope(payload)
		if err != nil {
			metrics.WSFramesRejected.WithLabelValues("malformed").Inc()
			continue
		}
		hub.Publish(c.topic, out)
	}
}

func (c *Conn) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = c.ws.Close()
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}
