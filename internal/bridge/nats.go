// Package bridge republishes city events from NATS onto the realtime hub.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/metrics"
	"github.com/urbanease-realtime/internal/realtime"
	"github.com/urbanease-realtime/internal/validation"
)

const (
	subjectTransportPrefix = "city.transport."
	subjectTraffic         = "city.traffic"

	pendingBuffer = 1024
)

// Publisher is satisfied by *realtime.Hub.
type Publisher interface {
	Publish(topic string, payload []byte) int
}

// NATSBridge subscribes to a subject tree and forwards every mapped message
// to the hub as {"message": <data>}. It implements suture.Service.
type NATSBridge struct {
	url     string
	subject string
	hub     Publisher
}

func NewNATSBridge(url, subject string, hub Publisher) *NATSBridge {
	return &NATSBridge{url: url, subject: subject, hub: hub}
}

// Serve connects, subscribes and forwards messages until ctx is done.
// Connection failures are returned so the supervisor can restart it.
func (b *NATSBridge) Serve(ctx context.Context) error {
	nc, err := nats.Connect(b.url,
		nats.Name("urbanease-realtime-bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, pendingBuffer)
	sub, err := nc.ChanSubscribe(b.subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	logging.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject", b.subject).
		Msg("NATS bridge started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("NATS bridge stopped")
			return ctx.Err()
		case msg := <-msgs:
			b.handle(msg.Subject, msg.Data)
		}
	}
}

func (b *NATSBridge) String() string {
	return "nats-bridge"
}

func (b *NATSBridge) handle(subject string, data []byte) {
	topic, ok := TopicForSubject(subject)
	if !ok {
		metrics.BridgeMessagesTotal.WithLabelValues("ignored").Inc()
		logging.Debug().Str("subject", subject).Msg("no topic for subject")
		return
	}

	payload, err := realtime.EncodeEnvelope(json.RawMessage(data))
	if err != nil {
		metrics.BridgeMessagesTotal.WithLabelValues("invalid").Inc()
		logging.Warn().Err(err).Str("subject", subject).Msg("dropping NATS message")
		return
	}

	n := b.hub.Publish(topic, payload)
	metrics.BridgeMessagesTotal.WithLabelValues("published").Inc()
	logging.Debug().
		Str("subject", subject).
		Str("topic", topic).
		Int("recipients", n).
		Msg("NATS message forwarded")
}

// TopicForSubject maps city.transport.<route_id> to transport_<route_id> and
// city.traffic to the traffic topic.
func TopicForSubject(subject string) (string, bool) {
	if subject == subjectTraffic {
		return realtime.TrafficTopic, true
	}
	if routeID, ok := strings.CutPrefix(subject, subjectTransportPrefix); ok && validation.IsRouteID(routeID) {
		return realtime.TransportTopic(routeID), true
	}
	return "", false
}
