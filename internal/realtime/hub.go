// Package realtime implements the topic broadcast hub and its websocket front door.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/metrics"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
)

// Handle is a send-capable endpoint owned by the caller. The hub only keeps
// a reference while the subscription is live and never closes it.
//
// Send receives the same payload slice as every other member of the topic;
// it must not modify it.
type Handle interface {
	Send(ctx context.Context, payload []byte) error
}

// HandleFunc adapts a function to Handle.
type HandleFunc func(ctx context.Context, payload []byte) error

func (f HandleFunc) Send(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Token identifies one subscription. The zero Token is a valid no-op
// argument to Unsubscribe.
type Token struct {
	id    uuid.UUID
	topic string
}

func (t Token) ID() uuid.UUID { return t.id }
func (t Token) Topic() string { return t.topic }
func (t Token) IsZero() bool  { return t.id == uuid.Nil }

// Options tunes a Hub. Zero values take the defaults.
type Options struct {
	// QueueSize bounds each subscriber's pending messages.
	QueueSize int
	// SendTimeout bounds a single Handle.Send call.
	SendTimeout time.Duration
	// OnDeliveryError is called from a subscription's delivery goroutine when
	// Send fails or times out, and synchronously from Publish when an outbox
	// is full. Keep it fast and do not call Publish from it.
	OnDeliveryError func(*DeliveryError)
}

// TopicStats is one row of Hub.Topics.
type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

// Hub routes published payloads to the handles subscribed to the same topic.
// A topic exists only while it has members.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[uuid.UUID]*subscription
	closed bool

	opts Options
	wg   sync.WaitGroup
}

func NewHub(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Hub{
		topics: make(map[string]map[uuid.UUID]*subscription),
		opts:   opts,
	}
}

// Subscribe adds handle to topic, creating the topic if needed. The handle
// receives every message published to topic from now until Unsubscribe, in
// publish order.
func (h *Hub) Subscribe(topic string, handle Handle) (Token, error) {
	if err := ValidateTopic(topic); err != nil {
		return Token{}, err
	}
	if handle == nil {
		return Token{}, ErrInvalidHandle
	}

	sub := newSubscription(topic, handle, h.opts.QueueSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Token{}, ErrHubClosed
	}
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[uuid.UUID]*subscription)
		h.topics[topic] = members
		metrics.HubTopics.Inc()
	}
	members[sub.id] = sub
	count := len(members)
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		sub.run(h.opts.SendTimeout, h.reportFailure)
	}()

	metrics.HubSubscribers.Inc()
	logging.Debug().
		Str("topic", topic).
		Str("subscription", sub.id.String()).
		Int("subscribers", count).
		Msg("subscribed")
	return sub.token(), nil
}

// Unsubscribe removes the subscription. Unknown or already removed tokens
// are ignored. A send in flight to the handle has its context cancelled.
func (h *Hub) Unsubscribe(tok Token) {
	h.mu.Lock()
	members := h.topics[tok.topic]
	sub, ok := members[tok.id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(members, tok.id)
	remaining := len(members)
	if remaining == 0 {
		delete(h.topics, tok.topic)
		metrics.HubTopics.Dec()
	}
	h.mu.Unlock()

	sub.stop()
	metrics.HubSubscribers.Dec()
	logging.Debug().
		Str("topic", tok.topic).
		Str("subscription", tok.id.String()).
		Int("subscribers", remaining).
		Msg("unsubscribed")
}

// Publish queues payload for every current member of topic and returns how
// many members were in the snapshot. A member that cannot accept the message
// gets a DeliveryError; the others are unaffected. payload is copied.
func (h *Hub) Publish(topic string, payload []byte) int {
	h.mu.RLock()
	members := h.topics[topic]
	snapshot := make([]*subscription, 0, len(members))
	for _, sub := range members {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	metrics.HubPublishedTotal.WithLabelValues(topicKind(topic)).Inc()
	if len(snapshot) == 0 {
		return 0
	}

	msg := append([]byte(nil), payload...)
	for _, sub := range snapshot {
		if err := sub.enqueue(msg); err != nil {
			h.reportFailure(&DeliveryError{Topic: topic, Token: sub.token(), Err: err})
		}
	}
	return len(snapshot)
}

// SubscriberCount returns the number of members of topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// TopicCount returns the number of live topics.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// Topics lists live topics sorted by name.
func (h *Hub) Topics() []TopicStats {
	h.mu.RLock()
	out := make([]TopicStats, 0, len(h.topics))
	for topic, members := range h.topics {
		out = append(out, TopicStats{Topic: topic, Subscribers: len(members)})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Close drops every subscription and waits for the delivery goroutines to
// exit. Subscribe fails with ErrHubClosed afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var subs []*subscription
	for _, members := range h.topics {
		for _, sub := range members {
			subs = append(subs, sub)
		}
	}
	topics := len(h.topics)
	h.topics = make(map[string]map[uuid.UUID]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	h.wg.Wait()

	metrics.HubTopics.Sub(float64(topics))
	metrics.HubSubscribers.Sub(float64(len(subs)))
	logging.Info().
		Str("component", "realtime-hub").
		Int("topics", topics).
		Int("subscriptions_closed", len(subs)).
		Msg("hub closed")
}

// Serve runs until ctx is done and then closes the hub, so the hub can sit
// in a suture supervisor next to the services that feed it.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return ctx.Err()
}

func (h *Hub) String() string {
	return "realtime-hub"
}

func (h *Hub) reportFailure(derr *DeliveryError) {
	metrics.HubDeliveryErrors.WithLabelValues(derr.reason()).Inc()
	logging.Warn().
		Err(derr.Err).
		Str("topic", derr.Topic).
		Str("subscription", derr.Token.ID().String()).
		Msg("delivery failed")
	if h.opts.OnDeliveryError != nil {
		h.opts.OnDeliveryError(derr)
	}
}
