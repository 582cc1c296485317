package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/urbanease-realtime/internal/metrics"
)

// subscription owns the outbox and delivery goroutine for one handle.
// The outbox is never closed; stop closes done instead so a Publish racing
// with Unsubscribe cannot send on a closed channel.
type subscription struct {
	id     uuid.UUID
	topic  string
	handle Handle

	outbox chan []byte
	done   chan struct{}
	once   sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func newSubscription(topic string, handle Handle, queueSize int) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		id:     uuid.New(),
		topic:  topic,
		handle: handle,
		outbox: make(chan []byte, queueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *subscription) token() Token {
	return Token{id: s.id, topic: s.topic}
}

// enqueue never blocks. A stopped subscription silently drops the message.
func (s *subscription) enqueue(msg []byte) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.outbox <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})
}

func (s *subscription) run(timeout time.Duration, report func(*DeliveryError)) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbox:
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(msg, timeout, report)
		}
	}
}

func (s *subscription) deliver(msg []byte, timeout time.Duration, report func(*DeliveryError)) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if err := s.handle.Send(ctx, msg); err != nil {
		if s.ctx.Err() != nil {
			// unsubscribed mid-send
			return
		}
		report(&DeliveryError{Topic: s.topic, Token: s.token(), Err: err})
		return
	}
	metrics.HubDeliveriesTotal.Inc()
}
