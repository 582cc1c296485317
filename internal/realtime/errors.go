package realtime

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidTopic is returned by Subscribe for an empty or malformed topic.
	ErrInvalidTopic = errors.New("realtime: invalid topic")
	// ErrInvalidHandle is returned by Subscribe for a nil handle.
	ErrInvalidHandle = errors.New("realtime: nil handle")
	// ErrHubClosed is returned by Subscribe after Close.
	ErrHubClosed = errors.New("realtime: hub closed")
	// ErrOutboxFull means a subscriber fell QueueSize messages behind.
	ErrOutboxFull = errors.New("realtime: subscriber outbox full")
	// ErrMissingMessage is returned for a JSON object without a "message" key.
	ErrMissingMessage = errors.New("realtime: envelope has no message field")
)

// DeliveryError reports a failed delivery to one subscriber. It never
// escapes Publish; it reaches the log, metrics and Options.OnDeliveryError.
type DeliveryError struct {
	Topic string
	Token Token
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("realtime: deliver to %s on %q: %v", e.Token.ID(), e.Topic, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// reason is the metric label for the failure.
func (e *DeliveryError) reason() string {
	switch {
	case errors.Is(e.Err, ErrOutboxFull):
		return "outbox_full"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "send_failed"
	}
}
