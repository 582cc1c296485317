package realtime

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Envelope is the wire shape shared by clients and subscribers.
type Envelope struct {
	Message json.RawMessage `json:"message"`
}

// DecodeEnvelope extracts the raw "message" value from a client frame.
// A frame without the key fails with ErrMissingMessage.
func DecodeEnvelope(data []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("realtime: decode envelope: %w", err)
	}
	raw, ok := fields["message"]
	if !ok {
		return nil, ErrMissingMessage
	}
	return raw, nil
}

// EncodeEnvelope wraps payload as {"message": payload}. payload must be valid
// JSON and is copied into the frame byte for byte.
func EncodeEnvelope(payload json.RawMessage) ([]byte, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("realtime: encode envelope: payload is not valid JSON")
	}
	frame := make([]byte, 0, len(envelopePrefix)+len(payload)+1)
	frame = append(frame, envelopePrefix...)
	frame = append(frame, payload...)
	return append(frame, '}'), nil
}

const envelopePrefix = `{"message":`

// MarshalEnvelope encodes v as the envelope payload.
func MarshalEnvelope(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal payload: %w", err)
	}
	return EncodeEnvelope(raw)
}
