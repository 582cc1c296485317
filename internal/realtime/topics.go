package realtime

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TrafficTopic is the single city-wide traffic incident channel.
const TrafficTopic = "traffic_updates"

const (
	transportPrefix = "transport_"
	maxTopicLen     = 256
)

// TransportTopic names the per-route vehicle broadcast channel.
func TransportTopic(routeID string) string {
	return transportPrefix + routeID
}

// ValidateTopic rejects empty, oversized, non UTF-8 names and names
// containing whitespace or control characters.
func ValidateTopic(topic string) error {
	if topic == "" || len(topic) > maxTopicLen || !utf8.ValidString(topic) {
		return ErrInvalidTopic
	}
	for _, r := range topic {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidTopic
		}
	}
	return nil
}

// topicKind buckets topics for metric labels so cardinality stays bounded.
func topicKind(topic string) string {
	switch {
	case topic == TrafficTopic:
		return "traffic"
	case strings.HasPrefix(topic, transportPrefix):
		return "transport"
	default:
		return "other"
	}
}
