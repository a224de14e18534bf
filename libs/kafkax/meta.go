// Package kafkax carries the conventions shared by every producer and
// consumer: event_id/event_type headers, trace-context propagation and
// broker-list parsing.
package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// EventMeta identifies one event on the wire. EventID drives consumer-side
// inbox dedup; EventType names the contract version.
type EventMeta struct {
	EventID   string
	EventType string
}

// ExtractEventMeta reads the metadata headers, falling back to the message
// key and topic for events produced before the headers existed.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, "event_id"),
		EventType: HeaderValue(msg.Headers, "event_type"),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma-separated broker list from the environment.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
