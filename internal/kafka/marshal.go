package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// EnvelopeHeaders are the routing headers carried next to every envelope.
func EnvelopeHeaders(ev orders.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(ev.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	}
}

func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var ev orders.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode envelope: %w", err)
	}
	if ev.EventType == "" {
		for _, h := range m.Headers {
			if h.Key == HeaderEventType {
				ev.EventType = string(h.Value)
			}
		}
	}
	return ev, nil
}

// UnwrapPayload decodes the payload of an envelope into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
