package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Publisher is satisfied by *Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}

// TryPublisher never blocks the caller. It is satisfied by *Producer.
type TryPublisher interface {
	TryPublish(key, value []byte, headers ...kafka.Header) bool
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// NewEnvelope wraps payload in a version 1 envelope correlated to the order.
func NewEnvelope(eventType, producer string, orderID orders.OrderID, payload any) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: strconv.FormatInt(int64(orderID), 10),
		Payload:       MustMarshal(payload),
	}
}

// PublishEnvelope sends env keyed by order so one order's events stay ordered.
func PublishEnvelope(p Publisher, orderID orders.OrderID, env orders.Envelope) {
	p.Publish(orders.PartitionKey(orderID), MustMarshal(env), envelopeHeaders(env)...)
}

// TryPublishEnvelope is PublishEnvelope for callers that must not wait on the
// broker. It reports false when the message was dropped.
func TryPublishEnvelope(p TryPublisher, orderID orders.OrderID, env orders.Envelope) bool {
	return p.TryPublish(orders.PartitionKey(orderID), MustMarshal(env), envelopeHeaders(env)...)
}

func envelopeHeaders(env orders.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
}

func DecodeEnvelope(b []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
