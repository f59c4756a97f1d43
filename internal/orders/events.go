package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderClaimed   = "OrderClaimed"
	EventOrderCollected = "OrderCollected"
	EventOrderCancelled = "OrderCancelled"

	CommandAdvanceOrder = "AdvanceOrder"
	CommandCancelOrder  = "CancelOrder"
)

// EventForState names the event emitted when an order enters s.
func EventForState(s State) string {
	switch s {
	case StateOrdered:
		return EventOrderPlaced
	case StateProgressing:
		return EventOrderClaimed
	case StateCollected:
		return EventOrderCollected
	case StateCancelled:
		return EventOrderCancelled
	}
	return ""
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderStatePayload struct {
	OrderID OrderID    `json:"order_id"`
	From    State      `json:"from,omitempty"`
	To      State      `json:"to"`
	Items   []LineItem `json:"items,omitempty"`
}

type AdvanceOrderPayload struct {
	OrderID     OrderID `json:"order_id"`
	TargetState State   `json:"target_state"`
}

type CancelOrderPayload struct {
	OrderID OrderID `json:"order_id"`
	Reason  string  `json:"reason,omitempty"`
}
