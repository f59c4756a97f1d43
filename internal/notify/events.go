package notify

import (
	"github.com/ariefcatur/go-shop-orders/internal/hub"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// EventPublisher turns every state change into an event on the order state
// topic. It runs inside hub mutators, so it never waits on the broker: when
// the producer is backed up the event is dropped and counted.
type EventPublisher struct {
	Producer kafkax.TryPublisher
	Service  string
	Log      *zap.Logger
	Dropped  prometheus.Counter // optional
}

func NewDroppedEventsCounter(reg prometheus.Registerer) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shop_events_dropped_total",
		Help: "Order state events not queued because the Kafka producer was full.",
	})
	reg.MustRegister(c)
	return c
}

func (p *EventPublisher) OrderIndexChanged(s hub.Snapshot) {
	c := s.Change
	if c.Order.ID == 0 || c.Removed {
		return
	}
	payload := orders.OrderStatePayload{OrderID: c.Order.ID, From: c.From, To: c.Order.State}
	if c.Order.State == orders.StateOrdered {
		payload.Items = c.Order.Items
	}
	env := kafkax.NewEnvelope(orders.EventForState(c.Order.State), p.Service, c.Order.ID, payload)
	if kafkax.TryPublishEnvelope(p.Producer, c.Order.ID, env) {
		return
	}
	if p.Dropped != nil {
		p.Dropped.Inc()
	}
	if p.Log != nil {
		p.Log.Warn("order event dropped, producer full",
			zap.Int64("order_id", int64(c.Order.ID)),
			zap.String("event_type", env.EventType),
		)
	}
}
