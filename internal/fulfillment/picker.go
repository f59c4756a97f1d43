package fulfillment

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Picker follows the order state topic and walks every placed order through
// the fulfillment path: it claims new orders at once and marks them collected
// after Delay.
type Picker struct {
	Commands kafkax.Publisher
	Service  string
	Delay    time.Duration
	Log      *zap.Logger
}

func (p *Picker) HandleStateEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		p.Log.Warn("drop undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	var target orders.State
	switch env.EventType {
	case orders.EventOrderPlaced:
		target = orders.StateProgressing
	case orders.EventOrderClaimed:
		target = orders.StateCollected
	default:
		return nil
	}

	ev, err := kafkax.UnwrapPayload[orders.OrderStatePayload](env.Payload)
	if err != nil {
		p.Log.Warn("drop event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if target == orders.StateCollected && p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	cmd := kafkax.NewEnvelope(orders.CommandAdvanceOrder, p.Service, ev.OrderID,
		orders.AdvanceOrderPayload{OrderID: ev.OrderID, TargetState: target})
	cmd.TraceID = env.TraceID
	kafkax.PublishEnvelope(p.Commands, ev.OrderID, cmd)
	p.Log.Debug("picker issued command", zap.Int64("order_id", int64(ev.OrderID)), zap.String("target", string(target)))
	return nil
}
