// Package fulfillment applies fulfillment commands from Kafka to the order hub
// and runs the automatic picker that produces them.
package fulfillment

import (
	"context"
	"errors"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Advancer is the part of the hub commands drive.
type Advancer interface {
	Advance(ctx context.Context, id orders.OrderID, target orders.State) (orders.Order, error)
	Cancel(ctx context.Context, id orders.OrderID) (orders.Order, error)
}

// Deduper is satisfied by redisx.Deduper.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Service struct {
	Hub   Advancer
	Dedup Deduper
	Log   *zap.Logger
}

// HandleCommand is installed as the handler of the commands consumer. Commands
// the hub rejects are logged and committed; only persistence failures are
// returned so the consumer retries them.
func (s *Service) HandleCommand(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		s.Log.Warn("drop undecodable command", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.CommandAdvanceOrder && env.EventType != orders.CommandCancelOrder {
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			s.Log.Debug("duplicate command", zap.String("event_id", env.EventID))
			return nil
		}
	}

	o, err := s.apply(ctx, env)
	var bad *orders.InvalidTransitionError
	var unknown *orders.UnknownOrderError
	switch {
	case err == nil:
		s.Log.Info("command applied",
			zap.String("command", env.EventType),
			zap.Int64("order_id", int64(o.ID)),
			zap.String("state", string(o.State)),
		)
		return nil
	case errors.As(err, &bad), errors.As(err, &unknown), errors.Is(err, errMalformed):
		s.Log.Warn("command rejected", zap.String("command", env.EventType), zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	default:
		if s.Dedup != nil {
			if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
				s.Log.Error("forget command", zap.String("event_id", env.EventID), zap.Error(ferr))
			}
		}
		return err
	}
}

var errMalformed = errors.New("malformed command")

func (s *Service) apply(ctx context.Context, env orders.Envelope) (orders.Order, error) {
	switch env.EventType {
	case orders.CommandAdvanceOrder:
		p, err := kafkax.UnwrapPayload[orders.AdvanceOrderPayload](env.Payload)
		if err != nil {
			return orders.Order{}, errors.Join(errMalformed, err)
		}
		return s.Hub.Advance(ctx, p.OrderID, p.TargetState)
	default:
		p, err := kafkax.UnwrapPayload[orders.CancelOrderPayload](env.Payload)
		if err != nil {
			return orders.Order{}, errors.Join(errMalformed, err)
		}
		return s.Hub.Cancel(ctx, p.OrderID)
	}
}
