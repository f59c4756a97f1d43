package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *zap.Logger
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

// Start drains the inbox until Close is called. ctx bounds each write.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := p.w.WriteMessages(wctx, m); err != nil {
				p.log.Error("kafka write failed",
					zap.String("topic", p.w.Topic),
					zap.ByteString("key", m.Key),
					zap.Error(err),
				)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.Error(err))
		}
	}()
}

// Publish waits for room in the inbox.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- message(key, value, headers)
}

// TryPublish queues the message only if the inbox has room and reports
// whether it did.
func (p *Producer) TryPublish(key, value []byte, headers ...kafka.Header) bool {
	select {
	case p.inbox <- message(key, value, headers):
		return true
	default:
		return false
	}
}

func message(key, value []byte, headers []kafka.Header) kafka.Message {
	return kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; queued ones are still flushed.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the flush finished and the writer is closed.
func (p *Producer) WaitClosed() { <-p.closeCh }
