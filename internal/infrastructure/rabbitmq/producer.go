package rabbitmq_infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher is the outbound side of an actor. It is shared between the
// consume-loop services and the interactive submit loop, so publishes are
// serialized internally.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
	Close() error
}

type rabbitPublisher struct {
	mu      sync.Mutex
	channel *amqp.Channel
	logger  *zap.Logger
}

// NewPublisher opens a channel on the dedicated publish connection.
func NewPublisher(conn *amqp.Connection, logger *zap.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return &rabbitPublisher{channel: ch, logger: logger}, nil
}

func (p *rabbitPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		p.logger.Error("Failed to publish message",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Error(err))
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	p.logger.Debug("Message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey))
	return nil
}

func (p *rabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.logger.Error("Failed to close publish channel", zap.Error(err))
		return fmt.Errorf("close publish channel: %w", err)
	}
	p.logger.Info("Publisher closed.")
	return nil
}
