package rabbitmq_infra

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler verdicts. A nil return acknowledges the message; the sentinels
// below pick the other broker outcomes.
var (
	// ErrDropMessage rejects without requeue (poison payloads). On a queue
	// with a dead-letter exchange the broker reroutes the message there.
	ErrDropMessage = errors.New("drop message without requeue")

	// ErrRequeueMessage returns the message to its queue for a later attempt.
	ErrRequeueMessage = errors.New("requeue message")

	// ErrAlreadyAcked tells the dispatch loop the handler acknowledged the
	// message itself (early-ack before a long simulation).
	ErrAlreadyAcked = errors.New("message already acknowledged")
)

// MessageHandler processes one delivery to completion.
type MessageHandler func(ctx context.Context, msg amqp.Delivery) error

// Consumer runs an actor's inbound side: every subscribed queue funnels into
// one bounded channel drained by a single dispatch goroutine, so no two
// messages are processed concurrently within one actor and the per-actor
// order table needs no coordination beyond its own lock.
type Consumer interface {
	Subscribe(queue string, handler MessageHandler)
	Start(ctx context.Context) error
	Stop()
}

type subscription struct {
	queue   string
	handler MessageHandler
}

type inboundMessage struct {
	queue    string
	delivery amqp.Delivery
	handler  MessageHandler
}

type rabbitConsumer struct {
	channel *amqp.Channel
	logger  *zap.Logger
	subs    []subscription
	buffer  int
	cancel  context.CancelFunc
	started chan struct{}
}

// NewConsumer opens a channel on the dedicated consume connection with
// prefetch 1, matching the one-message-at-a-time processing model.
func NewConsumer(conn *amqp.Connection, buffer int, logger *zap.Logger) (Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	if buffer < 1 {
		buffer = 1
	}
	return &rabbitConsumer{
		channel: ch,
		logger:  logger,
		buffer:  buffer,
		started: make(chan struct{}),
	}, nil
}

// Subscribe registers a queue handler. Must be called before Start.
func (c *rabbitConsumer) Subscribe(queue string, handler MessageHandler) {
	c.subs = append(c.subs, subscription{queue: queue, handler: handler})
}

// Start blocks until the context is cancelled. The in-flight callback always
// runs to completion before the loop stops.
func (c *rabbitConsumer) Start(ctx context.Context) error {
	consumerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	inbox := make(chan inboundMessage, c.buffer)

	for _, sub := range c.subs {
		deliveries, err := c.channel.Consume(sub.queue, "", false, false, false, false, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("consume from %s: %w", sub.queue, err)
		}
		go func(sub subscription, deliveries <-chan amqp.Delivery) {
			for d := range deliveries {
				select {
				case inbox <- inboundMessage{queue: sub.queue, delivery: d, handler: sub.handler}:
				case <-consumerCtx.Done():
					return
				}
			}
		}(sub, deliveries)
	}

	c.logger.Info("Consumer starting", zap.Int("queues", len(c.subs)))
	close(c.started)

	for {
		select {
		case <-consumerCtx.Done():
			c.logger.Info("Consumer context cancelled, closing channel.")
			return c.channel.Close()
		case msg := <-inbox:
			c.dispatch(consumerCtx, msg)
		}
	}
}

func (c *rabbitConsumer) dispatch(ctx context.Context, msg inboundMessage) {
	c.logger.Debug("Received message",
		zap.String("queue", msg.queue),
		zap.String("routing_key", msg.delivery.RoutingKey),
		zap.Bool("redelivered", msg.delivery.Redelivered))

	err := msg.handler(ctx, msg.delivery)

	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.delivery.Ack(false)
	case errors.Is(err, ErrAlreadyAcked):
		// handler took over the acknowledgement
	case errors.Is(err, ErrRequeueMessage):
		c.logger.Warn("Requeueing message",
			zap.String("queue", msg.queue),
			zap.Error(err))
		ackErr = msg.delivery.Nack(false, true)
	default:
		// ErrDropMessage and any unclassified handler failure: reject without
		// requeue so a configured DLX can pick the message up.
		c.logger.Error("Rejecting message without requeue",
			zap.String("queue", msg.queue),
			zap.Error(err))
		ackErr = msg.delivery.Nack(false, false)
	}
	if ackErr != nil {
		c.logger.Error("Failed to settle message",
			zap.String("queue", msg.queue),
			zap.Uint64("delivery_tag", msg.delivery.DeliveryTag),
			zap.Error(ackErr))
	}
}

func (c *rabbitConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Consumer stop signal sent.")
}
