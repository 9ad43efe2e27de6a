// Package rabbitmq wires broker deliveries to the actor services: decode the
// payload, map poison payloads to the drop verdict, delegate everything else.
package rabbitmq

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/incrisvel/delivery-q/internal/app/client"
	"github.com/incrisvel/delivery-q/internal/app/delivery"
	"github.com/incrisvel/delivery-q/internal/app/orders"
	"github.com/incrisvel/delivery-q/internal/contracts"
	"github.com/incrisvel/delivery-q/internal/domain"
	rabbitmq_infra "github.com/incrisvel/delivery-q/internal/infrastructure/rabbitmq"
)

// decodeOrDrop parses a payload, turning decode failures into the
// reject-without-requeue verdict. The local order table is never touched on
// that path.
func decodeOrDrop(msg amqp.Delivery, logger *zap.Logger) (*domain.Order, error) {
	o, err := contracts.Decode(msg.Body)
	if err != nil {
		var decodeErr *contracts.DecodeError
		if errors.As(err, &decodeErr) {
			logger.Error("Poison message, rejecting without requeue",
				zap.String("routing_key", msg.RoutingKey),
				zap.ByteString("body", msg.Body),
				zap.Error(err))
			return nil, rabbitmq_infra.ErrDropMessage
		}
		return nil, err
	}
	return o, nil
}

// OrderSubmittedMessageHandler feeds the ordering actor's confirmation flow.
func OrderSubmittedMessageHandler(svc orders.OrderService, logger *zap.Logger) rabbitmq_infra.MessageHandler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		o, err := decodeOrDrop(msg, logger)
		if err != nil {
			return err
		}
		logger.Info("Order submission received", zap.String("order_id", o.ID))
		return svc.HandleOrderSubmitted(ctx, o)
	}
}

// OrderDeliveryStatusMessageHandler feeds delivery events to the ordering
// actor.
func OrderDeliveryStatusMessageHandler(svc orders.OrderService, logger *zap.Logger) rabbitmq_infra.MessageHandler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		o, err := decodeOrDrop(msg, logger)
		if err != nil {
			return err
		}
		return svc.HandleDeliveryStatus(ctx, o)
	}
}

// OrderConfirmedMessageHandler feeds confirmations to the delivery actor.
// The raw delivery's Ack is handed to the service so it can settle the
// message before the transit simulation when configured to.
func OrderConfirmedMessageHandler(svc delivery.DeliveryService, logger *zap.Logger) rabbitmq_infra.MessageHandler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		o, err := decodeOrDrop(msg, logger)
		if err != nil {
			return err
		}
		logger.Info("Order confirmation received", zap.String("order_id", o.ID))
		return svc.HandleOrderConfirmed(ctx, o, func() error {
			return msg.Ack(false)
		})
	}
}

// ClientOrderConfirmedMessageHandler feeds confirmations to the client actor.
func ClientOrderConfirmedMessageHandler(svc client.ClientService, logger *zap.Logger) rabbitmq_infra.MessageHandler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		o, err := decodeOrDrop(msg, logger)
		if err != nil {
			return err
		}
		return svc.HandleOrderConfirmed(ctx, o)
	}
}

// ClientDeliveryStatusMessageHandler feeds delivery events to the client
// actor.
func ClientDeliveryStatusMessageHandler(svc client.ClientService, logger *zap.Logger) rabbitmq_infra.MessageHandler {
	return func(ctx context.Context, msg amqp.Delivery) error {
		o, err := decodeOrDrop(msg, logger)
		if err != nil {
			return err
		}
		return svc.HandleDeliveryStatus(ctx, o)
	}
}

// DeadLetterMessageHandler resubmits dead-lettered messages. No decoding:
// recovery is transport-level and must preserve the body verbatim.
func DeadLetterMessageHandler(h *rabbitmq_infra.DeadLetterHandler) rabbitmq_infra.MessageHandler {
	return h.Handle
}
