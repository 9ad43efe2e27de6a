// Package orders implements the ordering actor: it confirms submitted
// orders and keeps its own view of each order's progress from the delivery
// event stream.
package orders

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/incrisvel/delivery-q/internal/contracts"
	"github.com/incrisvel/delivery-q/internal/domain"
	rabbitmq_infra "github.com/incrisvel/delivery-q/internal/infrastructure/rabbitmq"
	"github.com/incrisvel/delivery-q/internal/store"
	"github.com/incrisvel/delivery-q/internal/util"
)

type OrderService interface {
	HandleOrderSubmitted(ctx context.Context, o *domain.Order) error
	HandleDeliveryStatus(ctx context.Context, o *domain.Order) error
}

type orderService struct {
	store     *store.OrderStore
	publisher rabbitmq_infra.Publisher
	logger    *zap.Logger

	confirmDelayMin time.Duration
	confirmDelayMax time.Duration
}

func NewOrderService(
	orderStore *store.OrderStore,
	publisher rabbitmq_infra.Publisher,
	confirmDelayMin, confirmDelayMax time.Duration,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		store:           orderStore,
		publisher:       publisher,
		logger:          logger,
		confirmDelayMin: confirmDelayMin,
		confirmDelayMax: confirmDelayMax,
	}
}

// HandleOrderSubmitted confirms a newly submitted order. The inbound message
// is acknowledged by the consume loop only after this returns, so the local
// transitions are always applied before the ack.
func (s *orderService) HandleOrderSubmitted(ctx context.Context, o *domain.Order) error {
	incoming := *o
	incoming.Status = domain.StatusCreated
	snapshot, created := s.store.Ensure(&incoming)
	if created {
		s.logger.Info("Order registered",
			zap.String("order_id", snapshot.ID),
			zap.String("status", snapshot.Status.String()))
	}
	if snapshot.Status.Terminal() || domain.StatusConfirmed.Before(snapshot.Status) {
		s.logger.Info("Duplicate submission, already processed",
			zap.String("order_id", snapshot.ID),
			zap.String("status", snapshot.Status.String()))
		return nil
	}
	if snapshot.Status == domain.StatusConfirmed {
		// Redelivery after a partial fan-out failure: one audience may still
		// be missing its confirmation, so resend to both. Duplicates are
		// absorbed by the receivers' idempotence guards.
		s.logger.Info("Redelivered submission for a confirmed order, resending confirmation",
			zap.String("order_id", snapshot.ID))
		return s.publishConfirmation(ctx, snapshot.ID)
	}

	// Stands in for validation and inventory work.
	util.SleepBetween(s.confirmDelayMin, s.confirmDelayMax)

	s.advance(snapshot.ID, domain.StatusReceived)
	s.advance(snapshot.ID, domain.StatusConfirmed)

	return s.publishConfirmation(ctx, snapshot.ID)
}

// HandleDeliveryStatus adopts forward status moves observed on the delivery
// stream, including the client's closing OrderReceived event.
func (s *orderService) HandleDeliveryStatus(ctx context.Context, o *domain.Order) error {
	snapshot, _ := s.store.Ensure(o)

	if snapshot.Status.Terminal() || !snapshot.Status.Before(o.Status) {
		s.logger.Info("Delivery status already superseded, ignoring",
			zap.String("order_id", o.ID),
			zap.String("local_status", snapshot.Status.String()),
			zap.String("incoming_status", o.Status.String()))
		return nil
	}

	s.advance(o.ID, o.Status)
	return nil
}

// publishConfirmation emits exactly one confirmation per audience: the
// courier and the client each have an exact binding on the topic exchange.
func (s *orderService) publishConfirmation(ctx context.Context, orderID string) error {
	snapshot, err := s.store.Snapshot(orderID)
	if err != nil {
		s.logger.Error("Order vanished before confirmation", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	body, err := contracts.Encode(&snapshot)
	if err != nil {
		s.logger.Error("Failed to encode confirmation", zap.String("order_id", orderID), zap.Error(err))
		return err
	}

	for _, key := range []string{
		rabbitmq_infra.RoutingKeyConfirmedCourier,
		rabbitmq_infra.RoutingKeyConfirmedClient,
	} {
		if err := s.publisher.Publish(ctx, rabbitmq_infra.OrderConfirmedExchange, key, body, nil); err != nil {
			s.logger.Error("Failed to publish confirmation, requeueing submission",
				zap.String("order_id", orderID),
				zap.String("routing_key", key),
				zap.Error(err))
			// The redelivered submission finds the order at CONFIRMED and
			// resends the whole fan-out.
			return rabbitmq_infra.ErrRequeueMessage
		}
	}

	s.logger.Info("Order confirmation published", zap.String("order_id", orderID))
	return nil
}

func (s *orderService) advance(orderID string, next domain.Status) {
	applied, err := s.store.Advance(orderID, next)
	if err != nil {
		s.logger.Error("Status update for unknown order",
			zap.String("order_id", orderID),
			zap.String("status", next.String()),
			zap.Error(err))
		return
	}
	if applied {
		s.logger.Info("Order status updated",
			zap.String("order_id", orderID),
			zap.String("status", next.String()))
	}
}
