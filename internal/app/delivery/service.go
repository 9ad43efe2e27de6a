// Package delivery implements the delivery actor: it picks up confirmed
// orders, simulates transit and emits the dispatch and delivered events.
package delivery

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

// AckFunc acknowledges the inbound confirmation message. The handler wires
// it to the broker delivery so the service controls ack timing.
type AckFunc func() error

type DeliveryService interface {
	HandleOrderConfirmed(ctx context.Context, o *domain.Order, ack AckFunc) error
	Dispatch(ctx context.Context, orderID string) error
}

type deliveryService struct {
	store     *store.OrderStore
	publisher rabbitmq_infra.Publisher
	logger    *zap.Logger

	// ackBeforeDispatch releases the inbound message before the transit
	// simulation. The broker frees the message early, at the price of losing
	// the redelivery if this actor crashes mid-transit.
	ackBeforeDispatch bool

	confirmDelayMin time.Duration
	confirmDelayMax time.Duration
	transitDelayMin time.Duration
	transitDelayMax time.Duration
}

func NewDeliveryService(
	orderStore *store.OrderStore,
	publisher rabbitmq_infra.Publisher,
	ackBeforeDispatch bool,
	confirmDelayMin, confirmDelayMax time.Duration,
	transitDelayMin, transitDelayMax time.Duration,
	logger *zap.Logger,
) DeliveryService {
	return &deliveryService{
		store:             orderStore,
		publisher:         publisher,
		logger:            logger,
		ackBeforeDispatch: ackBeforeDispatch,
		confirmDelayMin:   confirmDelayMin,
		confirmDelayMax:   confirmDelayMax,
		transitDelayMin:   transitDelayMin,
		transitDelayMax:   transitDelayMax,
	}
}

func (s *deliveryService) HandleOrderConfirmed(ctx context.Context, o *domain.Order, ack AckFunc) error {
	snapshot, created := s.store.Ensure(o)
	if created {
		s.logger.Info("Order registered",
			zap.String("order_id", snapshot.ID),
			zap.String("status", snapshot.Status.String()))
	}

	if snapshot.Status.Terminal() {
		s.logger.Info("Order already finalized, ignoring confirmation",
			zap.String("order_id", snapshot.ID),
			zap.String("status", snapshot.Status.String()))
		return nil
	}

	util.SleepBetween(s.confirmDelayMin, s.confirmDelayMax)

	if applied, err := s.store.Advance(o.ID, o.Status); err != nil {
		s.logger.Error("Status update for unknown order", zap.String("order_id", o.ID), zap.Error(err))
		return err
	} else if applied {
		s.logger.Info("Order status updated",
			zap.String("order_id", o.ID),
			zap.String("status", o.Status.String()))
	}

	if s.ackBeforeDispatch {
		if err := ack(); err != nil {
			// The message is still unsettled; fall through to the late-ack
			// path so the consume loop settles it after dispatch.
			s.logger.Error("Failed to acknowledge confirmation early, holding until dispatch completes",
				zap.String("order_id", o.ID), zap.Error(err))
		} else {
			// The message is settled; a dispatch failure can only be logged.
			if err := s.Dispatch(ctx, o.ID); err != nil {
				s.logger.Error("Dispatch failed after early ack", zap.String("order_id", o.ID), zap.Error(err))
			}
			return rabbitmq_infra.ErrAlreadyAcked
		}
	}

	return s.Dispatch(ctx, o.ID)
}

// Dispatch runs the transit simulation. It only proceeds from exactly
// CONFIRMED; anything else is a silent no-op with no events published.
func (s *deliveryService) Dispatch(ctx context.Context, orderID string) error {
	snapshot, err := s.store.Snapshot(orderID)
	if err != nil {
		s.logger.Error("Dispatch for unknown order", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if snapshot.Status != domain.StatusConfirmed {
		s.logger.Info("Order not confirmed, skipping dispatch",
			zap.String("order_id", orderID),
			zap.String("status", snapshot.Status.String()))
		return nil
	}

	if err := s.advanceAndPublish(ctx, orderID, domain.StatusInTransit); err != nil {
		return err
	}

	// Transit is intentionally slower than confirmation processing.
	util.SleepBetween(s.transitDelayMin, s.transitDelayMax)

	return s.advanceAndPublish(ctx, orderID, domain.StatusDelivered)
}

func (s *deliveryService) advanceAndPublish(ctx context.Context, orderID string, next domain.Status) error {
	if _, err := s.store.Advance(orderID, next); err != nil {
		return err
	}
	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", next.String()))

	snapshot, err := s.store.Snapshot(orderID)
	if err != nil {
		return err
	}
	body, err := contracts.Encode(&snapshot)
	if err != nil {
		s.logger.Error("Failed to encode delivery event", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if err := s.publisher.Publish(ctx, rabbitmq_infra.DeliveryExchange, rabbitmq_infra.RoutingKeyDeliveryStatus, body, nil); err != nil {
		s.logger.Error("Failed to publish delivery event",
			zap.String("order_id", orderID),
			zap.String("status", next.String()),
			zap.Error(err))
		return err
	}
	return nil
}
