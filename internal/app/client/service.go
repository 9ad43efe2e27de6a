// Package client implements the client actor: it submits new orders,
// follows their progress and closes the choreography by publishing the
// final received event.
package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/incrisvel/delivery-q/internal/contracts"
	"github.com/incrisvel/delivery-q/internal/domain"
	rabbitmq_infra "github.com/incrisvel/delivery-q/internal/infrastructure/rabbitmq"
	"github.com/incrisvel/delivery-q/internal/store"
	"github.com/incrisvel/delivery-q/internal/util"
)

// ErrDuplicateOrder reports a local id collision on CreateOrder. Nothing is
// published; the caller logs and moves on.
var ErrDuplicateOrder = errors.New("duplicate order id")

type ClientService interface {
	CreateOrder(ctx context.Context) (*domain.Order, error)
	SubmitOrder(ctx context.Context, o *domain.Order) error
	HandleOrderConfirmed(ctx context.Context, o *domain.Order) error
	HandleDeliveryStatus(ctx context.Context, o *domain.Order) error
}

type clientService struct {
	store     *store.OrderStore
	publisher rabbitmq_infra.Publisher
	logger    *zap.Logger

	delayMin time.Duration
	delayMax time.Duration
}

func NewClientService(
	orderStore *store.OrderStore,
	publisher rabbitmq_infra.Publisher,
	delayMin, delayMax time.Duration,
	logger *zap.Logger,
) ClientService {
	return &clientService{
		store:     orderStore,
		publisher: publisher,
		logger:    logger,
		delayMin:  delayMin,
		delayMax:  delayMax,
	}
}

// CreateOrder generates and submits a random order.
func (s *clientService) CreateOrder(ctx context.Context) (*domain.Order, error) {
	o := domain.NewRandomOrder()
	if err := s.SubmitOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// SubmitOrder registers and publishes a new order. Ids are random, so a
// collision with a known order is logged and discarded, never retried.
func (s *clientService) SubmitOrder(ctx context.Context, o *domain.Order) error {
	if err := s.store.Insert(o); err != nil {
		s.logger.Warn("Order id collision, discarding",
			zap.String("order_id", o.ID),
			zap.Error(err))
		return ErrDuplicateOrder
	}

	body, err := contracts.Encode(o)
	if err != nil {
		s.logger.Error("Failed to encode order submission", zap.String("order_id", o.ID), zap.Error(err))
		return err
	}
	if err := s.publisher.Publish(ctx, rabbitmq_infra.OrderStatusExchange, rabbitmq_infra.RoutingKeyOrderSubmitted, body, nil); err != nil {
		s.logger.Error("Failed to publish order submission", zap.String("order_id", o.ID), zap.Error(err))
		return err
	}

	if _, err := s.store.Advance(o.ID, domain.StatusSubmitted); err != nil {
		return err
	}
	o.Status = domain.StatusSubmitted

	s.logger.Info("Order submitted",
		zap.String("order_id", o.ID),
		zap.String("product", o.Product),
		zap.Int("quantity", o.Quantity))
	return nil
}

func (s *clientService) HandleOrderConfirmed(ctx context.Context, o *domain.Order) error {
	snapshot, created := s.store.Ensure(o)
	if created {
		s.logger.Info("Order registered from confirmation", zap.String("order_id", snapshot.ID))
	}

	if !snapshot.Status.Before(o.Status) {
		s.logger.Info("Confirmation already superseded, ignoring",
			zap.String("order_id", o.ID),
			zap.String("local_status", snapshot.Status.String()))
		return nil
	}

	util.SleepBetween(s.delayMin, s.delayMax)

	s.advance(o.ID, o.Status)
	return nil
}

// HandleDeliveryStatus follows the transit events. A delivered order is
// collected: local status moves to RECEBIDO and exactly one OrderReceived
// event closes the choreography.
func (s *clientService) HandleDeliveryStatus(ctx context.Context, o *domain.Order) error {
	snapshot, _ := s.store.Ensure(o)

	// Also absorbs this actor's own OrderReceived echo from the entrega.*
	// binding.
	if snapshot.Status.Terminal() {
		s.logger.Info("Order already received, ignoring delivery status",
			zap.String("order_id", o.ID),
			zap.String("incoming_status", o.Status.String()))
		return nil
	}

	if o.Status != domain.StatusDelivered {
		if snapshot.Status.Before(o.Status) {
			s.advance(o.ID, o.Status)
		}
		return nil
	}

	util.SleepBetween(s.delayMin, s.delayMax)

	s.advance(o.ID, domain.StatusDelivered)
	s.advance(o.ID, domain.StatusCompleted)

	received, err := s.store.Snapshot(o.ID)
	if err != nil {
		return err
	}
	body, err := contracts.Encode(&received)
	if err != nil {
		s.logger.Error("Failed to encode received event", zap.String("order_id", o.ID), zap.Error(err))
		return err
	}
	if err := s.publisher.Publish(ctx, rabbitmq_infra.DeliveryExchange, rabbitmq_infra.RoutingKeyOrderReceived, body, nil); err != nil {
		s.logger.Error("Failed to publish received event", zap.String("order_id", o.ID), zap.Error(err))
		return rabbitmq_infra.ErrRequeueMessage
	}

	s.logger.Info("Order received, choreography complete", zap.String("order_id", o.ID))
	return nil
}

func (s *clientService) advance(orderID string, next domain.Status) {
	applied, err := s.store.Advance(orderID, next)
	if err != nil {
		s.logger.Error("Status update for unknown order",
			zap.String("order_id", orderID),
			zap.Error(err))
		return
	}
	if applied {
		s.logger.Info("Order status updated",
			zap.String("order_id", orderID),
			zap.String("status", next.String()))
	}
}
