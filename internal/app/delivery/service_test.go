package delivery_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/incrisvel/delivery-q/internal/app/delivery"
	"github.com/incrisvel/delivery-q/internal/contracts"
	"github.com/incrisvel/delivery-q/internal/domain"
	rabbitmq_infra "github.com/incrisvel/delivery-q/internal/infrastructure/rabbitmq"
	"github.com/incrisvel/delivery-q/internal/store"
)

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
}

func (f *fakePublisher) Publish(_ context.Context, exchange, routingKey string, body []byte, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

func newService(t *testing.T, ackEarly bool) (delivery.DeliveryService, *store.OrderStore, *fakePublisher) {
	orderStore := store.NewOrderStore(0)
	pub := &fakePublisher{}
	svc := delivery.NewDeliveryService(orderStore, pub, ackEarly, 0, 0, 0, 0, zaptest.NewLogger(t))
	return svc, orderStore, pub
}

func confirmed() *domain.Order {
	return &domain.Order{ID: "A1B2C3", Product: "cadeira", Quantity: 2, UnitPrice: 19.99, Status: domain.StatusConfirmed}
}

func TestDeliveryService_HandleOrderConfirmed(t *testing.T) {
	t.Run("should run the full transit simulation", func(t *testing.T) {
		svc, orderStore, pub := newService(t, false)

		var acks int
		err := svc.HandleOrderConfirmed(context.Background(), confirmed(), func() error { acks++; return nil })

		require.NoError(t, err)
		assert.Equal(t, 0, acks, "late-ack policy leaves the ack to the consume loop")

		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusDelivered, status)

		msgs := pub.messages()
		require.Len(t, msgs, 2)
		wantStatuses := []domain.Status{domain.StatusInTransit, domain.StatusDelivered}
		for i, msg := range msgs {
			assert.Equal(t, rabbitmq_infra.DeliveryExchange, msg.Exchange)
			assert.Equal(t, rabbitmq_infra.RoutingKeyDeliveryStatus, msg.RoutingKey)
			decoded, err := contracts.Decode(msg.Body)
			require.NoError(t, err)
			assert.Equal(t, wantStatuses[i], decoded.Status, "subscribers must observe both transitions in order")
		}
	})

	t.Run("should ack before the transit simulation when configured", func(t *testing.T) {
		svc, orderStore, pub := newService(t, true)

		var acks int
		err := svc.HandleOrderConfirmed(context.Background(), confirmed(), func() error { acks++; return nil })

		require.ErrorIs(t, err, rabbitmq_infra.ErrAlreadyAcked)
		assert.Equal(t, 1, acks)
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusDelivered, status)
		assert.Len(t, pub.messages(), 2)
	})

	t.Run("should leave the ack to the consume loop when the early ack fails", func(t *testing.T) {
		svc, orderStore, pub := newService(t, true)

		err := svc.HandleOrderConfirmed(context.Background(), confirmed(), func() error {
			return errors.New("channel closed")
		})

		require.NoError(t, err, "an unsettled message must not be reported as acked")
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusDelivered, status)
		assert.Len(t, pub.messages(), 2, "the transit still runs to completion")
	})

	t.Run("should skip finalized orders entirely", func(t *testing.T) {
		svc, orderStore, pub := newService(t, true)
		finalized := confirmed()
		finalized.Status = domain.StatusFinalized
		require.NoError(t, orderStore.Insert(finalized))

		var acks int
		err := svc.HandleOrderConfirmed(context.Background(), confirmed(), func() error { acks++; return nil })

		require.NoError(t, err, "skip path leaves the ack to the consume loop")
		assert.Equal(t, 0, acks)
		assert.Empty(t, pub.messages())
	})

	t.Run("should absorb a redelivered confirmation after delivery", func(t *testing.T) {
		svc, orderStore, pub := newService(t, false)
		require.NoError(t, svc.HandleOrderConfirmed(context.Background(), confirmed(), func() error { return nil }))
		before := len(pub.messages())

		err := svc.HandleOrderConfirmed(context.Background(), confirmed(), func() error { return nil })

		require.NoError(t, err)
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusDelivered, status)
		assert.Len(t, pub.messages(), before, "replay publishes nothing")
	})
}

func TestDeliveryService_Dispatch(t *testing.T) {
	t.Run("should refuse to dispatch an unconfirmed order", func(t *testing.T) {
		svc, orderStore, pub := newService(t, false)
		created := confirmed()
		created.Status = domain.StatusCreated
		require.NoError(t, orderStore.Insert(created))

		err := svc.Dispatch(context.Background(), "A1B2C3")

		require.NoError(t, err)
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusCreated, status)
		assert.Empty(t, pub.messages(), "no events for a silent rejection")
	})

	t.Run("should fail loudly for an unknown order", func(t *testing.T) {
		svc, _, _ := newService(t, false)

		err := svc.Dispatch(context.Background(), "GHOST1")

		require.ErrorIs(t, err, store.ErrUnknownOrder)
	})
}
