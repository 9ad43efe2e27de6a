package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/incrisvel/delivery-q/internal/app/orders"
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
	failWith  error
	failKey   string // when set, failWith applies to this routing key only
}

func (f *fakePublisher) Publish(_ context.Context, exchange, routingKey string, body []byte, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil && (f.failKey == "" || f.failKey == routingKey) {
		return f.failWith
	}
	f.published = append(f.published, publishedMessage{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

func newService(t *testing.T) (orders.OrderService, *store.OrderStore, *fakePublisher) {
	orderStore := store.NewOrderStore(0)
	pub := &fakePublisher{}
	svc := orders.NewOrderService(orderStore, pub, 0, 0, zaptest.NewLogger(t))
	return svc, orderStore, pub
}

func submission() *domain.Order {
	return &domain.Order{ID: "A1B2C3", Product: "cadeira", Quantity: 2, UnitPrice: 19.99, Status: domain.StatusCreated}
}

func TestOrderService_HandleOrderSubmitted(t *testing.T) {
	t.Run("should confirm the order and notify both audiences once", func(t *testing.T) {
		svc, orderStore, pub := newService(t)

		err := svc.HandleOrderSubmitted(context.Background(), submission())

		require.NoError(t, err)
		status, ok := orderStore.Status("A1B2C3")
		require.True(t, ok)
		assert.Equal(t, domain.StatusConfirmed, status)

		msgs := pub.messages()
		require.Len(t, msgs, 2)
		keys := []string{msgs[0].RoutingKey, msgs[1].RoutingKey}
		assert.ElementsMatch(t, []string{
			rabbitmq_infra.RoutingKeyConfirmedCourier,
			rabbitmq_infra.RoutingKeyConfirmedClient,
		}, keys)
		for _, msg := range msgs {
			assert.Equal(t, rabbitmq_infra.OrderConfirmedExchange, msg.Exchange)
			decoded, err := contracts.Decode(msg.Body)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusConfirmed, decoded.Status)
			assert.Equal(t, "A1B2C3", decoded.ID)
		}
	})

	t.Run("should resend the confirmation on a redelivered submission", func(t *testing.T) {
		svc, orderStore, pub := newService(t)
		require.NoError(t, svc.HandleOrderSubmitted(context.Background(), submission()))

		err := svc.HandleOrderSubmitted(context.Background(), submission())

		require.NoError(t, err)
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusConfirmed, status)
		// A redelivery may mean one audience missed the fan-out; both get the
		// confirmation again and absorb the duplicate on their side.
		assert.Len(t, pub.messages(), 4)
	})

	t.Run("should absorb a redelivered submission once the order moved past confirmation", func(t *testing.T) {
		svc, orderStore, pub := newService(t)
		require.NoError(t, svc.HandleOrderSubmitted(context.Background(), submission()))
		inTransit := submission()
		inTransit.Status = domain.StatusInTransit
		require.NoError(t, svc.HandleDeliveryStatus(context.Background(), inTransit))
		before := len(pub.messages())

		err := svc.HandleOrderSubmitted(context.Background(), submission())

		require.NoError(t, err)
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusInTransit, status)
		assert.Len(t, pub.messages(), before, "no confirmations once dispatch is underway")
	})

	t.Run("should deliver the missing confirmation after a partial fan-out failure", func(t *testing.T) {
		svc, _, pub := newService(t)
		pub.failWith = errors.New("broker unavailable")
		pub.failKey = rabbitmq_infra.RoutingKeyConfirmedClient

		err := svc.HandleOrderSubmitted(context.Background(), submission())
		require.ErrorIs(t, err, rabbitmq_infra.ErrRequeueMessage)

		pub.failWith = nil
		err = svc.HandleOrderSubmitted(context.Background(), submission())

		require.NoError(t, err)
		clientConfirms := 0
		for _, msg := range pub.messages() {
			if msg.RoutingKey == rabbitmq_infra.RoutingKeyConfirmedClient {
				clientConfirms++
			}
		}
		assert.Equal(t, 1, clientConfirms, "the client audience must still get its confirmation")
	})

	t.Run("should not re-confirm an order already past confirmation", func(t *testing.T) {
		svc, orderStore, pub := newService(t)
		delivered := submission()
		delivered.Status = domain.StatusDelivered
		require.NoError(t, orderStore.Insert(delivered))

		err := svc.HandleOrderSubmitted(context.Background(), submission())

		require.NoError(t, err)
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusDelivered, status)
		assert.Empty(t, pub.messages())
	})

	t.Run("should requeue the submission when a confirmation publish fails", func(t *testing.T) {
		svc, _, pub := newService(t)
		pub.failWith = errors.New("broker unavailable")

		err := svc.HandleOrderSubmitted(context.Background(), submission())

		require.ErrorIs(t, err, rabbitmq_infra.ErrRequeueMessage)
	})
}

func TestOrderService_HandleDeliveryStatus(t *testing.T) {
	t.Run("should adopt forward delivery statuses", func(t *testing.T) {
		svc, orderStore, _ := newService(t)
		require.NoError(t, svc.HandleOrderSubmitted(context.Background(), submission()))

		inTransit := submission()
		inTransit.Status = domain.StatusInTransit
		require.NoError(t, svc.HandleDeliveryStatus(context.Background(), inTransit))

		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusInTransit, status)
	})

	t.Run("should ignore stale or duplicate statuses", func(t *testing.T) {
		svc, orderStore, _ := newService(t)
		require.NoError(t, svc.HandleOrderSubmitted(context.Background(), submission()))
		delivered := submission()
		delivered.Status = domain.StatusDelivered
		require.NoError(t, svc.HandleDeliveryStatus(context.Background(), delivered))

		stale := submission()
		stale.Status = domain.StatusInTransit
		require.NoError(t, svc.HandleDeliveryStatus(context.Background(), stale))
		require.NoError(t, svc.HandleDeliveryStatus(context.Background(), delivered))

		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusDelivered, status)
	})

	t.Run("should take no action on the final received event when terminal", func(t *testing.T) {
		svc, orderStore, pub := newService(t)
		received := submission()
		received.Status = domain.StatusCompleted
		require.NoError(t, svc.HandleDeliveryStatus(context.Background(), received))
		before := len(pub.messages())

		err := svc.HandleDeliveryStatus(context.Background(), received)

		require.NoError(t, err)
		status, _ := orderStore.Status("A1B2C3")
		assert.Equal(t, domain.StatusCompleted, status)
		assert.Len(t, pub.messages(), before)
	})

	t.Run("should register unseen orders from the delivery stream", func(t *testing.T) {
		svc, orderStore, _ := newService(t)

		inTransit := submission()
		inTransit.Status = domain.StatusInTransit
		require.NoError(t, svc.HandleDeliveryStatus(context.Background(), inTransit))

		status, ok := orderStore.Status("A1B2C3")
		require.True(t, ok)
		assert.Equal(t, domain.StatusInTransit, status)
	})
}
