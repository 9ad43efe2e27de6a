package rabbitmq_infra

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and routing key names form the coordination contract between the
// three actors. No actor calls another; they only agree on these strings.
const (
	OrderStatusExchange    = "pedido_status_exchange"     // direct
	OrderConfirmedExchange = "pedido_confirmado_exchange" // topic
	DeliveryExchange       = "entrega_exchange"           // topic
	OrderConfirmedDLX      = "pedido_confirmado_dlx"      // fanout
	DeliveryDLX            = "entrega_dlx"                // fanout

	RoutingKeyOrderSubmitted   = "pedido.status"
	RoutingKeyConfirmedCourier = "pedido.confirmado.entregador"
	RoutingKeyConfirmedClient  = "pedido.confirmado.cliente"
	RoutingKeyDeliveryStatus   = "entrega.status"
	RoutingKeyOrderReceived    = "entrega.notificar"

	// BindingDeliveryAll matches both delivery transitions and the closing
	// OrderReceived handshake on the delivery topic exchange.
	BindingDeliveryAll = "entrega.*"
)

// Queue names. Each retry-enabled queue has a paired dead queue fed by its
// DLX and a parked queue for messages that exhaust the retry budget.
const (
	OrderStatusQueue         = "pedido_status_queue"
	OrderDeliveryStatusQueue = "entrega_status_queue"
	CourierConfirmedQueue    = "pedido_confirmado_entregador_queue"
	ClientConfirmedQueue     = "pedido_confirmado_cliente_queue"
	ClientDeliveryQueue      = "entrega_cliente_queue"
	ConfirmedDeadQueue       = "pedido_confirmado_dead_queue"
	DeliveryDeadQueue        = "entrega_dead_queue"
	ConfirmedParkedQueue     = "pedido_confirmado_parked_queue"
	DeliveryParkedQueue      = "entrega_parked_queue"
)

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{OrderStatusExchange, "direct"},
		{OrderConfirmedExchange, "topic"},
		{DeliveryExchange, "topic"},
		{OrderConfirmedDLX, "fanout"},
		{DeliveryDLX, "fanout"},
	}
	for _, e := range exchanges {
		if err := ch.ExchangeDeclare(e.name, e.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", e.name, err)
		}
	}
	return nil
}

func declareBoundQueue(ch *amqp.Channel, queue, exchange, key string, args amqp.Table) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queue, exchange, err)
	}
	return nil
}

func retryArgs(ttl time.Duration, dlx string) amqp.Table {
	return amqp.Table{
		"x-message-ttl":          ttl.Milliseconds(),
		"x-dead-letter-exchange": dlx,
	}
}

// DeclareOrderActorTopology declares everything the Order actor touches: the
// submission queue and a delivery-status queue observing all entrega.*
// events, including the final OrderReceived.
func DeclareOrderActorTopology(ch *amqp.Channel) error {
	if err := declareExchanges(ch); err != nil {
		return err
	}
	if err := declareBoundQueue(ch, OrderStatusQueue, OrderStatusExchange, RoutingKeyOrderSubmitted, nil); err != nil {
		return err
	}
	return declareBoundQueue(ch, OrderDeliveryStatusQueue, DeliveryExchange, BindingDeliveryAll, nil)
}

// DeclareDeliveryActorTopology declares the courier confirmation queue. The
// binding is exact so the courier audience sees exactly one confirmation per
// order even though the confirmation goes out under two routing keys.
func DeclareDeliveryActorTopology(ch *amqp.Channel) error {
	if err := declareExchanges(ch); err != nil {
		return err
	}
	return declareBoundQueue(ch, CourierConfirmedQueue, OrderConfirmedExchange, RoutingKeyConfirmedCourier, nil)
}

// DeclareClientActorTopology declares the client's two retry-enabled consume
// queues (TTL + DLX), their dead queues and their parked queues.
func DeclareClientActorTopology(ch *amqp.Channel, ttl time.Duration) error {
	if err := declareExchanges(ch); err != nil {
		return err
	}
	if err := declareBoundQueue(ch, ClientConfirmedQueue, OrderConfirmedExchange, RoutingKeyConfirmedClient,
		retryArgs(ttl, OrderConfirmedDLX)); err != nil {
		return err
	}
	if err := declareBoundQueue(ch, ClientDeliveryQueue, DeliveryExchange, BindingDeliveryAll,
		retryArgs(ttl, DeliveryDLX)); err != nil {
		return err
	}
	if err := declareBoundQueue(ch, ConfirmedDeadQueue, OrderConfirmedDLX, "", nil); err != nil {
		return err
	}
	if err := declareBoundQueue(ch, DeliveryDeadQueue, DeliveryDLX, "", nil); err != nil {
		return err
	}
	for _, parked := range []string{ConfirmedParkedQueue, DeliveryParkedQueue} {
		if _, err := ch.QueueDeclare(parked, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", parked, err)
		}
	}
	return nil
}
