package rabbitmq_infra

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeathProvenance is the broker-attached record of where a dead-lettered
// message originally lived.
type DeathProvenance struct {
	Exchange   string
	RoutingKey string
	Count      int64
}

// DeadLetterHandler recovers messages the broker routed to a dead queue
// after TTL expiry or rejection. It republishes the untouched payload and
// headers to the original exchange under the original routing key,
// implementing retry-by-resubmission. It never looks at the order inside.
//
// One handler instance serves one dead queue.
type DeadLetterHandler struct {
	publisher        Publisher
	fallbackExchange string
	fallbackKey      string
	maxRetries       int64
	parkedQueue      string
	logger           *zap.Logger
}

// NewDeadLetterHandler builds a recovery handler. The fallback destination
// is used when death provenance is absent or malformed. maxRetries 0 retries
// forever; otherwise a message whose death count reaches the limit is parked
// on parkedQueue instead of resubmitted.
func NewDeadLetterHandler(publisher Publisher, fallbackExchange, fallbackKey string, maxRetries int64, parkedQueue string, logger *zap.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		publisher:        publisher,
		fallbackExchange: fallbackExchange,
		fallbackKey:      fallbackKey,
		maxRetries:       maxRetries,
		parkedQueue:      parkedQueue,
		logger:           logger,
	}
}

// Handle resubmits one dead-lettered message. The ack happens only after a
// successful republish; a publish failure requeues the message so the dead
// queue retains it for a later attempt.
func (h *DeadLetterHandler) Handle(ctx context.Context, msg amqp.Delivery) error {
	prov, ok := readDeathProvenance(msg.Headers)
	if !ok {
		h.logger.Warn("Dead-lettered message without usable provenance, using fallback route",
			zap.String("fallback_exchange", h.fallbackExchange),
			zap.String("fallback_routing_key", h.fallbackKey))
		prov = DeathProvenance{Exchange: h.fallbackExchange, RoutingKey: h.fallbackKey}
	}

	if h.maxRetries > 0 && prov.Count >= h.maxRetries {
		h.logger.Warn("Retry budget exhausted, parking message",
			zap.String("parked_queue", h.parkedQueue),
			zap.Int64("death_count", prov.Count))
		if err := h.publisher.Publish(ctx, "", h.parkedQueue, msg.Body, msg.Headers); err != nil {
			return ErrRequeueMessage
		}
		return nil
	}

	h.logger.Info("Resubmitting dead-lettered message",
		zap.String("exchange", prov.Exchange),
		zap.String("routing_key", prov.RoutingKey),
		zap.Int64("death_count", prov.Count))

	// Headers travel verbatim so x-death keeps accumulating across retry
	// cycles.
	if err := h.publisher.Publish(ctx, prov.Exchange, prov.RoutingKey, msg.Body, msg.Headers); err != nil {
		return ErrRequeueMessage
	}
	return nil
}

// readDeathProvenance extracts the most recent x-death entry. The header is
// an array of tables; the broker prepends the latest death. Malformed or
// missing pieces report !ok, they never fail.
func readDeathProvenance(headers amqp.Table) (DeathProvenance, bool) {
	raw, ok := headers["x-death"]
	if !ok {
		return DeathProvenance{}, false
	}
	deaths, ok := raw.([]interface{})
	if !ok || len(deaths) == 0 {
		return DeathProvenance{}, false
	}
	entry, ok := deaths[0].(amqp.Table)
	if !ok {
		return DeathProvenance{}, false
	}

	exchange, ok := entry["exchange"].(string)
	if !ok || exchange == "" {
		return DeathProvenance{}, false
	}

	keys, ok := entry["routing-keys"].([]interface{})
	if !ok || len(keys) == 0 {
		return DeathProvenance{}, false
	}
	routingKey, ok := keys[0].(string)
	if !ok || routingKey == "" {
		return DeathProvenance{}, false
	}

	// The count arrives as an AMQP long, but tolerate narrower encodings.
	var count int64
	switch v := entry["count"].(type) {
	case int64:
		count = v
	case int32:
		count = int64(v)
	case int16:
		count = int64(v)
	case int:
		count = int64(v)
	}

	return DeathProvenance{Exchange: exchange, RoutingKey: routingKey, Count: count}, true
}
