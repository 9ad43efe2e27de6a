package rabbitmq_infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dial opens a single AMQP connection. Each actor dials twice: one
// connection dedicated to consuming, one to publishing, so a slow consumer
// callback never blocks outbound publishes.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial RabbitMQ: %w", err)
	}
	return conn, nil
}
