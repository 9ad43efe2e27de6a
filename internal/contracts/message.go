// Package contracts defines the wire format shared by all actors. The JSON
// field names are the message contract and must round-trip unchanged.
package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/incrisvel/delivery-q/internal/domain"
)

// SchemaVersion tags every message published by this codebase. Decode also
// accepts 0 for messages produced before the tag existed (dead-letter
// republishes preserve old bodies verbatim).
const SchemaVersion = 1

// OrderMessage is the flat payload carried on every exchange.
type OrderMessage struct {
	SchemaVersion int           `json:"versao,omitempty"`
	ID            string        `json:"id_pedido"`
	Product       string        `json:"produto"`
	Quantity      int           `json:"quantidade"`
	UnitPrice     float64       `json:"preco_unitario"`
	Status        domain.Status `json:"status"`
}

// DecodeError marks a payload as poison: the consumer rejects it without
// requeue and without touching local state.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode order message: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode order message: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Encode serializes an order snapshot under the current schema version.
func Encode(o *domain.Order) ([]byte, error) {
	msg := OrderMessage{
		SchemaVersion: SchemaVersion,
		ID:            o.ID,
		Product:       o.Product,
		Quantity:      o.Quantity,
		UnitPrice:     o.UnitPrice,
		Status:        o.Status,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode order message: %w", err)
	}
	return body, nil
}

// Decode parses and validates a payload. Any failure is a *DecodeError.
func Decode(body []byte) (*domain.Order, error) {
	var msg OrderMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Cause: err}
	}
	if msg.SchemaVersion > SchemaVersion {
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported schema version %d", msg.SchemaVersion)}
	}
	if msg.ID == "" {
		return nil, &DecodeError{Reason: "missing id_pedido"}
	}
	if msg.Quantity <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("non-positive quantidade %d", msg.Quantity)}
	}
	if msg.UnitPrice < 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("negative preco_unitario %v", msg.UnitPrice)}
	}
	if msg.Status != "" && !msg.Status.Valid() {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown status %q", msg.Status)}
	}

	return &domain.Order{
		ID:        msg.ID,
		Product:   msg.Product,
		Quantity:  msg.Quantity,
		UnitPrice: msg.UnitPrice,
		Status:    msg.Status,
	}, nil
}
