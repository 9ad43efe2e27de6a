package util

import (
	"log"

	"github.com/google/uuid"
)

// OrderIDLength is the length of the short order token carried on the wire.
const OrderIDLength = 6

// NewOrderID returns a short random order token.
func NewOrderID() string {
	return newShortID(OrderIDLength)
}

// NewServiceID returns an instance tag used to distinguish concurrently
// running copies of the same actor in logs.
func NewServiceID() string {
	return newShortID(8)
}

func newShortID(n int) string {
	newUUID, err := uuid.NewRandom()
	if err != nil {
		log.Fatalf("Failed to generate UUID: %v", err)
	}
	return newUUID.String()[:n]
}
