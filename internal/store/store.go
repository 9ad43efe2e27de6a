// Package store holds an actor's private view of every order it has seen.
// Each actor owns exactly one store; nothing is shared across processes.
package store

import (
	"errors"
	"sync"

	"github.com/incrisvel/delivery-q/internal/domain"
)

var (
	// ErrOrderExists signals an id collision on insert. The caller logs and
	// discards; ids are random, so a collision is never retried.
	ErrOrderExists = errors.New("order already exists")

	// ErrUnknownOrder signals a lookup for an id no code path has upserted.
	// Every handler upserts before updating, so hitting this is a local bug,
	// not a recoverable condition.
	ErrUnknownOrder = errors.New("unknown order")
)

// OrderStore is a bounded, mutex-guarded order table. The consume loop and
// the interactive submit loop may touch it from different goroutines, so
// every access goes through the lock. Snapshots are returned by value; the
// stored orders never escape.
type OrderStore struct {
	mu             sync.Mutex
	capacity       int
	orders         map[string]*domain.Order
	insertionOrder []string
}

// NewOrderStore builds a store evicting beyond capacity. Capacity 0 means
// unbounded.
func NewOrderStore(capacity int) *OrderStore {
	return &OrderStore{
		capacity: capacity,
		orders:   make(map[string]*domain.Order),
	}
}

// Insert adds a new order, failing on id collision.
func (s *OrderStore) Insert(o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return ErrOrderExists
	}
	s.put(o)
	return nil
}

// Ensure lazily inserts an order on first sight and returns the stored
// snapshot along with whether the insert happened.
func (s *OrderStore) Ensure(o *domain.Order) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[o.ID]; ok {
		return *existing, false
	}
	s.put(o)
	return *s.orders[o.ID], true
}

// Status returns the locally recorded status for an order.
func (s *OrderStore) Status(id string) (domain.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return "", false
	}
	return o.Status, true
}

// Advance applies the shared transition function to the stored order and
// reports whether the status actually moved forward.
func (s *OrderStore) Advance(id string, incoming domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, ErrUnknownOrder
	}
	next, applied := domain.Advance(o.Status, incoming)
	o.Status = next
	return applied, nil
}

// Snapshot returns a copy of the stored order for publishing.
func (s *OrderStore) Snapshot(id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, ErrUnknownOrder
	}
	return *o, nil
}

// Len reports the number of retained orders.
func (s *OrderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// put inserts a copy, evicting when full. Oldest terminal entries go first;
// if nothing is terminal the oldest entry overall goes, keeping the table
// bounded even under a flood of never-finished orders. Callers hold the lock.
func (s *OrderStore) put(o *domain.Order) {
	if s.capacity > 0 && len(s.orders) >= s.capacity {
		s.evict()
	}
	copied := *o
	s.orders[o.ID] = &copied
	s.insertionOrder = append(s.insertionOrder, o.ID)
}

func (s *OrderStore) evict() {
	victim := -1
	for i, id := range s.insertionOrder {
		if o, ok := s.orders[id]; ok && o.Status.Terminal() {
			victim = i
			break
		}
	}
	if victim < 0 {
		victim = 0
	}
	delete(s.orders, s.insertionOrder[victim])
	s.insertionOrder = append(s.insertionOrder[:victim], s.insertionOrder[victim+1:]...)
}
