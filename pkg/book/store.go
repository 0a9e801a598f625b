package book

import (
	"errors"
	"fmt"
	"iter"
)

// ErrNotFound is returned by Get for unknown order IDs.
var ErrNotFound = errors.New("order not found")

// Store holds every order ever placed, keyed by a monotonically
// increasing ID, and tracks which of them are still live. Enumeration
// of the active set follows insertion order only; price-time priority
// for matching is computed by the engine, not by the store.
type Store struct {
	orders map[uint64]*Order
	active []uint64 // live order IDs in insertion order
	nextID uint64
}

func NewStore() *Store {
	return &Store{
		orders: make(map[uint64]*Order),
		nextID: 1,
	}
}

// Append assigns the next sequential ID to the order and records it.
// Orders that arrive already terminal (fully matched on placement)
// never enter the active set.
func (s *Store) Append(o *Order) uint64 {
	o.ID = s.nextID
	s.nextID++
	s.orders[o.ID] = o
	if !o.Terminal() {
		s.active = append(s.active, o.ID)
	}
	return o.ID
}

// Put inserts a fully-formed record preserving its ID. Used by the
// migration path; the caller is responsible for having validated the
// record on its original ledger.
func (s *Store) Put(o *Order) error {
	if o.ID == 0 {
		return fmt.Errorf("order id must be set")
	}
	if _, dup := s.orders[o.ID]; dup {
		return fmt.Errorf("order %d already exists", o.ID)
	}
	s.orders[o.ID] = o
	if !o.Terminal() {
		s.active = append(s.active, o.ID)
	}
	if o.ID >= s.nextID {
		s.nextID = o.ID + 1
	}
	return nil
}

// Get returns the order record, historical or live.
func (s *Store) Get(id uint64) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o, nil
}

// Active returns a lazy, restartable sequence over live orders in
// insertion order. Two enumerations without an intervening mutation
// yield identical sequences. The caller must not mutate the store
// while ranging; collect first if removal is needed.
func (s *Store) Active() iter.Seq[*Order] {
	return func(yield func(*Order) bool) {
		for _, id := range s.active {
			o, ok := s.orders[id]
			if !ok {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// Remove drops an order from the active enumeration. The historical
// record stays retrievable via Get.
func (s *Store) Remove(id uint64) {
	for i, v := range s.active {
		if v == id {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return
		}
	}
}

// Len is the number of records ever stored, live or terminal.
func (s *Store) Len() int { return len(s.orders) }

// ActiveLen is the number of live orders.
func (s *Store) ActiveLen() int { return len(s.active) }

// NextID is the ID the next Append will assign.
func (s *Store) NextID() uint64 { return s.nextID }
