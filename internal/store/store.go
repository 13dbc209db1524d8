// Package store keeps received messages in arrival order, bounded by a
// capacity with oldest-first eviction.
package store

import (
	"errors"
	"fmt"
	"sync"

	"mqttview/internal/message"
)

// DefaultCapacity is the capacity used when none is configured.
const DefaultCapacity = 10000

var (
	// ErrOutOfRange is returned by Get for an index outside [0, Count()).
	ErrOutOfRange = errors.New("index out of range")
	// ErrInvalidCapacity is returned by SetCapacity for negative values.
	ErrInvalidCapacity = errors.New("invalid capacity")
)

// ChangeKind identifies what happened to a range of rows.
type ChangeKind int

const (
	// ChangeInserted means rows First..Last were appended.
	ChangeInserted ChangeKind = iota + 1
	// ChangeRemoved means rows First..Last were evicted from the front.
	ChangeRemoved
	// ChangeCleared means rows First..Last were dropped by Clear.
	ChangeCleared
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInserted:
		return "inserted"
	case ChangeRemoved:
		return "removed"
	case ChangeCleared:
		return "cleared"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes an inclusive range of row indices affected by a mutation.
// Indices refer to the store as it was just before a removal, or just after
// an insertion.
type Change struct {
	Kind  ChangeKind
	First int
	Last  int
}

// Len is the number of rows covered by the change.
func (c Change) Len() int { return c.Last - c.First + 1 }

// Store is an insertion-ordered message buffer. A capacity of 0 disables
// eviction. All methods are safe for concurrent use; observers are called
// without the lock held, in mutation order.
type Store struct {
	mu        sync.RWMutex
	notifyMu  sync.Mutex
	messages  []*message.Message
	capacity  int
	observers []func(Change)
}

// New creates a store. Negative capacities are treated as 0.
func New(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{capacity: capacity}
}

// OnChange registers fn to be called after every mutation. fn may read the
// store but must not mutate it.
func (s *Store) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Append adds msg at the end, first evicting just enough of the oldest
// messages that the length after insertion equals the capacity.
func (s *Store) Append(msg *message.Message) {
	if msg == nil {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	var changes []Change
	if s.capacity > 0 && len(s.messages) >= s.capacity {
		n := len(s.messages) - s.capacity + 1
		changes = append(changes, s.evictLocked(n))
	}
	s.messages = append(s.messages, msg)
	row := len(s.messages) - 1
	changes = append(changes, Change{Kind: ChangeInserted, First: row, Last: row})
	observers := s.observers
	s.mu.Unlock()

	notify(observers, changes...)
}

// SetCapacity changes the capacity. 0 disables eviction; any other value
// trims the oldest messages immediately.
func (s *Store) SetCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.capacity = n
	var changes []Change
	if n > 0 && len(s.messages) > n {
		changes = append(changes, s.evictLocked(len(s.messages)-n))
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, changes...)
	return nil
}

// Clear drops all messages.
func (s *Store) Clear() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	n := len(s.messages)
	clear(s.messages)
	s.messages = s.messages[:0]
	observers := s.observers
	s.mu.Unlock()

	if n > 0 {
		notify(observers, Change{Kind: ChangeCleared, First: 0, Last: n - 1})
	}
}

// Get returns the message at a 0-based position.
func (s *Store) Get(i int) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.messages) {
		return nil, fmt.Errorf("%w: %d (count %d)", ErrOutOfRange, i, len(s.messages))
	}
	return s.messages[i], nil
}

// Count returns the current number of messages.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Capacity returns the configured capacity, 0 meaning unbounded.
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Messages returns a snapshot of the stored messages, oldest first.
func (s *Store) Messages() []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*message.Message(nil), s.messages...)
}

func (s *Store) evictLocked(n int) Change {
	clear(s.messages[:n])
	s.messages = s.messages[n:]
	return Change{Kind: ChangeRemoved, First: 0, Last: n - 1}
}

func notify(observers []func(Change), changes ...Change) {
	for _, c := range changes {
		for _, fn := range observers {
			fn(c)
		}
	}
}
