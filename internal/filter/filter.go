// Package filter decides which stored messages are visible, combining
// per-subscription visibility with an optional text or pattern search.
package filter

import (
	"errors"
	"fmt"
	"sync"

	"mqttview/internal/message"
	"mqttview/internal/store"
)

var (
	// ErrAlreadySubscribed is returned when adding a topic that is already present.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotSubscribed is returned for operations on an unknown topic.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrInvalidQoS is returned for QoS values above 2.
	ErrInvalidQoS = errors.New("invalid qos")
)

// Subscription is one subscribed topic pattern.
type Subscription struct {
	Topic   string
	QoS     byte
	Visible bool
}

// Filter holds the subscription set and the active search. It is safe for
// concurrent use. Every state change invalidates all rows; registered
// invalidation callbacks run after the change, without locks held.
type Filter struct {
	mu           sync.RWMutex
	tree         *TopicTree
	subs         map[string]*Subscription
	order        []string
	search       *Matcher
	invalidators []func()
}

// New returns a filter with no subscriptions and no search.
func New() *Filter {
	return &Filter{
		tree: NewTopicTree(),
		subs: make(map[string]*Subscription),
	}
}

// OnInvalidate registers fn to be called whenever every row must be
// re-evaluated.
func (f *Filter) OnInvalidate(fn func()) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.invalidators = append(f.invalidators, fn)
	f.mu.Unlock()
}

// Add records a visible subscription.
func (f *Filter) Add(topic string, qos byte) error {
	if err := ValidateTopicFilter(topic); err != nil {
		return err
	}
	if qos > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}

	f.mu.Lock()
	if _, ok := f.subs[topic]; ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, topic)
	}
	sub := &Subscription{Topic: topic, QoS: qos, Visible: true}
	f.subs[topic] = sub
	f.order = append(f.order, topic)
	f.tree.Insert(sub)
	f.mu.Unlock()

	f.invalidate()
	return nil
}

// Remove drops a subscription.
func (f *Filter) Remove(topic string) error {
	f.mu.Lock()
	if _, ok := f.subs[topic]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}
	delete(f.subs, topic)
	f.tree.Delete(topic)
	for i, t := range f.order {
		if t == topic {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	f.invalidate()
	return nil
}

// SetVisible toggles whether messages matched only by hidden subscriptions
// are shown.
func (f *Filter) SetVisible(topic string, visible bool) error {
	f.mu.Lock()
	sub, ok := f.subs[topic]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}
	sub.Visible = visible
	f.mu.Unlock()

	f.invalidate()
	return nil
}

// Has reports whether topic is subscribed.
func (f *Filter) Has(topic string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.subs[topic]
	return ok
}

// Subscriptions returns copies of all subscriptions in the order they were added.
func (f *Filter) Subscriptions() []Subscription {
	f.mu.RLock()
	defer f.mu.RUnlock()

	subs := make([]Subscription, 0, len(f.order))
	for _, topic := range f.order {
		subs = append(subs, *f.subs[topic])
	}
	return subs
}

// Matching returns copies of the subscriptions whose pattern matches topic.
func (f *Filter) Matching(topic string) []Subscription {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matches := f.tree.Match(topic)
	subs := make([]Subscription, 0, len(matches))
	for _, sub := range matches {
		subs = append(subs, *sub)
	}
	return subs
}

// SetSearch activates a search. An invalid regular expression leaves the
// previous search in place.
func (f *Filter) SetSearch(s Search) error {
	m, err := s.Compile()
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.search = m
	f.mu.Unlock()

	f.invalidate()
	return nil
}

// ClearSearch deactivates the search.
func (f *Filter) ClearSearch() {
	f.mu.Lock()
	f.search = nil
	f.mu.Unlock()

	f.invalidate()
}

// ActiveSearch returns the current search and whether one is active.
func (f *Filter) ActiveSearch() (Search, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.search == nil {
		return Search{}, false
	}
	return f.search.search, true
}

// Accepts reports whether msg is visible. Messages on topics no
// subscription matches are always shown; messages matched only by hidden
// subscriptions never are; the rest must satisfy the active search.
func (f *Filter) Accepts(msg *message.Message) bool {
	if msg == nil {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	matches := f.tree.Match(msg.Topic())
	if len(matches) == 0 {
		return true
	}

	visible := false
	for _, sub := range matches {
		if sub.Visible {
			visible = true
			break
		}
	}
	if !visible {
		return false
	}

	if f.search == nil {
		return true
	}
	return f.search.Match(msg.SearchText())
}

// Apply evaluates every row of s and returns the indices of accepted rows.
func (f *Filter) Apply(s *store.Store) []int {
	var rows []int
	for i, msg := range s.Messages() {
		if f.Accepts(msg) {
			rows = append(rows, i)
		}
	}
	return rows
}

func (f *Filter) invalidate() {
	f.mu.RLock()
	fns := f.invalidators
	f.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
