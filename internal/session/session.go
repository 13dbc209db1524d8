// Package session ties one broker connection to its message store, the
// subscription set and the visibility filter.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mqttview/internal/broker"
	"mqttview/internal/filter"
	"mqttview/internal/logger"
	"mqttview/internal/message"
	"mqttview/internal/metrics"
	"mqttview/internal/stats"
	"mqttview/internal/store"
)

// Sink receives every session event after the session has processed it.
type Sink interface {
	OnMessage(msg *message.Message)
	OnStatus(state broker.State, reason string)
}

// Config describes one session.
type Config struct {
	Connection broker.ConnectionConfig
	// Capacity bounds the store; 0 keeps every message.
	Capacity int
}

// Deps carries the collaborators of a session. Only NewClient is required.
type Deps struct {
	NewClient      broker.ClientFactory
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
	Stats          *stats.StatsCollector
	Sinks          []Sink
	ConnectTimeout time.Duration
	StopGrace      time.Duration
}

// Session is safe for concurrent use. Listeners and sinks run on the
// session's event goroutine, in event order.
type Session struct {
	cfg     Config
	manager *broker.Manager
	store   *store.Store
	filter  *filter.Filter
	logger  *logger.Logger
	metrics *metrics.Metrics
	stats   *stats.StatsCollector
	sinks   []Sink
	done    chan struct{}

	mu         sync.RWMutex
	onMessage  []func(msg *message.Message, visible bool)
	onStatus   []func(state broker.State, reason string)
	lastReason string
}

// New creates a disconnected session.
func New(cfg Config, deps Deps) (*Session, error) {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	st := deps.Stats
	if st == nil {
		st = stats.NewStatsCollector()
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("%w: %d", store.ErrInvalidCapacity, cfg.Capacity)
	}

	manager, err := broker.NewManager(cfg.Connection, broker.Options{
		NewClient:      deps.NewClient,
		Logger:         log,
		Metrics:        deps.Metrics,
		ConnectTimeout: deps.ConnectTimeout,
		StopGrace:      deps.StopGrace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	s := &Session{
		cfg:     cfg,
		manager: manager,
		store:   store.New(cfg.Capacity),
		filter:  filter.New(),
		logger:  log.Named("session").With("broker", cfg.Connection.Address()),
		metrics: deps.Metrics,
		stats:   st,
		sinks:   deps.Sinks,
		done:    make(chan struct{}),
	}
	s.store.OnChange(s.trackStore)

	go s.pump()
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the connection state.
func (s *Session) State() broker.State { return s.manager.State() }

// Store returns the message store.
func (s *Session) Store() *store.Store { return s.store }

// Filter returns the subscription set and visibility filter.
func (s *Session) Filter() *filter.Filter { return s.filter }

// Stats returns the session counters.
func (s *Session) Stats() *stats.StatsCollector { return s.stats }

// OnMessage registers fn for every stored message together with its
// visibility at arrival.
func (s *Session) OnMessage(fn func(msg *message.Message, visible bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = append(s.onMessage, fn)
}

// OnStatus registers fn for connection state changes.
func (s *Session) OnStatus(fn func(state broker.State, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = append(s.onStatus, fn)
}

// OnInvalidate registers fn for filter changes that require every row to be
// re-evaluated.
func (s *Session) OnInvalidate(fn func()) {
	s.filter.OnInvalidate(fn)
}

// Connect starts a connection attempt unless one is in progress or
// established.
func (s *Session) Connect() error {
	return s.manager.Connect()
}

// Disconnect ends the broker session.
func (s *Session) Disconnect() error {
	return s.manager.Disconnect()
}

// Close ends the session and waits until all pending events were handled.
func (s *Session) Close() error {
	err := s.manager.Close()
	<-s.done
	return err
}

// Subscribe records a visible subscription and forwards it when connected.
// Subscribing to a recorded topic again does nothing.
func (s *Session) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", filter.ErrInvalidTopic)
	}
	if s.filter.Has(topic) {
		s.logger.Debug("already subscribed", "topic", topic)
		return nil
	}
	if err := s.filter.Add(topic, qos); err != nil {
		if errors.Is(err, filter.ErrAlreadySubscribed) {
			return nil
		}
		return err
	}

	s.logger.Info("subscribed", "topic", topic, "qos", qos)
	if s.State() == broker.StateConnected {
		s.forward("subscribe", topic, s.manager.Subscribe(topic, qos))
	}
	return nil
}

// Unsubscribe drops the subscription and forwards the request when connected.
func (s *Session) Unsubscribe(topic string) error {
	if err := s.filter.Remove(topic); err != nil {
		return err
	}

	s.logger.Info("unsubscribed", "topic", topic)
	if s.State() == broker.StateConnected {
		s.forward("unsubscribe", topic, s.manager.Unsubscribe(topic))
	}
	return nil
}

// SetTopicVisible shows or hides messages matched by topic.
func (s *Session) SetTopicVisible(topic string, visible bool) error {
	return s.filter.SetVisible(topic, visible)
}

// SetSearch activates a payload search over visible messages.
func (s *Session) SetSearch(search filter.Search) error {
	return s.filter.SetSearch(search)
}

// ClearSearch removes the payload search.
func (s *Session) ClearSearch() {
	s.filter.ClearSearch()
}

// SetCapacity changes the store capacity, evicting the oldest messages.
func (s *Session) SetCapacity(n int) error {
	return s.store.SetCapacity(n)
}

// Clear drops all stored messages.
func (s *Session) Clear() {
	s.store.Clear()
}

// Publish sends a message to the broker.
func (s *Session) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if err := filter.ValidateTopicName(topic); err != nil {
		return err
	}
	if qos > 2 {
		return fmt.Errorf("%w: %d", filter.ErrInvalidQoS, qos)
	}
	if err := s.manager.Publish(topic, payload, qos, retain); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	s.stats.IncPublished()
	s.metrics.IncMessagesTotal("published")
	s.logger.Debug("published", "topic", topic, "size", len(payload), "qos", qos, "retain", retain)
	return nil
}

// Visible returns the messages that pass the filter, oldest first.
func (s *Session) Visible() []*message.Message {
	var visible []*message.Message
	for _, msg := range s.store.Messages() {
		if s.filter.Accepts(msg) {
			visible = append(visible, msg)
		}
	}
	return visible
}

// FindNext searches the visible messages for the first one at or after
// position from that satisfies search, wrapping around to the start. It
// returns the position within Visible and whether a match was found.
func (s *Session) FindNext(search filter.Search, from int) (int, bool, error) {
	m, err := search.Compile()
	if err != nil {
		return -1, false, err
	}

	rows := s.Visible()
	n := len(rows)
	if n == 0 {
		return -1, false, nil
	}
	if from < 0 || from >= n {
		from = 0
	}
	for i := 0; i < n; i++ {
		row := (from + i) % n
		if m.Match(rows[row].SearchText()) {
			return row, true, nil
		}
	}
	return -1, false, nil
}

// Status describes the connection: the broker and credentials in use while
// connected, the last disconnect reason otherwise.
func (s *Session) Status() string {
	if s.State() != broker.StateConnected {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.lastReason
	}

	c := s.cfg.Connection
	var b strings.Builder
	b.WriteString(c.Address())
	if c.Username != "" {
		b.WriteString(", username=" + c.Username)
	}
	if c.ClientID != "" {
		b.WriteString(", id=" + c.ClientID)
	}
	return b.String()
}

func (s *Session) pump() {
	defer close(s.done)
	for e := range s.manager.Events() {
		switch e.Kind {
		case broker.EventConnected:
			s.handleConnected()
		case broker.EventDisconnected:
			s.handleDisconnected(e.Reason)
		case broker.EventMessage:
			s.handleMessage(e.Message)
		}
	}
}

func (s *Session) handleConnected() {
	s.stats.IncConnects()
	s.mu.Lock()
	s.lastReason = ""
	s.mu.Unlock()

	subs := s.filter.Subscriptions()
	if len(subs) > 0 {
		s.logger.Info("restoring subscriptions", "count", len(subs))
	}
	for _, sub := range subs {
		s.forward("subscribe", sub.Topic, s.manager.Subscribe(sub.Topic, sub.QoS))
	}

	s.notifyStatus(broker.StateConnected, "")
}

func (s *Session) handleDisconnected(reason string) {
	s.stats.RecordDisconnect(reason)
	s.mu.Lock()
	s.lastReason = reason
	s.mu.Unlock()

	s.notifyStatus(broker.StateDisconnected, reason)
}

func (s *Session) handleMessage(msg *message.Message) {
	s.store.Append(msg)
	s.stats.IncReceived()
	visible := s.filter.Accepts(msg)

	s.mu.RLock()
	listeners := s.onMessage
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(msg, visible)
	}
	for _, sink := range s.sinks {
		sink.OnMessage(msg)
	}
}

func (s *Session) notifyStatus(state broker.State, reason string) {
	s.mu.RLock()
	listeners := s.onStatus
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(state, reason)
	}
	for _, sink := range s.sinks {
		sink.OnStatus(state, reason)
	}
}

func (s *Session) trackStore(c store.Change) {
	if c.Kind == store.ChangeRemoved {
		s.stats.AddEvicted(c.Len())
		s.metrics.AddStoreEvictions(c.Len())
	}
	s.metrics.SetStoreSize(s.store.Count())
}

func (s *Session) forward(op, topic string, err error) {
	if err != nil {
		s.logger.Warn(op+" not forwarded", "topic", topic, "error", err)
	}
}
