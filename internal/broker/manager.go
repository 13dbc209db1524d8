package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mqttview/internal/logger"
	"mqttview/internal/message"
	"mqttview/internal/metrics"
)

const (
	DefaultConnectTimeout = 2000 * time.Millisecond
	DefaultStopGrace      = 1000 * time.Millisecond
)

// Options configures a Manager. Zero durations select the defaults.
type Options struct {
	NewClient      ClientFactory
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
	ConnectTimeout time.Duration
	StopGrace      time.Duration
}

// Manager owns one broker session. All state transitions run on a single
// loop goroutine that consumes a FIFO of requests, client callbacks and
// timer firings. Blocking network work happens on a worker created per
// connection attempt. Events reach the owner through Events in the order
// they were produced; the owner must drain the channel until it is closed.
type Manager struct {
	cfg            ConnectionConfig
	newClient      ClientFactory
	logger         *logger.Logger
	metrics        *metrics.Metrics
	connectTimeout time.Duration
	stopGrace      time.Duration

	inbox     *queue[func()]
	outbox    *queue[Event]
	events    chan Event
	loopDone  chan struct{}
	closeOnce sync.Once
	stops     sync.WaitGroup

	state atomic.Uint32

	// Owned by the loop goroutine.
	client   Client
	worker   *worker
	timer    *time.Timer
	attempts uint64
}

// NewManager creates a disconnected manager for cfg.
func NewManager(cfg ConnectionConfig, opts Options) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.NewClient == nil {
		return nil, fmt.Errorf("%w: client factory is required", ErrInvalidConfig)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}

	m := &Manager{
		cfg:            cfg,
		newClient:      opts.NewClient,
		logger:         log.Named("broker").With("broker", cfg.Address()),
		metrics:        opts.Metrics,
		connectTimeout: opts.ConnectTimeout,
		stopGrace:      opts.StopGrace,
		inbox:          newQueue[func()](),
		outbox:         newQueue[Event](),
		events:         make(chan Event, 64),
		loopDone:       make(chan struct{}),
	}
	m.metrics.SetConnectionState(int(StateDisconnected))

	go m.run()
	go m.deliver()
	return m, nil
}

// Config returns the connection configuration.
func (m *Manager) Config() ConnectionConfig { return m.cfg }

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Events returns the owner-facing event stream. It is closed by Close after
// the final event.
func (m *Manager) Events() <-chan Event { return m.events }

// Connect starts a connection attempt. It does nothing unless the manager
// is disconnected.
func (m *Manager) Connect() error {
	return m.call(m.connectToBroker)
}

// Disconnect asks the broker client to end the session. Completion is
// reported as an EventDisconnected.
func (m *Manager) Disconnect() error {
	return m.call(m.disconnect)
}

// Publish forwards a message to the broker.
func (m *Manager) Publish(topic string, payload []byte, qos byte, retain bool) error {
	return m.withClient("publish", topic, func(c Client) error {
		return c.Publish(topic, payload, qos, retain)
	})
}

// Subscribe forwards a subscription request. Subscription bookkeeping is
// the caller's.
func (m *Manager) Subscribe(topic string, qos byte) error {
	return m.withClient("subscribe", topic, func(c Client) error {
		return c.Subscribe(topic, qos)
	})
}

// Unsubscribe forwards an unsubscription request.
func (m *Manager) Unsubscribe(topic string) error {
	return m.withClient("unsubscribe", topic, func(c Client) error {
		return c.Unsubscribe(topic)
	})
}

// Close tears down any session, stops the loop and closes Events. It waits
// at most the stop grace period for a running worker.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		var w *worker
		_ = m.call(func() {
			state := m.State()
			if state == StateDisconnected {
				return
			}
			if state == StateConnected {
				m.client.Disconnect()
			}
			w = m.detach()
			m.logger.Info("session closed", "state", state)
			m.metrics.IncDisconnects("requested")
			m.emit(Event{Kind: EventDisconnected})
		})

		m.inbox.close()
		<-m.loopDone

		if w != nil {
			m.stopWorker(w, "shutdown")
		}
		m.stops.Wait()
		m.outbox.close()
	})
	return nil
}

func (m *Manager) run() {
	defer close(m.loopDone)
	for range m.inbox.ready {
		fns, closed := m.inbox.drain()
		for _, fn := range fns {
			fn()
		}
		if closed {
			return
		}
	}
}

func (m *Manager) deliver() {
	defer close(m.events)
	for range m.outbox.ready {
		events, closed := m.outbox.drain()
		for _, e := range events {
			m.events <- e
		}
		if closed {
			return
		}
	}
}

// post queues fn for the loop. It is dropped once the manager is closed.
func (m *Manager) post(fn func()) {
	m.inbox.push(fn)
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(fn func()) error {
	done := make(chan struct{})
	if !m.inbox.push(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	<-done
	return nil
}

func (m *Manager) emit(e Event) {
	m.outbox.push(e)
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(uint32(s)))
	if prev != s {
		m.logger.Debug("state changed", "from", prev, "to", s)
	}
	m.metrics.SetConnectionState(int(s))
}

func (m *Manager) withClient(op, topic string, fn func(Client) error) error {
	var err error
	if cerr := m.call(func() {
		if m.client == nil {
			m.logger.Warn(op+" without broker session", "topic", topic)
			err = ErrNoSession
			return
		}
		err = fn(m.client)
	}); cerr != nil {
		return cerr
	}
	return err
}

func (m *Manager) connectToBroker() {
	if state := m.State(); state != StateDisconnected {
		m.logger.Info("connect ignored", "state", state)
		return
	}

	client, err := m.newClient(m.cfg)
	if err != nil {
		m.logger.Error("failed to create broker client", "error", err)
		m.metrics.IncDisconnects("error")
		m.emit(Event{Kind: EventDisconnected, Reason: connectionErrorReason(err)})
		return
	}

	m.attempts++
	w := newWorker(m.attempts, client)
	client.SetCredentials(m.cfg.Username, m.cfg.Password)
	client.SetCallbacks(Callbacks{
		OnConnect: func(code int) {
			m.post(func() { m.handleConnect(w, code) })
		},
		OnDisconnect: func(code int) {
			m.post(func() { m.handleDisconnect(w, code) })
		},
		OnMessage: func(d message.Delivery) {
			m.receive(w, d)
		},
	})

	m.client = client
	m.worker = w
	m.setState(StateConnecting)
	m.metrics.IncConnectAttempts()
	m.armTimer(w.id)

	m.logger.Info("connecting to broker", "attempt", w.id, "timeout", m.connectTimeout)
	w.start(m.cfg.Host, m.cfg.Port, func(err error) {
		m.post(func() { m.handleFailure(w, err) })
	})
}

func (m *Manager) disconnect() {
	if m.State() == StateDisconnected {
		m.logger.Debug("disconnect ignored, not connected")
		return
	}
	m.logger.Info("disconnecting from broker")
	m.client.Disconnect()
}

func (m *Manager) handleConnect(w *worker, code int) {
	if w != m.worker {
		m.logger.Debug("ignoring connect result of stale attempt", "attempt", w.id, "code", code)
		return
	}
	if code != CodeSuccess {
		// The attempt timer stays armed and ends the attempt.
		m.logger.Warn("broker refused connection", "code", code)
		return
	}
	if m.State() == StateConnected {
		return
	}

	m.disarmTimer()
	m.setState(StateConnected)
	m.logger.Info("connected to broker", "attempt", w.id)
	m.emit(Event{Kind: EventConnected})
}

func (m *Manager) handleDisconnect(w *worker, code int) {
	if w != m.worker {
		m.logger.Debug("ignoring disconnect of stale attempt", "attempt", w.id, "code", code)
		return
	}

	reason := DisconnectReason(code)
	m.detach()
	if code != CodeSuccess {
		m.logger.Warn("broker session ended", "code", code, "reason", reason)
		m.stopInBackground(w, "disconnect")
	} else {
		m.logger.Info("disconnected from broker")
		w.cancel()
	}

	m.metrics.IncDisconnects(disconnectCause(code))
	m.emit(Event{Kind: EventDisconnected, Reason: reason})
}

func (m *Manager) handleFailure(w *worker, err error) {
	if w != m.worker {
		return
	}

	m.logger.Error("connection attempt failed", "attempt", w.id, "error", err)
	m.detach()
	m.metrics.IncDisconnects("error")
	m.emit(Event{Kind: EventDisconnected, Reason: connectionErrorReason(err)})
}

func (m *Manager) handleTimeout(attempt uint64) {
	if m.timer == nil || attempt != m.attempts {
		return
	}
	m.timer = nil
	if m.State() == StateConnected {
		return
	}

	m.logger.Warn("connection attempt timed out", "attempt", attempt, "timeout", m.connectTimeout)
	m.metrics.IncConnectTimeouts()
	w := m.detach()
	halted := w != nil && w.running()
	m.stopInBackground(w, "timeout")
	// A worker that already exited without a callback had nothing to halt.
	if !halted {
		m.logger.Debug("timed out worker had already exited", "attempt", attempt)
		return
	}
	m.metrics.IncDisconnects("timeout")
	m.emit(Event{Kind: EventDisconnected, Reason: ReasonTimedOut})
}

func (m *Manager) receive(w *worker, d message.Delivery) {
	msg, err := message.New(d)
	if err != nil {
		m.logger.Warn("dropping delivery", "error", err)
		m.metrics.IncMessagesTotal("dropped")
		return
	}
	m.post(func() {
		if w != m.worker {
			return
		}
		m.metrics.IncMessagesTotal("received")
		m.emit(Event{Kind: EventMessage, Message: msg})
	})
}

// detach ends the current session on the loop and returns its worker.
func (m *Manager) detach() *worker {
	m.disarmTimer()
	w := m.worker
	m.worker, m.client = nil, nil
	m.setState(StateDisconnected)
	return w
}

func (m *Manager) armTimer(attempt uint64) {
	m.disarmTimer()
	m.timer = time.AfterFunc(m.connectTimeout, func() {
		m.post(func() { m.handleTimeout(attempt) })
	})
}

func (m *Manager) disarmTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) stopInBackground(w *worker, trigger string) {
	if w == nil {
		return
	}
	m.stops.Add(1)
	go func() {
		defer m.stops.Done()
		m.stopWorker(w, trigger)
	}()
}

func (m *Manager) stopWorker(w *worker, trigger string) {
	halted, forced := w.stop(m.stopGrace)
	switch {
	case forced:
		m.logger.Warn("worker did not stop within grace period, abandoned",
			"attempt", w.id,
			"grace", m.stopGrace,
			"trigger", trigger)
		m.metrics.IncForcedStops()
	case halted:
		m.logger.Debug("worker stopped", "attempt", w.id, "trigger", trigger)
	}
}

func connectionErrorReason(err error) string {
	return "connection error: " + err.Error()
}

func disconnectCause(code int) string {
	switch code {
	case CodeSuccess:
		return "requested"
	case CodeConnectionClosed:
		return "closed"
	case CodeNotAuthorized:
		return "auth"
	default:
		return "other"
	}
}
