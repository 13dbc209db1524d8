package session

import (
	"context"
	"errors"
	"sync"

	"mqttview/internal/broker"
	"mqttview/internal/message"
)

// mockClient connects instantly unless fail is set.
type mockClient struct {
	mu           sync.Mutex
	cb           broker.Callbacks
	fail         bool
	subscribed   []string
	unsubscribed []string
	published    []string

	stop     chan struct{}
	stopOnce sync.Once
}

func (c *mockClient) SetCredentials(username, password string) {}

func (c *mockClient) SetCallbacks(cb broker.Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

func (c *mockClient) callbacks() broker.Callbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *mockClient) Connect(ctx context.Context, host string, port int) error {
	if c.fail {
		return errors.New("boom")
	}
	c.callbacks().OnConnect(broker.CodeSuccess)
	return nil
}

func (c *mockClient) Loop(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-c.stop:
	}
	return nil
}

func (c *mockClient) StopLoop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *mockClient) Disconnect() {
	go c.callbacks().OnDisconnect(broker.CodeSuccess)
}

func (c *mockClient) Abort() {}

func (c *mockClient) Publish(topic string, payload []byte, qos byte, retain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, topic+"="+string(payload))
	return nil
}

func (c *mockClient) Subscribe(topic string, qos byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return nil
}

func (c *mockClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topic)
	return nil
}

func (c *mockClient) deliver(topic, payload string) {
	c.callbacks().OnMessage(message.Static{TopicName: topic, Body: []byte(payload)})
}

func (c *mockClient) snapshot() (subscribed, unsubscribed, published []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...),
		append([]string(nil), c.unsubscribed...),
		append([]string(nil), c.published...)
}

type mockFactory struct {
	mu      sync.Mutex
	fail    bool
	clients []*mockClient
}

func (f *mockFactory) New(cfg broker.ConnectionConfig) (broker.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &mockClient{fail: f.fail, stop: make(chan struct{})}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *mockFactory) last() *mockClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

type statusChange struct {
	state  broker.State
	reason string
}

// recordingSink is a Sink that keeps everything it sees.
type recordingSink struct {
	mu       sync.Mutex
	messages []string
	statuses []statusChange
}

func (s *recordingSink) OnMessage(msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg.Topic())
}

func (s *recordingSink) OnStatus(state broker.State, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statusChange{state, reason})
}

func (s *recordingSink) snapshot() ([]string, []statusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...), append([]statusChange(nil), s.statuses...)
}
