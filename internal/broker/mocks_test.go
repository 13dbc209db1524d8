package broker

import (
	"context"
	"errors"
	"sync"

	"mqttview/internal/message"
)

// fakeClient implements Client with a scripted Connect.
type fakeClient struct {
	mu           sync.Mutex
	cb           Callbacks
	username     string
	password     string
	connect      func(ctx context.Context, f *fakeClient) error
	published    []string
	subscribed   []string
	unsubscribed []string
	disconnects  int
	stopLoops    int

	stopCh    chan struct{}
	stopOnce  sync.Once
	abortCh   chan struct{}
	abortOnce sync.Once
	loopDone  chan struct{}
}

func newFakeClient(connect func(ctx context.Context, f *fakeClient) error) *fakeClient {
	return &fakeClient{
		connect:  connect,
		stopCh:   make(chan struct{}),
		abortCh:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

func (f *fakeClient) SetCredentials(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.username, f.password = username, password
}

func (f *fakeClient) SetCallbacks(cb Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *fakeClient) callbacks() Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *fakeClient) Connect(ctx context.Context, host string, port int) error {
	if f.connect == nil {
		return nil
	}
	return f.connect(ctx, f)
}

func (f *fakeClient) Loop(ctx context.Context) error {
	defer close(f.loopDone)
	select {
	case <-ctx.Done():
	case <-f.stopCh:
	}
	return nil
}

func (f *fakeClient) StopLoop() {
	f.mu.Lock()
	f.stopLoops++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	go f.callbacks().OnDisconnect(CodeSuccess)
}

func (f *fakeClient) Abort() {
	f.abortOnce.Do(func() { close(f.abortCh) })
}

func (f *fakeClient) aborted() bool {
	select {
	case <-f.abortCh:
		return true
	default:
		return false
	}
}

func (f *fakeClient) Publish(topic string, payload []byte, qos byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic+"="+string(payload))
	return nil
}

func (f *fakeClient) Subscribe(topic string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeClient) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeClient) deliver(d message.Delivery) {
	f.callbacks().OnMessage(d)
}

// Scripted connect behaviours.

func acceptConnect(ctx context.Context, f *fakeClient) error {
	f.callbacks().OnConnect(CodeSuccess)
	return nil
}

func refuseConnect(code int) func(context.Context, *fakeClient) error {
	return func(ctx context.Context, f *fakeClient) error {
		f.callbacks().OnConnect(code)
		return nil
	}
}

// exitConnect returns without reporting anything and lets Loop end at once.
func exitConnect(ctx context.Context, f *fakeClient) error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	return nil
}

// pendingConnect never completes but honours cancellation.
func pendingConnect(ctx context.Context, f *fakeClient) error {
	<-ctx.Done()
	return ctx.Err()
}

// hungConnect ignores cancellation and only returns once aborted.
func hungConnect(ctx context.Context, f *fakeClient) error {
	<-f.abortCh
	return errors.New("transport closed")
}

func failConnect(ctx context.Context, f *fakeClient) error {
	return errors.New("connection refused")
}

type fakeFactory struct {
	mu      sync.Mutex
	connect func(ctx context.Context, f *fakeClient) error
	err     error
	clients []*fakeClient
}

func (ff *fakeFactory) New(cfg ConnectionConfig) (Client, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	c := newFakeClient(ff.connect)
	ff.clients = append(ff.clients, c)
	return c, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.clients)
}

func (ff *fakeFactory) last() *fakeClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.clients) == 0 {
		return nil
	}
	return ff.clients[len(ff.clients)-1]
}
