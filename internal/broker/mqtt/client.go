package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"mqttview/internal/broker"
	"mqttview/internal/filter"
	"mqttview/internal/logger"
)

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultKeepAlive        = 60 * time.Second

	// milliseconds paho may spend flushing on a requested disconnect
	disconnectQuiesce = 250

	// bound on waiting for accepted operations before a requested disconnect
	flushTimeout   = time.Second
	tokenTimeout   = 30 * time.Second
	clientIDPrefix = "mqttview-"
)

// ErrNotConnected is returned by operations issued before the session is
// established or after it ended.
var ErrNotConnected = errors.New("not connected to broker")

// Options configures the clients created by NewFactory.
type Options struct {
	// TLS enables ssl:// connections when set.
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration
	WriteTimeout     time.Duration
	Logger           *logger.Logger
}

// NewFactory returns a broker.ClientFactory producing paho backed clients.
func NewFactory(opts Options) broker.ClientFactory {
	return func(cfg broker.ConnectionConfig) (broker.Client, error) {
		return NewClient(cfg, opts)
	}
}

// Client adapts a paho MQTT v3.1.1 client to broker.Client. A Client
// serves exactly one session and is discarded afterwards.
type Client struct {
	clientID  string
	opts      Options
	logger    *logger.Logger
	transport transport

	mu        sync.Mutex
	cb        broker.Callbacks
	username  string
	password  string
	client    mqtt.Client
	connected bool
	closing   bool
	inflight  sync.WaitGroup

	stopLoop chan struct{}
	stopOnce sync.Once
	ended    chan struct{}
	endOnce  sync.Once
}

// NewClient creates a client for cfg. An empty client identifier is
// replaced by a generated one.
func NewClient(cfg broker.ConnectionConfig, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = clientIDPrefix + uuid.NewString()
	}

	return &Client{
		clientID: clientID,
		opts:     opts,
		logger:   log.Named("mqtt").With("client_id", clientID),
		stopLoop: make(chan struct{}),
		ended:    make(chan struct{}),
	}, nil
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string { return c.clientID }

func (c *Client) SetCredentials(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username, c.password = username, password
}

func (c *Client) SetCallbacks(cb broker.Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// Connect opens the session and waits for the CONNACK. A refused CONNACK
// is reported through the callbacks and is not an error; an error is
// returned only for failures nobody was told about.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.end(broker.CodeSuccess, true)
		return nil
	}
	client := mqtt.NewClient(c.clientOptions(ctx, host, port))
	c.client = client
	c.mu.Unlock()

	c.logger.Debug("opening mqtt session", "host", host, "port", port)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.transport.close()
		<-token.Done()
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		if c.isClosing() {
			c.logger.Debug("connection attempt abandoned", "error", err)
			c.end(broker.CodeSuccess, true)
			return nil
		}
		if code, ok := refusalCode(token); ok {
			c.logger.Warn("broker refused connection", "code", code, "error", err)
			if cb := c.callbacks().OnConnect; cb != nil {
				cb(int(code))
			}
			c.end(broker.CodeNotAuthorized, true)
			return nil
		}
		return err
	}

	c.mu.Lock()
	closing := c.closing
	c.connected = !closing && ctx.Err() == nil
	c.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		client.Disconnect(0)
		c.transport.close()
		return ctx.Err()
	case closing:
		client.Disconnect(disconnectQuiesce)
		c.end(broker.CodeSuccess, true)
		return nil
	}

	c.logger.Info("mqtt session established", "host", host, "port", port)
	if cb := c.callbacks().OnConnect; cb != nil {
		cb(broker.CodeSuccess)
	}
	return nil
}

// Loop blocks while the session is alive. When it returns because of
// StopLoop or ctx the session is torn down.
func (c *Client) Loop(ctx context.Context) error {
	select {
	case <-c.ended:
		return nil
	case <-c.stopLoop:
	case <-ctx.Done():
	}
	c.shutdown()
	return nil
}

func (c *Client) StopLoop() {
	c.stopOnce.Do(func() { close(c.stopLoop) })
}

// Disconnect sends DISCONNECT when connected and abandons an attempt in
// progress otherwise. OnDisconnect(0) follows either way.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	client, connected := c.client, c.connected
	c.connected = false
	c.mu.Unlock()

	if !connected {
		c.transport.close()
		return
	}

	c.logger.Info("disconnecting from mqtt broker")
	go func() {
		c.flush()
		client.Disconnect(disconnectQuiesce)
		c.end(broker.CodeSuccess, true)
	}()
}

// Abort drops the transport without notifying anyone.
func (c *Client) Abort() {
	c.logger.Warn("aborting mqtt transport")
	c.end(0, false)
	c.transport.close()
}

func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if err := filter.ValidateTopicName(topic); err != nil {
		return err
	}
	if qos > 2 {
		return fmt.Errorf("%w: %d", filter.ErrInvalidQoS, qos)
	}
	client, err := c.session()
	if err != nil {
		return err
	}

	body := append([]byte(nil), payload...)
	go c.await("publish", topic, func() mqtt.Token {
		return client.Publish(topic, qos, retain, body)
	})
	return nil
}

func (c *Client) Subscribe(topic string, qos byte) error {
	if err := filter.ValidateTopicFilter(topic); err != nil {
		return err
	}
	if qos > 2 {
		return fmt.Errorf("%w: %d", filter.ErrInvalidQoS, qos)
	}
	client, err := c.session()
	if err != nil {
		return err
	}

	go c.await("subscribe", topic, func() mqtt.Token {
		return client.Subscribe(topic, qos, nil)
	})
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	if err := filter.ValidateTopicFilter(topic); err != nil {
		return err
	}
	client, err := c.session()
	if err != nil {
		return err
	}

	go c.await("unsubscribe", topic, func() mqtt.Token {
		return client.Unsubscribe(topic)
	})
	return nil
}

func (c *Client) clientOptions(ctx context.Context, host string, port int) *mqtt.ClientOptions {
	scheme := "tcp"
	if c.opts.TLS != nil {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))).
		SetClientID(c.clientID).
		SetUsername(c.username).
		SetPassword(c.password).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(c.opts.HandshakeTimeout).
		SetKeepAlive(c.opts.KeepAlive).
		SetDefaultPublishHandler(c.handleMessage).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetCustomOpenConnectionFn(c.transport.opener(ctx, c.opts.TLS))

	if c.opts.WriteTimeout > 0 {
		opts.SetWriteTimeout(c.opts.WriteTimeout)
	}
	return opts
}

func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if cb := c.callbacks().OnMessage; cb != nil {
		cb(msg)
	}
}

func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("mqtt connection lost", "error", err)
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.end(broker.CodeConnectionClosed, true)
}

// end marks the session as over. Only the first call has any effect.
func (c *Client) end(code int, notify bool) {
	c.endOnce.Do(func() {
		close(c.ended)
		if !notify {
			return
		}
		if cb := c.callbacks().OnDisconnect; cb != nil {
			cb(code)
		}
	})
}

func (c *Client) shutdown() {
	c.mu.Lock()
	client, connected, closing := c.client, c.connected, c.closing
	c.connected = false
	c.mu.Unlock()

	// A requested disconnect finishes on its own.
	if closing {
		return
	}
	c.end(0, false)
	if connected && client != nil {
		client.Disconnect(0)
	}
	c.transport.close()
}

func (c *Client) await(op, topic string, send func() mqtt.Token) {
	defer c.inflight.Done()
	token := send()
	if !token.WaitTimeout(tokenTimeout) {
		c.logger.Warn(op+" not acknowledged", "topic", topic, "timeout", tokenTimeout)
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Error(op+" failed", "topic", topic, "error", err)
		return
	}
	c.logger.Debug(op+" completed", "topic", topic)
}

// session returns the connected paho client and registers one in-flight
// operation that must be finished with await.
func (c *Client) session() (mqtt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.client == nil {
		return nil, ErrNotConnected
	}
	c.inflight.Add(1)
	return c.client, nil
}

// flush waits a bounded time for operations accepted before Disconnect.
func (c *Client) flush() {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(flushTimeout):
		c.logger.Warn("in-flight operations not completed before disconnect", "timeout", flushTimeout)
	}
}

func (c *Client) callbacks() broker.Callbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// refusalCode extracts the CONNACK return code of a refused connection.
func refusalCode(token mqtt.Token) (byte, bool) {
	ct, ok := token.(*mqtt.ConnectToken)
	if !ok {
		return 0, false
	}
	rc := ct.ReturnCode()
	return rc, rc >= packets.ErrRefusedBadProtocolVersion && rc <= packets.ErrRefusedNotAuthorised
}
