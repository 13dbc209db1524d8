// Package broker manages a single broker session: connection state, the
// worker that runs the client's network loop, the connection attempt
// timer and the teardown protocol shared by every exit path.
package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"mqttview/internal/message"
)

// State is the connection state of a Manager.
type State uint32

const (
	// StateDisconnected is the initial state and the state every teardown ends in.
	StateDisconnected State = iota
	// StateConnecting means a worker is establishing the session.
	StateConnecting
	// StateConnected means the broker acknowledged the session.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Result codes reported through Callbacks.
const (
	CodeSuccess          = 0
	CodeConnectionClosed = 1
	CodeNotAuthorized    = 5
)

// Disconnect reasons delivered with EventDisconnected.
const (
	ReasonConnectionClosed = "connection closed"
	ReasonNotAuthorized    = "authorization error"
	ReasonTimedOut         = "connection attempt timed out"
)

// DisconnectReason maps a disconnect result code to the reason shown to
// the owner. Unknown codes map to "".
func DisconnectReason(code int) string {
	switch code {
	case CodeConnectionClosed:
		return ReasonConnectionClosed
	case CodeNotAuthorized:
		return ReasonNotAuthorized
	default:
		return ""
	}
}

// ConnectionConfig identifies the broker and the credentials of a session.
type ConnectionConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
}

// Address returns host:port.
func (c ConnectionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks host and port.
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// EventKind identifies an owner-facing event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to the owner in the order the manager produced it.
// Reason is set for EventDisconnected and may be empty; Message is set for
// EventMessage.
type Event struct {
	Kind    EventKind
	Reason  string
	Message *message.Message
}

// Callbacks are invoked by a Client from its own goroutines.
type Callbacks struct {
	OnConnect    func(code int)
	OnDisconnect func(code int)
	OnMessage    func(d message.Delivery)
}

// Client is the broker client driven by a Manager. Connect and Loop block
// and run on the worker; every other method must be safe to call from
// another goroutine and must not block.
type Client interface {
	SetCredentials(username, password string)
	SetCallbacks(cb Callbacks)

	// Connect establishes the network session. Cancelling ctx aborts it.
	Connect(ctx context.Context, host string, port int) error
	// Loop processes network traffic until the session ends, StopLoop is
	// called or ctx is cancelled.
	Loop(ctx context.Context) error
	// StopLoop asks Loop to return.
	StopLoop()
	// Disconnect ends the session gracefully; completion is reported
	// through OnDisconnect.
	Disconnect()
	// Abort releases the transport of a worker that did not stop in time.
	Abort()

	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
}

// ClientFactory creates a fresh client for every connection attempt.
type ClientFactory func(cfg ConnectionConfig) (Client, error)
