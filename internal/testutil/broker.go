// Package testutil provides an in-process MQTT broker for tests.
package testutil

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"testing"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

var errDropped = errors.New("dropped by test broker")

// Publication is a PUBLISH received from a client.
type Publication struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// BrokerOptions controls how the test broker answers.
type BrokerOptions struct {
	// Authorize decides CONNECT requests; nil accepts everyone.
	Authorize func(username, password string) bool
	// Silent accepts TCP connections but never answers.
	Silent bool
}

// Broker wraps an embedded mochi server listening on loopback and records
// what clients do against it.
type Broker struct {
	server *mqtt.Server
	silent *silentListener
	addr   string

	rec *recorder

	closeOnce sync.Once
}

// NewBroker starts a broker on a loopback port. It is shut down when the
// test ends.
func NewBroker(t testing.TB, opts BrokerOptions) *Broker {
	t.Helper()

	b := &Broker{rec: &recorder{authorize: opts.Authorize}}
	if opts.Silent {
		s, err := newSilentListener()
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		b.silent, b.addr = s, s.ln.Addr().String()
		t.Cleanup(b.Close)
		return b
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(b.rec, nil); err != nil {
		t.Fatalf("failed to add hook: %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: "127.0.0.1:0"})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("failed to serve: %v", err)
	}

	b.server, b.addr = server, tcp.Address()
	t.Cleanup(b.Close)
	return b
}

// Host returns the listening address.
func (b *Broker) Host() string {
	host, _, _ := net.SplitHostPort(b.addr)
	return host
}

// Port returns the listening port.
func (b *Broker) Port() int {
	_, port, _ := net.SplitHostPort(b.addr)
	p, _ := strconv.Atoi(port)
	return p
}

// Close stops the broker and drops every connection.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		if b.silent != nil {
			b.silent.close()
			return
		}
		_ = b.server.Close()
	})
}

// DropClients closes all client connections without a DISCONNECT.
func (b *Broker) DropClients() {
	if b.silent != nil {
		b.silent.dropAll()
		return
	}
	for _, cl := range b.clients() {
		cl.Stop(errDropped)
	}
}

// Publish delivers a message to every subscribed client at QoS 0.
func (b *Broker) Publish(topic string, payload []byte, retain bool) {
	if b.server == nil {
		return
	}
	_ = b.server.Publish(topic, payload, retain, 0)
}

// Published returns the messages received from clients.
func (b *Broker) Published() []Publication {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	return append([]Publication(nil), b.rec.published...)
}

// Connects returns the client identifiers of accepted CONNECTs.
func (b *Broker) Connects() []string {
	b.rec.mu.Lock()
	defer b.rec.mu.Unlock()
	return append([]string(nil), b.rec.connects...)
}

// ClientCount returns the number of open client connections.
func (b *Broker) ClientCount() int {
	if b.silent != nil {
		return b.silent.count()
	}
	return len(b.clients())
}

// Subscriptions returns all active filters across clients, sorted.
func (b *Broker) Subscriptions() []string {
	var out []string
	for _, cl := range b.clients() {
		for filter := range cl.State.Subscriptions.GetAll() {
			out = append(out, filter)
		}
	}
	sort.Strings(out)
	return out
}

// clients returns the connected network clients.
func (b *Broker) clients() []*mqtt.Client {
	if b.server == nil {
		return nil
	}
	var out []*mqtt.Client
	for _, cl := range b.server.Clients.GetAll() {
		if cl.Net.Inline || cl.Closed() {
			continue
		}
		out = append(out, cl)
	}
	return out
}

// recorder authenticates connections and keeps a log of client activity.
type recorder struct {
	mqtt.HookBase
	authorize func(username, password string) bool

	mu        sync.Mutex
	connects  []string
	published []Publication
}

func (h *recorder) ID() string {
	return "test-recorder"
}

func (h *recorder) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnSessionEstablish,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *recorder) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	if h.authorize == nil {
		return true
	}
	return h.authorize(string(pk.Connect.Username), string(pk.Connect.Password))
}

func (h *recorder) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	return true
}

// OnSessionEstablish runs before the CONNACK is sent, so a client that saw
// its CONNACK is already recorded.
func (h *recorder) OnSessionEstablish(cl *mqtt.Client, pk packets.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects = append(h.connects, cl.ID)
}

// OnPublish runs before the PUBACK is sent.
func (h *recorder) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if cl.Net.Inline {
		return pk, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, Publication{
		Topic:   pk.TopicName,
		Payload: append([]byte(nil), pk.Payload...),
		QoS:     pk.FixedHeader.Qos,
		Retain:  pk.FixedHeader.Retain,
	})
	return pk, nil
}

// silentListener accepts TCP connections and reads them without ever
// answering, so CONNECT attempts hang until the client gives up.
type silentListener struct {
	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newSilentListener() (*silentListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &silentListener{ln: ln, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *silentListener) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = io.Copy(io.Discard, conn)
			conn.Close()
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *silentListener) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *silentListener) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *silentListener) close() {
	s.ln.Close()
	s.dropAll()
	s.wg.Wait()
}
