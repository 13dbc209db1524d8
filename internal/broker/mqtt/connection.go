package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var errTransportClosed = errors.New("transport closed")

// NewTLSConfig creates a client TLS configuration. The key pair is optional;
// a CA file replaces the system roots.
func NewTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// transport owns the network connection of one session so that it can be
// released from outside the paho client.
type transport struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// opener returns a paho connection function that dials under ctx and
// records the resulting connection.
func (t *transport) opener(ctx context.Context, tlsCfg *tls.Config) mqtt.OpenConnectionFunc {
	return func(uri *url.URL, options mqtt.ClientOptions) (net.Conn, error) {
		dialer := net.Dialer{Timeout: options.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", uri.Host)
		if err != nil {
			return nil, err
		}

		if tlsCfg != nil {
			cfg := tlsCfg.Clone()
			if cfg.ServerName == "" {
				cfg.ServerName = uri.Hostname()
			}
			tlsConn := tls.Client(conn, cfg)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("tls handshake failed: %w", err)
			}
			conn = tlsConn
		}

		if !t.set(conn) {
			return nil, errTransportClosed
		}
		return conn, nil
	}
}

func (t *transport) set(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return false
	}
	t.conn = conn
	return true
}

// close releases the connection. Connections opened afterwards are closed
// immediately.
func (t *transport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn != nil {
		t.conn.Close()
	}
}
