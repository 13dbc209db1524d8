package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"mqttview/config"
	"mqttview/internal/logger"
	"mqttview/internal/metrics"
)

const reconnectWait = 2 * time.Second

// Connect dials the NATS server named in cfg and returns a mirror on top of
// the connection. The server does not need to be up: the client keeps
// retrying in the background.
func Connect(cfg config.MirrorConfig, log *logger.Logger, m *metrics.Metrics) (*Mirror, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no NATS server URL provided")
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("mirror")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(conn *nats.Conn) {
			log.Info("connected to NATS server", "url", conn.ConnectedUrl())
			m.SetMirrorConnectionStatus(true)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected from NATS server", "error", err)
			m.SetMirrorConnectionStatus(false)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info("reconnected to NATS server", "url", conn.ConnectedUrl())
			m.SetMirrorConnectionStatus(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
			m.SetMirrorConnectionStatus(false)
		}),
	}

	log.Info("connecting to NATS server", "url", cfg.URL)
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	if conn.IsConnected() {
		m.SetMirrorConnectionStatus(true)
	}

	mirror := NewMirror(conn, cfg.SubjectPrefix, log, m)
	mirror.closer = conn.Close
	return mirror, nil
}
