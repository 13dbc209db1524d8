package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mqttview/internal/broker"
	"mqttview/internal/broker/mqtt"
	"mqttview/internal/broker/nats"
	"mqttview/internal/session"
)

const shutdownTimeout = 5 * time.Second

type statusEvent struct {
	state  broker.State
	reason string
}

// runtime is one running session with its optional mirror and metrics
// endpoint.
type runtime struct {
	flags   *Flags
	session *session.Session
	mirror  *nats.Mirror
	server  *http.Server
	status  chan statusEvent
}

func startRuntime(flags *Flags) (*runtime, error) {
	cfg := flags.Config
	log := flags.Logger

	var tlsCfg *tls.Config
	if cfg.MQTT.TLS.Enable {
		var err error
		tlsCfg, err = mqtt.NewTLSConfig(cfg.MQTT.TLS.CertFile, cfg.MQTT.TLS.KeyFile, cfg.MQTT.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	r := &runtime{
		flags:  flags,
		status: make(chan statusEvent, 16),
	}

	var sinks []session.Sink
	if cfg.Mirror.Enabled {
		mirror, err := nats.Connect(cfg.Mirror, log, flags.Metrics)
		if err != nil {
			return nil, err
		}
		r.mirror = mirror
		sinks = append(sinks, mirror)
	}

	sess, err := session.New(session.Config{
		Connection: broker.ConnectionConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		},
		Capacity: cfg.Session.CapacityValue(),
	}, session.Deps{
		NewClient: mqtt.NewFactory(mqtt.Options{
			TLS:              tlsCfg,
			HandshakeTimeout: cfg.Session.HandshakeTimeoutDuration(),
			Logger:           log,
		}),
		Logger:         log,
		Metrics:        flags.Metrics,
		Sinks:          sinks,
		ConnectTimeout: cfg.Session.ConnectTimeoutDuration(),
		StopGrace:      cfg.Session.StopGraceDuration(),
	})
	if err != nil {
		r.closeMirror()
		return nil, err
	}
	r.session = sess

	sess.OnStatus(func(state broker.State, reason string) {
		select {
		case r.status <- statusEvent{state, reason}:
		default:
			log.Warn("status event dropped", "state", state, "reason", reason)
		}
	})

	for _, sub := range cfg.Session.Subscriptions {
		if err := sess.Subscribe(sub.Topic, sub.QoS); err != nil {
			r.close()
			return nil, fmt.Errorf("invalid subscription %q: %w", sub.Topic, err)
		}
		if sub.Hidden {
			_ = sess.SetTopicVisible(sub.Topic, false)
		}
	}

	r.serveMetrics()
	return r, nil
}

// connect starts a connection attempt and waits for its outcome.
func (r *runtime) connect(ctx context.Context) error {
	cfg := r.session.Config().Connection
	r.flags.Logger.Info("connecting", "broker", cfg.Address())
	if err := r.session.Connect(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-r.status:
			switch e.state {
			case broker.StateConnected:
				r.flags.Logger.Info("connected", "status", r.session.Status())
				return nil
			case broker.StateDisconnected:
				return fmt.Errorf("failed to connect to %s: %s", cfg.Address(), describe(e.reason))
			}
		}
	}
}

// disconnect ends the session and waits for the broker to confirm it.
func (r *runtime) disconnect(ctx context.Context) error {
	if r.session.State() == broker.StateDisconnected {
		return nil
	}
	if err := r.session.Disconnect(); err != nil {
		return err
	}

	wait, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	for {
		select {
		case <-wait.Done():
			return fmt.Errorf("disconnect not confirmed: %w", wait.Err())
		case e := <-r.status:
			if e.state == broker.StateDisconnected {
				return nil
			}
		}
	}
}

func (r *runtime) close() {
	if err := r.session.Close(); err != nil {
		r.flags.Logger.Error("failed to close session", "error", err)
	}
	r.closeMirror()

	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			r.flags.Logger.Error("failed to shutdown metrics server", "error", err)
		}
	}

	st := r.session.Stats()
	r.flags.Logger.Info("session statistics",
		"stats", st.GetStats(),
		"rate", st.CalculateRate())
}

func (r *runtime) closeMirror() {
	if r.mirror != nil {
		r.mirror.Close()
	}
}

func (r *runtime) serveMetrics() {
	if r.flags.Registry == nil {
		return
	}
	cfg := r.flags.Config.Metrics
	log := r.flags.Logger

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(r.flags.Registry, promhttp.HandlerOpts{
		Registry:          r.flags.Registry,
		EnableOpenMetrics: true,
	}))
	r.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("starting metrics server", "address", cfg.Address, "path", cfg.Path)
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()
}

func describe(reason string) string {
	if reason == "" {
		return "disconnected"
	}
	return reason
}
