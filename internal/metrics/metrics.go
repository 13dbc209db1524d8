// Package metrics exposes prometheus instrumentation. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mqttview"

type Metrics struct {
	connectionState  prometheus.Gauge
	connectAttempts  prometheus.Counter
	connectTimeouts  prometheus.Counter
	forcedStops      prometheus.Counter
	disconnects      *prometheus.CounterVec
	messagesTotal    *prometheus.CounterVec
	storeSize        prometheus.Gauge
	storeEvictions   prometheus.Counter
	mirrorConnection prometheus.Gauge
	mirrorErrors     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Broker connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of connection attempts",
		}),
		connectTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_timeouts_total",
			Help:      "Total number of connection attempts that timed out",
		}),
		forcedStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_forced_stops_total",
			Help:      "Total number of workers abandoned after the stop grace period",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total number of disconnections by cause",
		}, []string{"cause"}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of messages by status",
		}, []string{"status"}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_messages",
			Help:      "Number of messages currently held in the store",
		}),
		storeEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_evictions_total",
			Help:      "Total number of messages evicted by the capacity limit",
		}),
		mirrorConnection: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_connection_status",
			Help:      "NATS mirror connection status (0=disconnected, 1=connected)",
		}),
		mirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_publish_errors_total",
			Help:      "Total number of events the mirror failed to publish",
		}),
	}

	if reg == nil {
		return m, nil
	}

	collectors := []prometheus.Collector{
		m.connectionState,
		m.connectAttempts,
		m.connectTimeouts,
		m.forcedStops,
		m.disconnects,
		m.messagesTotal,
		m.storeSize,
		m.storeEvictions,
		m.mirrorConnection,
		m.mirrorErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// SetConnectionState records the numeric connection state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

func (m *Metrics) IncConnectAttempts() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) IncConnectTimeouts() {
	if m == nil {
		return
	}
	m.connectTimeouts.Inc()
}

func (m *Metrics) IncForcedStops() {
	if m == nil {
		return
	}
	m.forcedStops.Inc()
}

// IncDisconnects counts a disconnection; cause is one of a small fixed set
// (requested, closed, auth, timeout, error, other).
func (m *Metrics) IncDisconnects(cause string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(cause).Inc()
}

// IncMessagesTotal counts a message with status received, dropped or published.
func (m *Metrics) IncMessagesTotal(status string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetStoreSize(n int) {
	if m == nil {
		return
	}
	m.storeSize.Set(float64(n))
}

func (m *Metrics) AddStoreEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.storeEvictions.Add(float64(n))
}

func (m *Metrics) SetMirrorConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.mirrorConnection.Set(1)
	} else {
		m.mirrorConnection.Set(0)
	}
}

func (m *Metrics) IncMirrorErrors() {
	if m == nil {
		return
	}
	m.mirrorErrors.Inc()
}
