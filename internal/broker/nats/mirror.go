// Package nats mirrors session events onto NATS subjects.
package nats

import (
	"encoding/json"
	"time"

	"mqttview/internal/broker"
	"mqttview/internal/logger"
	"mqttview/internal/message"
	"mqttview/internal/metrics"
)

// Publisher is the part of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// MessageRecord is the JSON body published for every received message.
type MessageRecord struct {
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	QoS       byte   `json:"qos"`
	Retain    bool   `json:"retain"`
	Timestamp string `json:"timestamp"`
}

// StatusRecord is the JSON body published on connection state changes.
type StatusRecord struct {
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Time   time.Time `json:"time"`
}

// Mirror forwards messages to <prefix>.msg.<subject> and state changes to
// <prefix>.status. Failures are logged and counted, never returned.
type Mirror struct {
	pub     Publisher
	prefix  string
	logger  *logger.Logger
	metrics *metrics.Metrics
	closer  func()
}

// NewMirror creates a mirror publishing through pub.
func NewMirror(pub Publisher, prefix string, log *logger.Logger, m *metrics.Metrics) *Mirror {
	if log == nil {
		log = logger.NewNop()
	}
	if prefix == "" {
		prefix = "mqttview"
	}
	return &Mirror{
		pub:     pub,
		prefix:  prefix,
		logger:  log,
		metrics: m,
	}
}

// MessageSubject returns the subject a message on topic is mirrored to.
func (m *Mirror) MessageSubject(topic string) string {
	return m.prefix + ".msg." + ToNATSSubject(topic)
}

// StatusSubject returns the subject state changes are mirrored to.
func (m *Mirror) StatusSubject() string {
	return m.prefix + ".status"
}

func (m *Mirror) OnMessage(msg *message.Message) {
	m.publish(m.MessageSubject(msg.Topic()), MessageRecord{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		QoS:       msg.QoS(),
		Retain:    msg.Retain(),
		Timestamp: msg.Timestamp(),
	})
}

func (m *Mirror) OnStatus(state broker.State, reason string) {
	m.publish(m.StatusSubject(), StatusRecord{
		State:  state.String(),
		Reason: reason,
		Time:   time.Now().UTC(),
	})
}

// Close releases the NATS connection, if the mirror owns one.
func (m *Mirror) Close() {
	if m.closer != nil {
		m.closer()
	}
}

func (m *Mirror) publish(subject string, record interface{}) {
	data, err := json.Marshal(record)
	if err != nil {
		m.logger.Error("failed to encode mirror record", "subject", subject, "error", err)
		m.metrics.IncMirrorErrors()
		return
	}
	if err := m.pub.Publish(subject, data); err != nil {
		m.logger.Error("failed to publish to NATS", "subject", subject, "error", err)
		m.metrics.IncMirrorErrors()
		return
	}
	m.logger.Debug("mirrored", "subject", subject, "size", len(data))
}
