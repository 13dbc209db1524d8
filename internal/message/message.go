// Package message holds immutable snapshots of messages received from the broker.
package message

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// TimeLayout is the layout used by Message.Timestamp.
const TimeLayout = "2006-01-02 15:04:05"

var (
	// ErrNilDelivery is returned when New is given no delivery.
	ErrNilDelivery = errors.New("nil delivery")
	// ErrInvalidQoS is returned when a delivery carries a QoS above 2.
	ErrInvalidQoS = errors.New("invalid qos")
)

// Delivery is the raw record handed over by the broker client.
// paho's mqtt.Message satisfies it.
type Delivery interface {
	Topic() string
	Payload() []byte
	Qos() byte
	Retained() bool
}

// Message is a received broker message. It is never mutated after New.
type Message struct {
	topic      string
	payload    string
	raw        []byte
	qos        byte
	retain     bool
	receivedAt time.Time
}

// New builds a Message from a delivery, stamping it with the current time.
// Payload bytes that are not valid UTF-8 are rendered as \xNN escapes.
func New(d Delivery) (*Message, error) {
	if d == nil {
		return nil, ErrNilDelivery
	}
	if d.Qos() > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, d.Qos())
	}

	raw := append([]byte(nil), d.Payload()...)
	return &Message{
		topic:      d.Topic(),
		payload:    DecodePayload(raw),
		raw:        raw,
		qos:        d.Qos(),
		retain:     d.Retained(),
		receivedAt: time.Now(),
	}, nil
}

// DecodePayload decodes b as UTF-8, escaping every byte that is not part of
// a valid sequence as \xNN. It never fails.
func DecodePayload(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b) + len(b)/2)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			fmt.Fprintf(&sb, `\x%02x`, b[0])
			b = b[1:]
			continue
		}
		sb.Write(b[:size])
		b = b[size:]
	}
	return sb.String()
}

func (m *Message) Topic() string { return m.topic }

// Payload returns the decoded payload text.
func (m *Message) Payload() string { return m.payload }

// Raw returns a copy of the payload bytes as delivered.
func (m *Message) Raw() []byte { return append([]byte(nil), m.raw...) }

func (m *Message) QoS() byte { return m.qos }

func (m *Message) Retain() bool { return m.retain }

func (m *Message) ReceivedAt() time.Time { return m.receivedAt }

// Timestamp is the receipt time formatted with TimeLayout in local time.
func (m *Message) Timestamp() string { return m.receivedAt.Local().Format(TimeLayout) }

// SearchText is the text shown for the message and matched by searches.
func (m *Message) SearchText() string { return m.payload }

func (m *Message) String() string {
	return fmt.Sprintf("Message(topic=%s, payload=%s)", m.topic, m.payload)
}
