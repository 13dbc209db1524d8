package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		delivery    Delivery
		wantPayload string
		wantErr     error
	}{
		{
			name:        "utf8 payload",
			delivery:    Static{TopicName: "sensors/temp", Body: []byte("21.5"), QoSLevel: 1},
			wantPayload: "21.5",
		},
		{
			name:        "invalid utf8 is escaped",
			delivery:    Static{TopicName: "bin", Body: []byte{0xff, 0xfe}},
			wantPayload: `\xff\xfe`,
		},
		{
			name:        "mixed valid and invalid bytes",
			delivery:    Static{TopicName: "bin", Body: []byte{'o', 'k', 0xc3, '!', 0xe2, 0x82, 0xac}},
			wantPayload: `ok\xc3!€`,
		},
		{
			name:        "empty payload",
			delivery:    Static{TopicName: "empty"},
			wantPayload: "",
		},
		{
			name:     "nil delivery",
			delivery: nil,
			wantErr:  ErrNilDelivery,
		},
		{
			name:     "qos out of range",
			delivery: Static{TopicName: "a", QoSLevel: 3},
			wantErr:  ErrInvalidQoS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := New(tt.delivery)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPayload, msg.Payload())
			assert.Equal(t, tt.wantPayload, msg.SearchText())
			assert.Equal(t, tt.delivery.Topic(), msg.Topic())
			assert.Equal(t, tt.delivery.Qos(), msg.QoS())
		})
	}
}

func TestMessageIsSnapshot(t *testing.T) {
	body := []byte("hello")
	before := time.Now()
	msg, err := New(Static{TopicName: "a/b", Body: body, QoSLevel: 2, Retain: true})
	require.NoError(t, err)

	body[0] = 'j'
	raw := msg.Raw()
	raw[1] = 'a'

	assert.Equal(t, "hello", msg.Payload())
	assert.Equal(t, []byte("hello"), msg.Raw())
	assert.True(t, msg.Retain())
	assert.Equal(t, byte(2), msg.QoS())
	assert.False(t, msg.ReceivedAt().Before(before))
	assert.Len(t, msg.Timestamp(), len(TimeLayout))
}

func TestDecodePayload(t *testing.T) {
	assert.Equal(t, "plain", DecodePayload([]byte("plain")))
	assert.Equal(t, `\x80`, DecodePayload([]byte{0x80}))
	assert.Equal(t, "�", DecodePayload([]byte("�")))
	assert.Equal(t, `a\xf0\x9fb`, DecodePayload([]byte{'a', 0xf0, 0x9f, 'b'}))
}
