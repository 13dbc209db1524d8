package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(*Config) {}, false},
		{"Port too low", func(c *Config) { c.MQTT.Port = 0 }, true},
		{"Port too high", func(c *Config) { c.MQTT.Port = 65536 }, true},
		{"Port upper bound", func(c *Config) { c.MQTT.Port = 65535 }, false},
		{"Empty host", func(c *Config) { c.MQTT.Host = "" }, true},
		{"TLS without client certificate", func(c *Config) { c.MQTT.TLS.Enable = true }, false},
		{"TLS cert without key", func(c *Config) {
			c.MQTT.TLS = TLSConfig{Enable: true, CertFile: "c"}
		}, true},
		{"TLS with files", func(c *Config) {
			c.MQTT.TLS = TLSConfig{Enable: true, CertFile: "c", KeyFile: "k", CAFile: "ca"}
		}, false},
		{"Negative capacity", func(c *Config) { c.Session.Capacity = intPtr(-1) }, true},
		{"Unlimited capacity", func(c *Config) { c.Session.Capacity = intPtr(0) }, false},
		{"Bad connect timeout", func(c *Config) { c.Session.ConnectTimeout = "soon" }, true},
		{"Zero stop grace", func(c *Config) { c.Session.StopGrace = "0s" }, true},
		{"Empty subscription", func(c *Config) {
			c.Session.Subscriptions = []SubscriptionConfig{{Topic: ""}}
		}, true},
		{"Subscription qos", func(c *Config) {
			c.Session.Subscriptions = []SubscriptionConfig{{Topic: "a", QoS: 3}}
		}, true},
		{"Bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"Bad encoding", func(c *Config) { c.Logging.Encoding = "xml" }, true},
		{"Mirror without url", func(c *Config) {
			c.Mirror.Enabled = true
			c.Mirror.URL = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		wantErr  bool
		validate func(*testing.T, *Config)
	}{
		{
			name: "Full config",
			content: `
mqtt:
  host: broker.local
  port: 8883
  username: alice
  password: secret
  clientId: viewer-1
session:
  capacity: 500
  connectTimeout: 3s
  stopGrace: 500ms
  subscriptions:
    - topic: sensors/#
      qos: 1
    - topic: debug/+
      hidden: true
logging:
  level: debug
  encoding: console
metrics:
  enabled: true
mirror:
  enabled: true
  url: nats://nats:4222
`,
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, "broker.local", c.MQTT.Host)
				assert.Equal(t, 8883, c.MQTT.Port)
				assert.Equal(t, "alice", c.MQTT.Username)
				assert.Equal(t, 500, c.Session.CapacityValue())
				assert.Equal(t, 3*time.Second, c.Session.ConnectTimeoutDuration())
				assert.Equal(t, 500*time.Millisecond, c.Session.StopGraceDuration())
				assert.Equal(t, DefaultHandshakeTimeout, c.Session.HandshakeTimeoutDuration())
				require.Len(t, c.Session.Subscriptions, 2)
				assert.Equal(t, byte(1), c.Session.Subscriptions[0].QoS)
				assert.True(t, c.Session.Subscriptions[1].Hidden)
				assert.Equal(t, ":2112", c.Metrics.Address)
				assert.Equal(t, "/metrics", c.Metrics.Path)
				assert.Equal(t, "nats://nats:4222", c.Mirror.URL)
				assert.Equal(t, "mqttview", c.Mirror.SubjectPrefix)
			},
		},
		{
			name:    "Defaults applied",
			content: "mqtt:\n  host: example\n",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultPort, c.MQTT.Port)
				assert.Equal(t, DefaultCapacity, c.Session.CapacityValue())
				assert.Equal(t, DefaultConnectTimeout, c.Session.ConnectTimeoutDuration())
				assert.Equal(t, DefaultStopGrace, c.Session.StopGraceDuration())
				assert.Equal(t, "info", c.Logging.Level)
			},
		},
		{
			name:    "Explicit unlimited capacity",
			content: "session:\n  capacity: 0\n",
			validate: func(t *testing.T, c *Config) {
				assert.Equal(t, 0, c.Session.CapacityValue())
			},
		},
		{
			name:    "Invalid port",
			content: "mqtt:\n  port: 70000\n",
			wantErr: true,
		},
		{
			name:    "Malformed yaml",
			content: "mqtt: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(configPath)
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if err == nil && tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{Capacity: -1})
	assert.Equal(t, DefaultCapacity, cfg.Session.CapacityValue())
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Mirror.Enabled)

	cfg.ApplyOverrides(Overrides{
		Host:        "10.0.0.1",
		Port:        1884,
		Username:    "bob",
		Password:    "pw",
		ClientID:    "cli",
		Capacity:    0,
		LogLevel:    "debug",
		MetricsAddr: ":9000",
		NATSURL:     "nats://x:4222",
	})

	assert.Equal(t, "10.0.0.1", cfg.MQTT.Host)
	assert.Equal(t, 1884, cfg.MQTT.Port)
	assert.Equal(t, "bob", cfg.MQTT.Username)
	assert.Equal(t, "pw", cfg.MQTT.Password)
	assert.Equal(t, "cli", cfg.MQTT.ClientID)
	assert.Equal(t, 0, cfg.Session.CapacityValue())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9000", cfg.Metrics.Address)
	assert.True(t, cfg.Mirror.Enabled)
	assert.Equal(t, "nats://x:4222", cfg.Mirror.URL)
	assert.NoError(t, cfg.Validate())
}
