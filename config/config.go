package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Session SessionConfig `yaml:"session"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

type MQTTConfig struct {
	Host     string    `yaml:"host"`
	Port     int       `yaml:"port"`
	ClientID string    `yaml:"clientId"`
	Username string    `yaml:"username"`
	Password string    `yaml:"password"`
	TLS      TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enable   bool   `yaml:"enable"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile"`
}

type SessionConfig struct {
	Capacity         *int                 `yaml:"capacity"`         // 0 = unlimited
	ConnectTimeout   string               `yaml:"connectTimeout"`   // Duration string
	StopGrace        string               `yaml:"stopGrace"`        // Duration string
	HandshakeTimeout string               `yaml:"handshakeTimeout"` // Duration string
	Subscriptions    []SubscriptionConfig `yaml:"subscriptions"`
}

type SubscriptionConfig struct {
	Topic  string `yaml:"topic"`
	QoS    byte   `yaml:"qos"`
	Hidden bool   `yaml:"hidden"`
}

type LogConfig struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	OutputPath string `yaml:"outputPath"` // file path, "stdout" or "stderr"
	Encoding   string `yaml:"encoding"`   // json or console
	MaxSize    int    `yaml:"maxSize"`    // megabytes, file output only
	MaxAge     int    `yaml:"maxAge"`     // days
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type MirrorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
	Name          string `yaml:"name"`
}

const (
	DefaultPort             = 1883
	DefaultCapacity         = 10000
	DefaultConnectTimeout   = 2 * time.Second
	DefaultStopGrace        = time.Second
	DefaultHandshakeTimeout = 30 * time.Second
)

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	// Set defaults for mqtt
	if config.MQTT.Host == "" {
		config.MQTT.Host = "localhost"
	}
	if config.MQTT.Port == 0 {
		config.MQTT.Port = DefaultPort
	}

	// Set defaults for the session
	if config.Session.Capacity == nil {
		capacity := DefaultCapacity
		config.Session.Capacity = &capacity
	}
	if config.Session.ConnectTimeout == "" {
		config.Session.ConnectTimeout = DefaultConnectTimeout.String()
	}
	if config.Session.StopGrace == "" {
		config.Session.StopGrace = DefaultStopGrace.String()
	}
	if config.Session.HandshakeTimeout == "" {
		config.Session.HandshakeTimeout = DefaultHandshakeTimeout.String()
	}

	// Set defaults for logging
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.OutputPath == "" {
		config.Logging.OutputPath = "stderr"
	}
	if config.Logging.Encoding == "" {
		config.Logging.Encoding = "json"
	}

	// Set defaults for metrics
	if config.Metrics.Address == "" {
		config.Metrics.Address = ":2112"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	// Set defaults for the mirror
	if config.Mirror.URL == "" {
		config.Mirror.URL = "nats://localhost:4222"
	}
	if config.Mirror.SubjectPrefix == "" {
		config.Mirror.SubjectPrefix = "mqttview"
	}
	if config.Mirror.Name == "" {
		config.Mirror.Name = "mqttview"
	}
}

// Validate performs validation of all configuration values
func (cfg *Config) Validate() error {
	// Validate MQTT config
	if cfg.MQTT.Host == "" {
		return fmt.Errorf("mqtt host is required")
	}
	if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt port must be between 1 and 65535, got %d", cfg.MQTT.Port)
	}

	// Validate TLS config if enabled
	// The CA file is optional; the system pool is used without it.
	if cfg.MQTT.TLS.Enable && (cfg.MQTT.TLS.CertFile == "") != (cfg.MQTT.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert file and key file must be set together")
	}

	// Validate session config
	if cfg.Session.Capacity != nil && *cfg.Session.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	for name, value := range map[string]string{
		"connect timeout":   cfg.Session.ConnectTimeout,
		"stop grace":        cfg.Session.StopGrace,
		"handshake timeout": cfg.Session.HandshakeTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	for _, sub := range cfg.Session.Subscriptions {
		if sub.Topic == "" {
			return fmt.Errorf("subscription topic cannot be empty")
		}
		if sub.QoS > 2 {
			return fmt.Errorf("invalid qos %d for subscription %s", sub.QoS, sub.Topic)
		}
	}

	// Validate logging config
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	// Validate mirror config
	if cfg.Mirror.Enabled && cfg.Mirror.URL == "" {
		return fmt.Errorf("mirror url is required when mirror is enabled")
	}

	return nil
}

// ConnectTimeoutDuration returns the connection attempt deadline.
func (s SessionConfig) ConnectTimeoutDuration() time.Duration {
	return parseDuration(s.ConnectTimeout, DefaultConnectTimeout)
}

// StopGraceDuration returns how long a stopping worker is waited for.
func (s SessionConfig) StopGraceDuration() time.Duration {
	return parseDuration(s.StopGrace, DefaultStopGrace)
}

// HandshakeTimeoutDuration bounds the network handshake inside the client.
func (s SessionConfig) HandshakeTimeoutDuration() time.Duration {
	return parseDuration(s.HandshakeTimeout, DefaultHandshakeTimeout)
}

// CapacityValue returns the configured store capacity.
func (s SessionConfig) CapacityValue() int {
	if s.Capacity == nil {
		return DefaultCapacity
	}
	return *s.Capacity
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Overrides carries command line values; zero values leave the config untouched.
type Overrides struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	Capacity    int // negative = unset
	LogLevel    string
	MetricsAddr string
	NATSURL     string
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Host != "" {
		c.MQTT.Host = o.Host
	}
	if o.Port > 0 {
		c.MQTT.Port = o.Port
	}
	if o.Username != "" {
		c.MQTT.Username = o.Username
	}
	if o.Password != "" {
		c.MQTT.Password = o.Password
	}
	if o.ClientID != "" {
		c.MQTT.ClientID = o.ClientID
	}
	if o.Capacity >= 0 {
		capacity := o.Capacity
		c.Session.Capacity = &capacity
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.MetricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = o.MetricsAddr
	}
	if o.NATSURL != "" {
		c.Mirror.Enabled = true
		c.Mirror.URL = o.NATSURL
	}
}
