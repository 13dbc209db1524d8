// Package commands implements the mqttview command line.
package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"mqttview/config"
	"mqttview/internal/logger"
	"mqttview/internal/metrics"
)

// Flags holds the global flags and the services built from them in the
// Before hook.
type Flags struct {
	ConfigPath  string
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	Capacity    int
	LogLevel    string
	MetricsAddr string
	NATSURL     string

	Config   *config.Config
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// Overrides converts the flags into configuration overrides.
func (f *Flags) Overrides() config.Overrides {
	return config.Overrides{
		Host:        f.Host,
		Port:        f.Port,
		Username:    f.Username,
		Password:    f.Password,
		ClientID:    f.ClientID,
		Capacity:    f.Capacity,
		LogLevel:    f.LogLevel,
		MetricsAddr: f.MetricsAddr,
		NATSURL:     f.NATSURL,
	}
}

// Setup loads the configuration, applies the flag overrides and creates the
// logger and metrics.
func (f *Flags) Setup() error {
	cfg := config.Default()
	if f.ConfigPath != "" {
		loaded, err := config.Load(f.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	cfg.ApplyOverrides(f.Overrides())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m, err := metrics.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		f.Metrics, f.Registry = m, reg
	}

	f.Config, f.Logger = cfg, log
	return nil
}

// Sync flushes the logger.
func (f *Flags) Sync() {
	if f.Logger != nil {
		_ = f.Logger.Sync()
	}
}
