// Package config centralises runtime configuration for groundfault
// producers and the recorder.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// TransportConfig declares the wire between producers and the recorder.
type TransportConfig struct {
	// Endpoint is the NATS URL, e.g. nats://127.0.0.1:4222. Empty selects
	// the in-memory channel (single-process mode).
	Endpoint string `yaml:"endpoint"`
	Subject  string `yaml:"subject"`
	// IntakeBuffer bounds the recorder-side subscription channel.
	IntakeBuffer int `yaml:"intakeBuffer"`
}

// SenderConfig shapes the producer-side dispatcher.
type SenderConfig struct {
	QueueDepth int `yaml:"queueDepth"`
	// RatePerSecond caps outbound envelopes; zero disables limiting.
	RatePerSecond float64 `yaml:"ratePerSecond"`
	RateBurst     int     `yaml:"rateBurst"`
}

// RecorderConfig shapes the ingest loop.
type RecorderConfig struct {
	FlushInterval time.Duration `yaml:"flushInterval"`
	PollSleep     time.Duration `yaml:"pollSleep"`
}

// DatabaseConfig names the recorder's Postgres instance.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// TelemetryConfig declares the OTLP metrics exporter; empty disables it.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Settings is the full configuration tree.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Transport   TransportConfig   `yaml:"transport"`
	Sender      SenderConfig      `yaml:"sender"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	Database    DatabaseConfig    `yaml:"database"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Tags        map[string]string `yaml:"tags"`
}

// Default returns the baseline configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Transport: TransportConfig{
			Subject:      "groundfault.events",
			IntakeBuffer: 1024,
		},
		Sender: SenderConfig{
			QueueDepth: 256,
		},
		Recorder: RecorderConfig{
			FlushInterval: 5 * time.Second,
			PollSleep:     200 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			Service: "groundfault-recorder",
		},
	}
}

// FromEnv loads configuration from environment variables over defaults.
func FromEnv() Settings {
	cfg := Default()
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_TRANSPORT_ENDPOINT")); v != "" {
		cfg.Transport.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_TRANSPORT_SUBJECT")); v != "" {
		cfg.Transport.Subject = v
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_INTAKE_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Transport.IntakeBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_SEND_QUEUE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sender.QueueDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_SEND_RATE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Sender.RatePerSecond = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_FLUSH_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.Recorder.FlushInterval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_POLL_SLEEP")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.Recorder.PollSleep = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_DATABASE_URL")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("GROUNDFAULT_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	return cfg
}

// Load reads a YAML configuration file over FromEnv values. An empty path
// falls back to GROUNDFAULT_CONFIG, then to env-only configuration.
func Load(path string) (Settings, error) {
	cfg := FromEnv()
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GROUNDFAULT_CONFIG"))
	}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate performs semantic validation on the configuration tree.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Transport.Subject) == "" {
		return fmt.Errorf("transport subject required")
	}
	if s.Transport.IntakeBuffer < 0 {
		return fmt.Errorf("intake buffer must be >= 0")
	}
	if s.Sender.QueueDepth <= 0 {
		return fmt.Errorf("sender queue depth must be > 0")
	}
	if s.Sender.RatePerSecond < 0 {
		return fmt.Errorf("sender rate must be >= 0")
	}
	if s.Recorder.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be > 0")
	}
	if s.Recorder.PollSleep <= 0 {
		return fmt.Errorf("poll sleep must be > 0")
	}
	return nil
}
