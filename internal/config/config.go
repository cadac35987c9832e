// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full daemon configuration. Every field is settable via
// a CHMAP_-prefixed environment variable, e.g. CHMAP_HTTP_ADDR.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Kafka      KafkaConfig      `envconfig:"KAFKA"`
	Store      StoreConfig      `envconfig:"STORE"`
	Datadog    DatadogConfig    `envconfig:"DATADOG"`
}

// ClickHouseConfig covers the destination schema connection.
type ClickHouseConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:9000"`
	Database string `envconfig:"DATABASE" default:"default"`
	Username string `envconfig:"USERNAME" default:"default"`
	Password string `envconfig:"PASSWORD"`
	Secure   bool   `envconfig:"SECURE"`
}

// KafkaConfig covers the sampling connection.
type KafkaConfig struct {
	Brokers  []string `envconfig:"BROKERS" default:"localhost:9092"`
	Username string   `envconfig:"USERNAME"`
	Password string   `envconfig:"PASSWORD"`
	UseTLS   bool     `envconfig:"TLS"`
}

// StoreConfig selects the mapping persistence backend.
type StoreConfig struct {
	Kind string `envconfig:"KIND" default:"sqlite"`
	DSN  string `envconfig:"DSN" default:"chmap.db"`
}

// DatadogConfig toggles metrics submission. Credentials come from the
// standard DD_API_KEY environment read by the Datadog client itself.
type DatadogConfig struct {
	Enabled bool   `envconfig:"ENABLED"`
	Service string `envconfig:"SERVICE" default:"chmap"`
	Tags    string `envconfig:"TAGS"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("chmap", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: no kafka brokers configured")
	}
	if c.Store.Kind == "" {
		return fmt.Errorf("config: empty store kind")
	}
	return nil
}
