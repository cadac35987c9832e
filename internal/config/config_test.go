package config

import "testing"

func setAll(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.DSN != "chmap.db" {
		t.Errorf("store defaults wrong: %+v", cfg.Store)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("kafka defaults wrong: %+v", cfg.Kafka)
	}
	if cfg.ClickHouse.Addr != "localhost:9000" {
		t.Errorf("clickhouse defaults wrong: %+v", cfg.ClickHouse)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	setAll(t, map[string]string{
		"CHMAP_HTTP_ADDR":           ":9999",
		"CHMAP_LOG_LEVEL":           "debug",
		"CHMAP_CLICKHOUSE_ADDR":     "ch:9440",
		"CHMAP_CLICKHOUSE_SECURE":   "true",
		"CHMAP_KAFKA_BROKERS":       "b1:9092,b2:9092",
		"CHMAP_STORE_KIND":          "postgres",
		"CHMAP_STORE_DSN":           "postgres://u:p@db/chmap",
		"CHMAP_DATADOG_ENABLED":     "true",
		"CHMAP_DATADOG_TAGS":        "env:test",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddr != ":9999" || cfg.LogLevel != "debug" {
		t.Errorf("top-level overrides lost: %+v", cfg)
	}
	if !cfg.ClickHouse.Secure || cfg.ClickHouse.Addr != "ch:9440" {
		t.Errorf("clickhouse overrides lost: %+v", cfg.ClickHouse)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("broker list not split: %+v", cfg.Kafka.Brokers)
	}
	if cfg.Store.Kind != "postgres" {
		t.Errorf("store overrides lost: %+v", cfg.Store)
	}
	if !cfg.Datadog.Enabled || cfg.Datadog.Tags != "env:test" {
		t.Errorf("datadog overrides lost: %+v", cfg.Datadog)
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("CHMAP_LOG_LEVEL", "loud")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted unknown log level")
	}
}
