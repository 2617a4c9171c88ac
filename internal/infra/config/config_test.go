package config

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("RETRY_BACKOFF", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Fatalf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[2] != 30*time.Second {
		t.Fatalf("unexpected backoff %v", cfg.RetryBackoff)
	}
	if cfg.SendRatePerMinute != 60 {
		t.Fatalf("unexpected send rate %d", cfg.SendRatePerMinute)
	}
	if cfg.ScyllaConsistency != gocql.Quorum {
		t.Fatalf("unexpected consistency %v", cfg.ScyllaConsistency)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RETRY_BACKOFF", "10ms, 20ms")
	t.Setenv("LOOKUP_CACHE_TTL", "1m")
	t.Setenv("S3_USE_SSL", "yes")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != StoreMongo {
		t.Fatalf("expected mongo driver, got %q", cfg.StoreDriver)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if len(cfg.RetryBackoff) != 2 || cfg.RetryBackoff[0] != 10*time.Millisecond {
		t.Fatalf("unexpected backoff %v", cfg.RetryBackoff)
	}
	if cfg.LookupCacheTTL != time.Minute || !cfg.S3UseSSL {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "sqlite"}},
		{name: "mongo without uri", env: map[string]string{"STORE_DRIVER": "mongo", "MONGO_URI": ""}},
		{name: "bad duration", env: map[string]string{"LOOKUP_CACHE_TTL": "soon"}},
		{name: "bad backoff", env: map[string]string{"RETRY_BACKOFF": "1s,never"}},
		{name: "bad bool", env: map[string]string{"S3_USE_SSL": "maybe"}},
		{name: "bad consistency", env: map[string]string{"SCYLLA_CONSISTENCY": "two"}},
		{name: "zero rate", env: map[string]string{"SEND_RATE_PER_MINUTE": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
