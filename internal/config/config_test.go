package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"BATCH_SIZE", "MAX_DOCS", "EXPORT_FORMAT", "SINK_PROVIDER", "BQ_POLL_INTERVAL", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 1000 || cfg.MaxDocs != 0 || cfg.ExportFormat != "jsonl" || cfg.SinkProvider != "gcs" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BQPollInterval != 2*time.Second {
		t.Fatalf("poll interval = %s", cfg.BQPollInterval)
	}
	if cfg.Brokers() != nil {
		t.Fatalf("expected no brokers, got %v", cfg.Brokers())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("MAX_DOCS", "5000")
	t.Setenv("EXPORT_FORMAT", "PARQUET")
	t.Setenv("MONGO_EXACT_COUNT", "yes")
	t.Setenv("BQ_POLL_INTERVAL", "5")
	t.Setenv("MONGO_CONNECT_TIMEOUT", "1500ms")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 250 || cfg.MaxDocs != 5000 || cfg.ExportFormat != "parquet" || !cfg.MongoExactCount {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BQPollInterval != 5*time.Second || cfg.MongoConnectTimeout != 1500*time.Millisecond {
		t.Fatalf("durations: %s %s", cfg.BQPollInterval, cfg.MongoConnectTimeout)
	}
	if b := cfg.Brokers(); len(b) != 2 || b[0] != "a:9092" || b[1] != "b:9092" {
		t.Fatalf("brokers = %v", b)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"BATCH_SIZE":    "0",
		"MAX_DOCS":      "-1",
		"EXPORT_FORMAT": "csv",
		"SINK_PROVIDER": "ftp",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s should fail", key, val)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	var c Config
	if err := c.Require("BUCKET_NAME", "  "); err == nil {
		t.Fatal("blank value should be reported")
	}
	if err := c.Require("BUCKET_NAME", "b"); err != nil {
		t.Fatal(err)
	}
}
