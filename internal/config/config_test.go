package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("INDEXER_POLL_INTERVAL", "30s"); err != nil {
		t.Fatalf("Failed to set INDEXER_POLL_INTERVAL: %v", err)
	}
	if err := os.Setenv("CHAIN_START_BLOCK", "12345"); err != nil {
		t.Fatalf("Failed to set CHAIN_START_BLOCK: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("INDEXER_POLL_INTERVAL")
		_ = os.Unsetenv("CHAIN_START_BLOCK")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Indexer.PollInterval != 30*time.Second {
		t.Errorf("Indexer.PollInterval = %v, want %v", cfg.Indexer.PollInterval, 30*time.Second)
	}
	if cfg.Chain.StartBlock != 12345 {
		t.Errorf("Chain.StartBlock = %v, want 12345", cfg.Chain.StartBlock)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Indexer.Confirmations != 6 {
		t.Errorf("Indexer.Confirmations = %d, want default 6", cfg.Indexer.Confirmations)
	}
	if cfg.Indexer.ReorgRewind != 64 {
		t.Errorf("Indexer.ReorgRewind = %d, want default 64", cfg.Indexer.ReorgRewind)
	}
	if cfg.Drift.SampleSize != 50 {
		t.Errorf("Drift.SampleSize = %d, want default 50", cfg.Drift.SampleSize)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"parses valid integer", "42", 7, 42},
		{"falls back on empty", "", 7, 7},
		{"falls back on garbage", "not-a-number", 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv("TEST_INT_KEY", tt.envValue); err != nil {
					t.Fatalf("Failed to set env: %v", err)
				}
				defer func() { _ = os.Unsetenv("TEST_INT_KEY") }()
			}
			if got := getEnvAsInt("TEST_INT_KEY", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	if err := os.Setenv("TEST_DURATION_KEY", "90s"); err != nil {
		t.Fatalf("Failed to set env: %v", err)
	}
	defer func() { _ = os.Unsetenv("TEST_DURATION_KEY") }()

	if got := getEnvAsDuration("TEST_DURATION_KEY", time.Second); got != 90*time.Second {
		t.Errorf("getEnvAsDuration() = %v, want 90s", got)
	}
	if got := getEnvAsDuration("TEST_DURATION_MISSING", 5*time.Second); got != 5*time.Second {
		t.Errorf("getEnvAsDuration() default = %v, want 5s", got)
	}
}
