package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Crawler.SleepDuration != 4*time.Second {
		t.Errorf("sleepDuration = %v, want 4s", cfg.Crawler.SleepDuration)
	}
	if cfg.Crawler.RunBudget != 30*time.Second {
		t.Errorf("runBudget = %v, want 30s", cfg.Crawler.RunBudget)
	}
	if cfg.Crawler.BatchSize != 2 {
		t.Errorf("batchSize = %d, want 2", cfg.Crawler.BatchSize)
	}
	if len(cfg.Crawler.SeedCollections) != 1 || cfg.Crawler.SeedCollections[0] != "255dbed17b9e" {
		t.Errorf("seedCollections = %v", cfg.Crawler.SeedCollections)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("driver = %q, want sqlite", cfg.Storage.Driver)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
storage:
  driver: postgres
  postgres:
    host: db.internal
crawler:
  sleepDuration: 2s
  maxPasses: 1
  seedCollections: ["a", "b"]
api:
  clapThreshold: 500
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MC_POSTGRES_HOST", "override.internal")
	t.Setenv("MC_CRAWLER_RUN_BUDGET", "10s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != DriverPostgres {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Postgres.Host != "override.internal" {
		t.Errorf("host = %q, env override not applied", cfg.Storage.Postgres.Host)
	}
	if cfg.Storage.Postgres.Port != 5432 {
		t.Errorf("port = %d, default lost", cfg.Storage.Postgres.Port)
	}
	if cfg.Crawler.SleepDuration != 2*time.Second {
		t.Errorf("sleepDuration = %v", cfg.Crawler.SleepDuration)
	}
	if cfg.Crawler.RunBudget != 10*time.Second {
		t.Errorf("runBudget = %v", cfg.Crawler.RunBudget)
	}
	if cfg.Crawler.MaxPasses != 1 {
		t.Errorf("maxPasses = %d", cfg.Crawler.MaxPasses)
	}
	if got := cfg.Crawler.SeedCollections; len(got) != 2 || got[1] != "b" {
		t.Errorf("seedCollections = %v", got)
	}
	if cfg.API.ClapThreshold != 500 {
		t.Errorf("clapThreshold = %d", cfg.API.ClapThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"empty root", func(c *Config) { c.Crawler.RootURL = "" }},
		{"zero batch", func(c *Config) { c.Crawler.BatchSize = 0 }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
