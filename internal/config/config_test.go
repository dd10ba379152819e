package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port from file, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.MaxRequests != 20 {
		t.Errorf("expected 20 requests per window, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("expected 60s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.MinSpacing != 3*time.Second {
		t.Errorf("expected 3s spacing, got %s", cfg.RateLimit.MinSpacing)
	}
	if cfg.Import.CheckpointEvery != 10 {
		t.Errorf("expected checkpoint every 10, got %d", cfg.Import.CheckpointEvery)
	}
	if cfg.Assets.Retries != 3 || cfg.Assets.BaseDelay != time.Second {
		t.Errorf("unexpected asset retry defaults: %d %s", cfg.Assets.Retries, cfg.Assets.BaseDelay)
	}
	if !cfg.Server.AllowAllOrigins {
		t.Error("expected all origins allowed by default")
	}
	if cfg.Database.ConnectionString() != "./data/shotguess.db" {
		t.Errorf("unexpected sqlite path %q", cfg.Database.ConnectionString())
	}
}

func TestLoadSecretFromEnv(t *testing.T) {
	t.Setenv("RAWG_API_KEY", "secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAWG.APIKey != "secret" {
		t.Errorf("expected api key from env, got %q", cfg.RAWG.APIKey)
	}
}
