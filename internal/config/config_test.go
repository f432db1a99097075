package config

import (
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Port != "8080" {
		t.Fatalf("Port=%q want=8080", cfg.Port)
	}
	if cfg.StoreMode != "memory" {
		t.Fatalf("StoreMode=%q want=memory", cfg.StoreMode)
	}
	if cfg.ErrorThreshold != 10 {
		t.Fatalf("ErrorThreshold=%d want=10", cfg.ErrorThreshold)
	}
	if cfg.MinAccountDelaySeconds != 5 {
		t.Fatalf("MinAccountDelaySeconds=%d want=5", cfg.MinAccountDelaySeconds)
	}
	if len(cfg.AllowedFollowHosts) != 2 {
		t.Fatalf("AllowedFollowHosts=%v want 2 entries", cfg.AllowedFollowHosts)
	}
	if cfg.RequestTimeoutSeconds != 30 {
		t.Fatalf("RequestTimeoutSeconds=%d want=30", cfg.RequestTimeoutSeconds)
	}
	if cfg.ServerID != "default" {
		t.Fatalf("ServerID=%q want=default", cfg.ServerID)
	}
}

func TestApplyDefaultsGeneratesRandomPassword(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.AdminPass == "" {
		t.Fatal("AdminPass should not be empty after ApplyDefaults")
	}
	if len(cfg.AdminPass) < 16 {
		t.Fatalf("AdminPass too short: got %d chars, want at least 16", len(cfg.AdminPass))
	}

	var cfg2 Config
	ApplyDefaults(&cfg2)
	if cfg.AdminPass == cfg2.AdminPass {
		t.Fatal("two calls to ApplyDefaults should generate different passwords")
	}
}

func TestApplyDefaultsGeneratesRandomSecretKey(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.SecretKeyB64 == "" {
		t.Fatal("SecretKeyB64 should not be empty after ApplyDefaults")
	}

	var cfg2 Config
	ApplyDefaults(&cfg2)
	if cfg.SecretKeyB64 == cfg2.SecretKeyB64 {
		t.Fatal("two calls to ApplyDefaults should generate different secret keys")
	}
}

func TestApplyHardcodedIsANoOp(t *testing.T) {
	cfg := Config{ErrorThreshold: 999, OptimusPrime: 7}
	ApplyHardcoded(&cfg)

	if cfg.ErrorThreshold != 999 {
		t.Fatalf("ErrorThreshold=%d want=999 (ApplyHardcoded must not touch configurable fields)", cfg.ErrorThreshold)
	}
	if cfg.OptimusPrime != 7 {
		t.Fatalf("OptimusPrime=%d want=7", cfg.OptimusPrime)
	}
}

func TestApplyDefaultsPreservesConfigurableFields(t *testing.T) {
	cfg := Config{
		Port:               "9090",
		AdminUser:          "myuser",
		AdminPass:          "mypass",
		RedisAddr:          "redis:6380",
		AllowedFollowHosts: []string{"only.example.com"},
		OptimusPrime:       42,
	}
	ApplyDefaults(&cfg)

	if cfg.Port != "9090" {
		t.Fatalf("Port=%q want=9090", cfg.Port)
	}
	if cfg.AdminUser != "myuser" {
		t.Fatalf("AdminUser=%q want=myuser", cfg.AdminUser)
	}
	if cfg.AdminPass != "mypass" {
		t.Fatalf("AdminPass=%q want=mypass", cfg.AdminPass)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Fatalf("RedisAddr=%q want=redis:6380", cfg.RedisAddr)
	}
	if len(cfg.AllowedFollowHosts) != 1 || cfg.AllowedFollowHosts[0] != "only.example.com" {
		t.Fatalf("AllowedFollowHosts=%v want [only.example.com]", cfg.AllowedFollowHosts)
	}
	if cfg.OptimusPrime != 42 {
		t.Fatalf("OptimusPrime=%d want=42", cfg.OptimusPrime)
	}
}

func TestLoadWithoutPathAppliesDefaults(t *testing.T) {
	cfg, loadedFromFile, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedFromFile {
		t.Fatal("expected loadedFromFile=false for an empty path")
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port=%q want=8080", cfg.Port)
	}
}

func TestLoadMissingFileAppliesDefaults(t *testing.T) {
	cfg, loadedFromFile, err := Load("/nonexistent/path/to/config.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedFromFile {
		t.Fatal("expected loadedFromFile=false for a missing file")
	}
	if cfg.StoreMode != "memory" {
		t.Fatalf("StoreMode=%q want=memory", cfg.StoreMode)
	}
}
