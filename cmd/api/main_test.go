package main

import (
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("expected default CORS *, got %s", cfg.CORSOrigin)
	}
	if cfg.Collection != "policies" {
		t.Fatalf("expected default collection policies, got %s", cfg.Collection)
	}
	if cfg.OllamaURL != "" || cfg.QdrantURL != "" || cfg.NATSURL != "" {
		t.Fatal("remote backends should be disabled by default")
	}
	if cfg.BatchWorkers != 4 {
		t.Fatalf("expected 4 batch workers, got %d", cfg.BatchWorkers)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}

	t.Setenv("TEST_ENV_INT", "12")
	if v := envInt("TEST_ENV_INT", 5); v != 12 {
		t.Fatalf("expected 12, got %d", v)
	}
	t.Setenv("TEST_ENV_INT", "not a number")
	if v := envInt("TEST_ENV_INT", 5); v != 5 {
		t.Fatalf("expected fallback 5, got %d", v)
	}

	t.Setenv("TEST_ENV_FLOAT", "2.5")
	if v := envFloat("TEST_ENV_FLOAT", 1); v != 2.5 {
		t.Fatalf("expected 2.5, got %v", v)
	}
}
