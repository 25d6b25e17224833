package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.WriteTimeout != 0 {
		t.Errorf("Write timeout must stay disabled for streaming, got %v", cfg.HTTP.WriteTimeout)
	}
	if cfg.Engine.URL != "http://localhost:2024" {
		t.Errorf("Unexpected default engine URL: %s", cfg.Engine.URL)
	}
	if cfg.Engine.RetryAttempts != 3 {
		t.Errorf("Expected default 3 retry attempts, got %d", cfg.Engine.RetryAttempts)
	}
	if cfg.RedisEnabled() {
		t.Error("Redis should be disabled without REDIS_URL")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ENGINE_REQUEST_TIMEOUT_SECONDS", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("Expected port override 9090, got %d", cfg.HTTP.Port)
	}
	if !cfg.RedisEnabled() {
		t.Error("Expected Redis enabled with REDIS_URL set")
	}
	if cfg.Engine.RequestTimeout != 120*time.Second {
		t.Errorf("Expected request timeout 120s, got %v", cfg.Engine.RequestTimeout)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid PORT")
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		HTTP:   HTTPConfig{Port: 8080},
		Engine: EngineConfig{URL: "http://localhost:2024", RetryAttempts: 3},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"bad port", Config{HTTP: HTTPConfig{Port: 0}, Engine: EngineConfig{URL: "http://x", RetryAttempts: 1}}},
		{"missing engine url", Config{HTTP: HTTPConfig{Port: 8080}, Engine: EngineConfig{RetryAttempts: 1}}},
		{"zero retries", Config{HTTP: HTTPConfig{Port: 8080}, Engine: EngineConfig{URL: "http://x"}}},
	}

	for _, tc := range cases {
		if err := tc.cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation failure", tc.name)
		}
	}
}
