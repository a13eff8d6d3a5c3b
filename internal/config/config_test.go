package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("API_ADDR", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("IDENTITY_PROVIDER", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg := Load()
	if cfg.Addr != ":5000" || cfg.Env != "development" || cfg.IsProduction() {
		t.Fatalf("unexpected defaults: addr=%q env=%q", cfg.Addr, cfg.Env)
	}
	if cfg.IdentityProvider != IdentityLocal {
		t.Fatalf("identity provider = %q", cfg.IdentityProvider)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("trusted proxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("CORS_ORIGINS", "https://a.example.edu, https://b.example.edu ,")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "60")
	t.Setenv("PRESENCE_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("IDENTITY_PROVIDER", "Firebase")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")

	cfg := Load()
	if !cfg.IsProduction() {
		t.Fatal("expected production")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.edu" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Fatalf("rate limit window = %v", cfg.RateLimitWindow)
	}
	if cfg.PresenceTimeout != 90*time.Second {
		t.Fatalf("bad int should fall back, got %v", cfg.PresenceTimeout)
	}
	if cfg.IdentityProvider != IdentityFirebase {
		t.Fatalf("identity provider = %q", cfg.IdentityProvider)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("trusted proxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("EMAIL_FROM_NAME=Dept Bot\nAPI_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("API_ADDR", ":7000")
	t.Setenv("EMAIL_FROM_NAME", "")
	os.Unsetenv("EMAIL_FROM_NAME")

	cfg := Load()
	if cfg.Addr != ":7000" {
		t.Fatalf("environment should win over .env, got %q", cfg.Addr)
	}
	if cfg.EmailFromName != "Dept Bot" {
		t.Fatalf(".env value not loaded, got %q", cfg.EmailFromName)
	}
}
