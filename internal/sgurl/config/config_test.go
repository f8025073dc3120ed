package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/sgurl/internal/sgurl/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %q", cfg.LogLevel)
	}
	if cfg.StorePath != "/var/lib/sgurl/sgurl.db" {
		t.Errorf("expected StorePath default, got %q", cfg.StorePath)
	}
	if cfg.Cloud() != domain.CloudEndpoint {
		t.Errorf("expected cloud endpoint %q, got %q", domain.CloudEndpoint, cfg.Cloud())
	}
	if !cfg.SelfHosted().IsZero() {
		t.Errorf("expected no self-hosted seed, got %q", cfg.SelfHosted())
	}
	if cfg.ProbeTimeout != 10*time.Second {
		t.Errorf("expected ProbeTimeout=10s, got %v", cfg.ProbeTimeout)
	}
	if cfg.CacheSize != 1000 || cfg.BlocklistCacheSize != 1000 {
		t.Errorf("unexpected cache sizes %d/%d", cfg.CacheSize, cfg.BlocklistCacheSize)
	}
	if cfg.BloomFPRate != 0.01 {
		t.Errorf("expected BloomFPRate=0.01, got %v", cfg.BloomFPRate)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("SGURL_ENV", "dev")
	t.Setenv("SGURL_LOG_LEVEL", "debug")
	t.Setenv("SGURL_STORE_PATH", "/tmp/sgurl.db")
	t.Setenv("SGURL_CLOUD_URL", "https://Sourcegraph.com/")
	t.Setenv("SGURL_SELF_HOSTED_URL", "https://sourcegraph.example.com/")
	t.Setenv("SGURL_ACCESS_TOKEN", " sgp_abc ")
	t.Setenv("SGURL_PROBE_TIMEOUT", "250ms")
	t.Setenv("SGURL_CACHE_SIZE", "64")
	t.Setenv("SGURL_BLOOM_FP_RATE", "0.001")
	t.Setenv("SGURL_BLOCKLIST_CACHE_SIZE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Env != "dev" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected env/log level %q/%q", cfg.Env, cfg.LogLevel)
	}
	if cfg.StorePath != "/tmp/sgurl.db" {
		t.Errorf("unexpected StorePath %q", cfg.StorePath)
	}
	if cfg.Cloud() != domain.CloudEndpoint {
		t.Errorf("cloud not normalized: %q", cfg.Cloud())
	}
	if cfg.SelfHosted() != "https://sourcegraph.example.com" {
		t.Errorf("self-hosted not normalized: %q", cfg.SelfHosted())
	}
	if cfg.AccessToken != "sgp_abc" {
		t.Errorf("expected trimmed token, got %q", cfg.AccessToken)
	}
	if cfg.ProbeTimeout != 250*time.Millisecond {
		t.Errorf("expected ProbeTimeout=250ms, got %v", cfg.ProbeTimeout)
	}
	if cfg.CacheSize != 64 || cfg.BlocklistCacheSize != 0 {
		t.Errorf("unexpected cache sizes %d/%d", cfg.CacheSize, cfg.BlocklistCacheSize)
	}
	if cfg.BloomFPRate != 0.001 {
		t.Errorf("unexpected BloomFPRate %v", cfg.BloomFPRate)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad env", "SGURL_ENV", "staging"},
		{"bad log level", "SGURL_LOG_LEVEL", "loud"},
		{"cloud without scheme", "SGURL_CLOUD_URL", "sourcegraph.com"},
		{"self-hosted bad scheme", "SGURL_SELF_HOSTED_URL", "ftp://sg.example.com"},
		{"negative cache", "SGURL_CACHE_SIZE", "-1"},
		{"fp rate too high", "SGURL_BLOOM_FP_RATE", "1.5"},
		{"negative timeout", "SGURL_PROBE_TIMEOUT", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), "validation failed") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoad_UnparsableValue(t *testing.T) {
	t.Setenv("SGURL_PROBE_TIMEOUT", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "unmarshalling") {
		t.Fatalf("expected unmarshal error, got %v", err)
	}
}

func TestLoad_LoaderErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("defaults", func(t *testing.T) {
		orig := defaultLoader
		defer func() { defaultLoader = orig }()
		defaultLoader = func(*koanf.Koanf) error { return boom }
		if _, err := Load(); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped boom, got %v", err)
		}
	})

	t.Run("env", func(t *testing.T) {
		orig := envLoader
		defer func() { envLoader = orig }()
		envLoader = func(*koanf.Koanf) error { return boom }
		if _, err := Load(); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped boom, got %v", err)
		}
	})

	t.Run("validation registration", func(t *testing.T) {
		orig := registerValidation
		defer func() { registerValidation = orig }()
		registerValidation = func(*validator.Validate) error { return boom }
		if _, err := Load(); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped boom, got %v", err)
		}
	})
}
