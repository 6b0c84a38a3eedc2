package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.DBPath != "core.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Dispatch.RateWindow != time.Minute {
		t.Errorf("RateWindow = %v", cfg.Dispatch.RateWindow)
	}
	if cfg.Dispatch.PrefixLocal != "!" || cfg.Dispatch.PrefixCommunity != "#" {
		t.Errorf("prefixes = %q, %q", cfg.Dispatch.PrefixLocal, cfg.Dispatch.PrefixCommunity)
	}
	if cfg.Coordination.LeaseDuration != 30*time.Second {
		t.Errorf("LeaseDuration = %v", cfg.Coordination.LeaseDuration)
	}
	if cfg.Coordination.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Coordination.HeartbeatInterval)
	}
	if cfg.Coordination.ErrorThreshold != 5 || cfg.Coordination.ClaimLimit != 25 {
		t.Errorf("coordination = %+v", cfg.Coordination)
	}
	if cfg.RateRPS != 20.0 || cfg.RateBurst != 40 {
		t.Errorf("edge limits = %v, %d", cfg.RateRPS, cfg.RateBurst)
	}
	if cfg.WorkerToken != "" {
		t.Errorf("WorkerToken default should be empty, got %q", cfg.WorkerToken)
	}
	if cfg.OTEL.Enabled {
		t.Error("OTEL should default to disabled")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("API_BASE_PATH", "v2/")
	t.Setenv("DB_PATH", "/var/lib/core/core.db")
	t.Setenv("WORKER_AUTH_TOKEN", "hunter2")
	t.Setenv("DISPATCH_RATE_WINDOW", "30s")
	t.Setenv("DISPATCH_PREFIX_LOCAL", "~")
	t.Setenv("LEASE_DURATION", "1m")
	t.Setenv("HEARTBEAT_INTERVAL", "15s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RATE_RPS", "5.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" || cfg.GinMode != "debug" {
		t.Errorf("server = %q, %q", cfg.Port, cfg.GinMode)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.APIBasePath != "/v2" {
		t.Errorf("APIBasePath = %q, want /v2", cfg.APIBasePath)
	}
	if cfg.WorkerToken != "hunter2" {
		t.Errorf("WorkerToken = %q", cfg.WorkerToken)
	}
	if cfg.Dispatch.RateWindow != 30*time.Second || cfg.Dispatch.PrefixLocal != "~" {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Coordination.LeaseDuration != time.Minute || cfg.Coordination.HeartbeatInterval != 15*time.Second {
		t.Errorf("coordination = %+v", cfg.Coordination)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.RateRPS != 5.5 {
		t.Errorf("RateRPS = %v", cfg.RateRPS)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"zero rate window", "DISPATCH_RATE_WINDOW", "0s"},
		{"cap below base", "DISPATCH_BACKOFF_CAP", "1ms"},
		{"identical prefixes", "DISPATCH_PREFIX_COMMUNITY", "!"},
		{"heartbeat not shorter than lease", "HEARTBEAT_INTERVAL", "30s"},
		{"zero claim limit", "LEASE_CLAIM_LIMIT", "0"},
		{"zero error threshold", "LEASE_ERROR_THRESHOLD", "0"},
		{"zero burst", "RATE_BURST", "0"},
		{"sampler out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s should fail validation", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("READ_TIMEOUT", "not-a-duration")
	t.Setenv("MAX_HEADER_BYTES", "lots")
	t.Setenv("GIN_MODE", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	if cfg.MaxHeaderBytes != 1<<20 {
		t.Errorf("MaxHeaderBytes = %d", cfg.MaxHeaderBytes)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"api":     "/api",
		"/api/":   "/api",
		"/api/v1": "/api/v1",
		"  /x/ ":  "/x",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
