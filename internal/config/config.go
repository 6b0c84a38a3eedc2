// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, dispatch and coordination
// tuning, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-automation-core")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DispatchConfig tunes the command dispatch engine.
type DispatchConfig struct {
	RateWindow      time.Duration // sliding-window size for per-command quotas
	BackoffBase     time.Duration // first retry delay
	BackoffCap      time.Duration // retry delay ceiling
	PrefixLocal     string        // default local command prefix
	PrefixCommunity string        // default community command prefix
	HandlerToken    string        // bearer token sent to auth-required handlers
}

// CoordinationConfig tunes the entity lease service.
type CoordinationConfig struct {
	LeaseDuration     time.Duration // validity of one claim or renewal
	HeartbeatInterval time.Duration // default worker heartbeat cadence
	ErrorThreshold    int           // consecutive errors before a lease parks
	ClaimLimit        int           // max leases handed out per claim call
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath           string // SQLite path
	OverlayIngestURL string // optional external overlay ingest endpoint
	WorkerToken      string // shared token collector workers present; empty disables auth

	// Engines
	Dispatch     DispatchConfig
	Coordination CoordinationConfig

	// Edge rate limiting (protects the HTTP surface, distinct from the
	// per-command quotas the dispatch engine enforces)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:           getenv("DB_PATH", "core.db"),
		OverlayIngestURL: getenv("OVERLAY_INGEST_URL", ""),
		WorkerToken:      getenv("WORKER_AUTH_TOKEN", ""),

		// Engines
		Dispatch: DispatchConfig{
			RateWindow:      getdur("DISPATCH_RATE_WINDOW", time.Minute),
			BackoffBase:     getdur("DISPATCH_BACKOFF_BASE", 200*time.Millisecond),
			BackoffCap:      getdur("DISPATCH_BACKOFF_CAP", 5*time.Second),
			PrefixLocal:     getenv("DISPATCH_PREFIX_LOCAL", "!"),
			PrefixCommunity: getenv("DISPATCH_PREFIX_COMMUNITY", "#"),
			HandlerToken:    getenv("HANDLER_AUTH_TOKEN", ""),
		},
		Coordination: CoordinationConfig{
			LeaseDuration:     getdur("LEASE_DURATION", 30*time.Second),
			HeartbeatInterval: getdur("HEARTBEAT_INTERVAL", 10*time.Second),
			ErrorThreshold:    getint("LEASE_ERROR_THRESHOLD", 5),
			ClaimLimit:        getint("LEASE_CLAIM_LIMIT", 25),
		},

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-automation-core"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Dispatch.RateWindow <= 0 {
		return cfg, errors.New("DISPATCH_RATE_WINDOW must be > 0")
	}
	if cfg.Dispatch.BackoffBase <= 0 || cfg.Dispatch.BackoffCap < cfg.Dispatch.BackoffBase {
		return cfg, errors.New("DISPATCH_BACKOFF_CAP must be >= DISPATCH_BACKOFF_BASE > 0")
	}
	if cfg.Dispatch.PrefixLocal == "" || cfg.Dispatch.PrefixCommunity == "" {
		return cfg, errors.New("dispatch prefixes must not be empty")
	}
	if cfg.Dispatch.PrefixLocal == cfg.Dispatch.PrefixCommunity {
		return cfg, errors.New("DISPATCH_PREFIX_LOCAL and DISPATCH_PREFIX_COMMUNITY must differ")
	}
	if cfg.Coordination.LeaseDuration <= 0 {
		return cfg, errors.New("LEASE_DURATION must be > 0")
	}
	if cfg.Coordination.HeartbeatInterval <= 0 || cfg.Coordination.HeartbeatInterval >= cfg.Coordination.LeaseDuration {
		return cfg, errors.New("HEARTBEAT_INTERVAL must be > 0 and shorter than LEASE_DURATION")
	}
	if cfg.Coordination.ErrorThreshold < 1 {
		return cfg, errors.New("LEASE_ERROR_THRESHOLD must be >= 1")
	}
	if cfg.Coordination.ClaimLimit < 1 {
		return cfg, errors.New("LEASE_CLAIM_LIMIT must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
