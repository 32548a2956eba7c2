// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes backend connection
// settings, retry/backoff tuning, cache TTLs, reconciliation cadence, and
// the admin server's operational knobs.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackendConfig holds connection and resilience settings for the
// multi-tenant backend REST API.
type BackendConfig struct {
	BaseURL string // BACKEND_URL, e.g. "https://api.example.com"
	APIKey  string // BACKEND_API_KEY (opaque secret, never logged in full)

	// Retry/backoff. Retries apply only to 429 and 5xx responses.
	MaxAttempts int           // RETRY_MAX_ATTEMPTS, total attempts including the first
	BaseWait    time.Duration // RETRY_BASE_WAIT, first backoff step
	MaxWait     time.Duration // RETRY_MAX_WAIT, per-step backoff cap
	CallBudget  time.Duration // REQUEST_BUDGET, wall-clock budget per logical call

	// Client-side politeness limiter shared by all outbound requests.
	RateRPS   float64 // RATE_RPS (>= 0; 0 disables)
	RateBurst int     // RATE_BURST (>= 1)
}

// CacheConfig holds resolution-cache TTLs. Positive entries live for hours
// (sync cadence is hours, not seconds); negative entries are short so a
// mapping registered moments after a miss is picked up promptly.
type CacheConfig struct {
	PositiveTTL time.Duration // CACHE_TTL
	NegativeTTL time.Duration // CACHE_NEGATIVE_TTL
}

// CORSConfig defines Cross-Origin Resource Sharing settings for the admin
// server (the diagnostics analysis tool's origin).
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "dental-sync")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the daemon.
type Config struct {
	// Admin server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Local store
	DBPath string // SQLite path for agent properties + diagnostics sink

	// Entity registry
	RegistryPath string // optional JSON registry override (REGISTRY_PATH)

	// Diagnostics
	DiagRingSize int // DIAG_RING_SIZE, in-memory record capacity

	// Reconciliation
	ReconcileInterval time.Duration // RECONCILE_INTERVAL
	ReconcileSystems  []string      // RECONCILE_SYSTEMS, CSV of system names

	Backend  BackendConfig
	Cache    CacheConfig
	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Admin server
		Port:              getenv("PORT", "8090"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Local store / registry / diagnostics
		DBPath:       getenv("DB_PATH", "syncd.db"),
		RegistryPath: getenv("REGISTRY_PATH", ""),
		DiagRingSize: getint("DIAG_RING_SIZE", 2048),

		// Reconciliation
		ReconcileInterval: getdur("RECONCILE_INTERVAL", 24*time.Hour),
		ReconcileSystems:  splitCSV(getenv("RECONCILE_SYSTEMS", "")),

		Backend: BackendConfig{
			BaseURL:     getenv("BACKEND_URL", ""),
			APIKey:      getenv("BACKEND_API_KEY", ""),
			MaxAttempts: getint("RETRY_MAX_ATTEMPTS", 4),
			BaseWait:    getdur("RETRY_BASE_WAIT", 500*time.Millisecond),
			MaxWait:     getdur("RETRY_MAX_WAIT", 8*time.Second),
			CallBudget:  getdur("REQUEST_BUDGET", 30*time.Second),
			RateRPS:     getfloat("RATE_RPS", 5.0),
			RateBurst:   getint("RATE_BURST", 10),
		},

		Cache: CacheConfig{
			PositiveTTL: getdur("CACHE_TTL", 4*time.Hour),
			NegativeTTL: getdur("CACHE_NEGATIVE_TTL", 5*time.Minute),
		},

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "dental-sync"),
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
	if cfg.DiagRingSize < 1 {
		return cfg, errors.New("DIAG_RING_SIZE must be >= 1")
	}
	if cfg.Backend.BaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.Backend.BaseURL); err != nil {
			return cfg, errors.New("BACKEND_URL must be a valid URL")
		}
	}
	if cfg.Backend.MaxAttempts < 1 {
		return cfg, errors.New("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Backend.BaseWait <= 0 || cfg.Backend.MaxWait <= 0 || cfg.Backend.CallBudget <= 0 {
		return cfg, errors.New("retry waits and REQUEST_BUDGET must be positive durations")
	}
	if cfg.Backend.MaxWait < cfg.Backend.BaseWait {
		return cfg, errors.New("RETRY_MAX_WAIT must be >= RETRY_BASE_WAIT")
	}
	if cfg.Backend.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.Backend.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Cache.PositiveTTL <= 0 || cfg.Cache.NegativeTTL <= 0 {
		return cfg, errors.New("cache TTLs must be positive durations")
	}
	if cfg.Cache.NegativeTTL > cfg.Cache.PositiveTTL {
		return cfg, errors.New("CACHE_NEGATIVE_TTL must not exceed CACHE_TTL")
	}
	if cfg.ReconcileInterval <= 0 {
		return cfg, errors.New("RECONCILE_INTERVAL must be > 0")
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
