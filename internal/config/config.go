// Package config handles application configuration and environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"sdlq/internal/sdl"
)

// apiPath is appended to the base URL when not already present.
const apiPath = "/sdl"

// Config holds the settings shared by the CLI and the gateway. Durations
// are kept in the integer units their environment variables use; the
// accessor methods convert.
type Config struct {
	BaseURL   string // normalized service URL, always https and ending in /sdl
	AuthToken string // Bearer-prefixed; never logged

	// HTTP client
	HTTPTimeoutSeconds int  // connection establishment bound (default 30)
	MaxTimeoutSeconds  int  // whole-request bound (default 30)
	HTTPMaxRetries     int  // retries after the first attempt (default 3)
	SkipTLSVerify      bool // rejected outside development environments

	// Polling
	DefaultPollTimeoutMS  int // poll budget (default 30000)
	DefaultPollIntervalMS int // delay between pings (default 100)

	// Query limits
	MaxQueryResults int // client-side row cap (default 10000)
	QueryTTLSeconds int // server-side query lifetime; caps poll budget overrides

	Environment string // "production" unless overridden
	LogLevel    string // debug, info, warn, error (default "info")

	// Gateway
	ListenAddr         string // default "127.0.0.1:8080"
	AllowRemoteAccess  bool   // required for non-loopback binds
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	HistoryDBPath string // SQLite query-run history (default "sdlq_history.sqlite")

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in a production environment.
func (c *Config) IsProduction() bool {
	return sdl.IsProductionEnvironment(c.Environment)
}

// HTTPTimeout returns the connection timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// MaxTimeout returns the whole-request timeout as a duration.
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutSeconds) * time.Second
}

// PollTimeout returns the default poll budget as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.DefaultPollTimeoutMS) * time.Millisecond
}

// PollInterval returns the delay between pings as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.DefaultPollIntervalMS) * time.Millisecond
}

// QueryTTL returns the server-side query lifetime as a duration.
func (c *Config) QueryTTL() time.Duration {
	return time.Duration(c.QueryTTLSeconds) * time.Second
}

// ClientConfig derives the protocol client configuration.
func (c *Config) ClientConfig(userAgent string, logger *slog.Logger) sdl.ClientConfig {
	return sdl.ClientConfig{
		BaseURL:       c.BaseURL,
		HTTPTimeout:   c.HTTPTimeout(),
		MaxTimeout:    c.MaxTimeout(),
		MaxRetries:    c.HTTPMaxRetries,
		SkipTLSVerify: c.SkipTLSVerify,
		Environment:   c.Environment,
		UserAgent:     userAgent,
		Logger:        logger,
	}
}

// Validate checks that the settings required to reach the query service
// are present. Called once flag and profile overrides have been merged.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required (set SDLQ_BASE_URL)")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth token is required (set SDLQ_AUTH_TOKEN)")
	}
	return nil
}

// LogSummary records the effective configuration at startup. The auth
// token value itself is never logged.
func (c *Config) LogSummary(logger *slog.Logger) {
	logger.Info("configuration loaded",
		"base_url", c.BaseURL,
		"environment", c.Environment,
		"http_timeout_seconds", c.HTTPTimeoutSeconds,
		"http_max_retries", c.HTTPMaxRetries,
		"tls_verify", !c.SkipTLSVerify,
		"poll_timeout_ms", c.DefaultPollTimeoutMS,
		"poll_interval_ms", c.DefaultPollIntervalMS,
		"max_query_results", c.MaxQueryResults,
		"auth_token_configured", c.AuthToken != "")
}

// LoadFromEnv loads configuration from SDLQ_* environment variables.
// BaseURL and AuthToken may be absent here; callers that need them run
// Validate after merging their own overrides.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Environment:   os.Getenv("SDLQ_ENV"),
		LogLevel:      os.Getenv("SDLQ_LOG_LEVEL"),
		ListenAddr:    os.Getenv("SDLQ_LISTEN_ADDR"),
		HistoryDBPath: os.Getenv("SDLQ_HISTORY_DB_PATH"),

		SkipTLSVerify:     parseBoolEnvDefault("SDLQ_SKIP_TLS_VERIFY", false),
		AllowRemoteAccess: parseBoolEnvDefault("SDLQ_ALLOW_REMOTE_ACCESS", false),
	}

	if v := os.Getenv("SDLQ_BASE_URL"); v != "" {
		normalized, err := NormalizeBaseURL(v)
		if err != nil {
			return nil, fmt.Errorf("SDLQ_BASE_URL: %w", err)
		}
		cfg.BaseURL = normalized
	}
	cfg.AuthToken = NormalizeAuthToken(os.Getenv("SDLQ_AUTH_TOKEN"))

	var err error
	if cfg.HTTPTimeoutSeconds, err = intEnv("SDLQ_HTTP_TIMEOUT_SECONDS", 30, 1, 300); err != nil {
		return nil, err
	}
	if cfg.MaxTimeoutSeconds, err = intEnv("SDLQ_MAX_TIMEOUT_SECONDS", 30, 1, 3600); err != nil {
		return nil, err
	}
	if cfg.HTTPMaxRetries, err = intEnv("SDLQ_HTTP_MAX_RETRIES", 3, 0, 10); err != nil {
		return nil, err
	}
	if cfg.DefaultPollTimeoutMS, err = intEnv("SDLQ_POLL_TIMEOUT_MS", 30_000, 1000, 3600_000); err != nil {
		return nil, err
	}
	if cfg.DefaultPollIntervalMS, err = intEnv("SDLQ_POLL_INTERVAL_MS", 100, 50, 5000); err != nil {
		return nil, err
	}
	if cfg.MaxQueryResults, err = intEnv("SDLQ_MAX_QUERY_RESULTS", 10_000, 1, 100_000); err != nil {
		return nil, err
	}
	if cfg.QueryTTLSeconds, err = intEnv("SDLQ_QUERY_TTL_SECONDS", 300, 30, 3600); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = floatEnv("SDLQ_RATE_LIMIT_RPS", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("SDLQ_RATE_LIMIT_BURST", 200, 1, 100_000); err != nil {
		return nil, err
	}

	if v := os.Getenv("SDLQ_CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = "sdlq_history.sqlite"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	// The production check must fail before any network activity. The
	// structured security log entries are emitted by the caller once a
	// logger exists, via sdl.ValidateTLSBypassConfig.
	if err := sdl.ValidateTLSBypassConfig(cfg.SkipTLSVerify, cfg.Environment, nil); err != nil {
		return nil, err
	}
	if cfg.SkipTLSVerify {
		cfg.Warnings = append(cfg.Warnings,
			"TLS certificate verification is disabled (SDLQ_SKIP_TLS_VERIFY=true), never use this outside development")
	}

	return cfg, nil
}

// NormalizeBaseURL validates the service URL and brings it into wire
// form: https-only, no trailing slash, /sdl path appended when missing.
func NormalizeBaseURL(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if strings.HasPrefix(v, "http://") {
		return "", fmt.Errorf("base URL must use https, plain http is not permitted")
	}
	if !strings.HasPrefix(v, "https://") {
		return "", fmt.Errorf("base URL must start with https://")
	}
	v = strings.TrimRight(v, "/")
	if !strings.HasSuffix(v, apiPath) {
		v += apiPath
	}
	return v, nil
}

// NormalizeAuthToken trims the token and adds the Bearer prefix when
// missing. Empty input stays empty.
func NormalizeAuthToken(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "Bearer ") {
		v = "Bearer " + v
	}
	return v
}

func intEnv(key string, def, min, max int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", key, min, max, n)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0, got %v", key, f)
	}
	return f, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
