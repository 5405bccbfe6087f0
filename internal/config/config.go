package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	DatabaseURL string
	RedisURL    string

	ProviderBaseURL string
	ProviderAPIKey  string
	MerchantID      string

	// WebhookSecret is the shared HMAC secret for inbound webhooks. An empty
	// value puts the verifier into the documented insecure allow-all mode.
	WebhookSecret string

	AdminJWTSecret   string
	AdminJWTIssuer   string
	AdminJWTAudience string
	AdminRateLimit   string

	CORSAllowedOrigins []string

	CheckoutURLTTL   time.Duration
	OrderLockTTL     time.Duration
	LockRetryBackoff time.Duration

	ProviderTimeout     time.Duration
	ProviderMaxAttempts int
	ProviderRetryBase   time.Duration
	ProviderRetryJitter float64

	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration

	OutboxRedisPrefix   string
	OutboxMaxAttempts   int
	OutboxBackoffBase   time.Duration
	OutboxBackoffJitter float64
	OutboxVisibility    time.Duration
	OutboxConcurrency   int
	OutboxDedupTTL      time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv: valueOrDefault(k.String("APP_ENV"), "development"),
		Port:   valueOrDefault(k.String("PORT"), "8080"),

		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		ProviderBaseURL: k.String("PROVIDER_API_BASE_URL"),
		ProviderAPIKey:  k.String("PROVIDER_API_KEY"),
		MerchantID:      strings.TrimSpace(k.String("PROVIDER_MERCHANT_ID")),
		WebhookSecret:   k.String("PROVIDER_WEBHOOK_SECRET"),

		AdminJWTSecret:   k.String("ADMIN_JWT_SECRET"),
		AdminJWTIssuer:   valueOrDefault(k.String("ADMIN_JWT_ISSUER"), "paybridge"),
		AdminJWTAudience: valueOrDefault(k.String("ADMIN_JWT_AUDIENCE"), "paybridge-admin"),
		AdminRateLimit:   valueOrDefault(k.String("ADMIN_RATE_LIMIT"), "120-M"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CheckoutURLTTL:   parseDuration(k.String("CHECKOUT_URL_TTL"), "30m"),
		OrderLockTTL:     parseDuration(k.String("ORDER_LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		ProviderTimeout:     parseDuration(k.String("PROVIDER_TIMEOUT"), "5s"),
		ProviderMaxAttempts: parseInt(k.String("PROVIDER_RETRY_MAX_ATTEMPTS"), 3),
		ProviderRetryBase:   parseDuration(k.String("PROVIDER_RETRY_BASE"), "100ms"),
		ProviderRetryJitter: parseFloat(k.String("PROVIDER_RETRY_JITTER"), 0.2),

		CircuitMinRequests: parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate: parseFloat(k.String("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		OutboxRedisPrefix:   valueOrDefault(k.String("OUTBOX_REDIS_PREFIX"), "paybridge"),
		OutboxMaxAttempts:   parseInt(k.String("OUTBOX_MAX_ATTEMPTS"), 10),
		OutboxBackoffBase:   parseDuration(k.String("OUTBOX_BACKOFF_BASE"), "5s"),
		OutboxBackoffJitter: parseFloat(k.String("OUTBOX_BACKOFF_JITTER"), 0.2),
		OutboxVisibility:    parseDuration(k.String("OUTBOX_VISIBILITY_TIMEOUT"), "60s"),
		OutboxConcurrency:   parseInt(k.String("OUTBOX_CONCURRENCY"), 4),
		OutboxDedupTTL:      parseDuration(k.String("OUTBOX_DEDUP_TTL"), "24h"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ProviderBaseURL == "" {
		return nil, errors.New("PROVIDER_API_BASE_URL is required")
	}
	if cfg.ProviderAPIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY is required")
	}
	if cfg.MerchantID == "" {
		return nil, errors.New("PROVIDER_MERCHANT_ID is required")
	}
	if cfg.AdminJWTSecret == "" {
		return nil, errors.New("ADMIN_JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// InsecureWebhooks reports whether signature verification is disabled.
func (c *Config) InsecureWebhooks() bool {
	return strings.TrimSpace(c.WebhookSecret) == ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching
// the surrounding environment permanently.
func LoadForTests(envs map[string]string) (*Config, error) {
	original := make(map[string]string, len(envs))
	for key := range envs {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envs[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
