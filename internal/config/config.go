package config

import (
	"errors"
	"fmt"
	"net/http"
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
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	Currency               string
	DefaultPaymentProvider string
	PaymentCallbackBaseURL string
	PaymentIntentTTL       time.Duration
	WebhookReplayTTL       time.Duration

	YooKassaShopID    string
	YooKassaSecretKey string
	YooKassaSandbox   bool
	CryptoPayAPIToken string

	TelegramBotToken string
	TelegramEnabled  bool

	WebhookDispatchEnabled bool
	WebhookMaxAttempts     int
	WebhookBackoffBaseSec  int

	ExpireSweepInterval time.Duration
	PlanCacheTTL        time.Duration
	IdempotencyTTL      time.Duration

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CookieDomain    string
	CookieSecure    bool
	CookieSameSite  http.SameSite
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		Currency:               valueOrDefault(k.String("CURRENCY"), "RUB"),
		DefaultPaymentProvider: valueOrDefault(k.String("DEFAULT_PAYMENT_PROVIDER"), "yookassa"),
		PaymentCallbackBaseURL: strings.TrimSpace(k.String("PAYMENT_CALLBACK_BASE_URL")),
		PaymentIntentTTL:       parseDuration(k.String("PAYMENT_INTENT_TTL"), "30m"),
		WebhookReplayTTL:       parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "48h"),

		YooKassaShopID:    k.String("YOOKASSA_SHOP_ID"),
		YooKassaSecretKey: k.String("YOOKASSA_SECRET_KEY"),
		YooKassaSandbox:   parseBool(k.String("YOOKASSA_SANDBOX")),
		CryptoPayAPIToken: k.String("CRYPTOPAY_API_TOKEN"),

		TelegramBotToken: k.String("TELEGRAM_BOT_TOKEN"),
		TelegramEnabled:  parseBool(k.String("TELEGRAM_NOTIFICATIONS_ENABLED")),

		WebhookDispatchEnabled: parseBoolDefault(k.String("WEBHOOK_DISPATCH_ENABLED"), true),
		WebhookMaxAttempts:     parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 5),
		WebhookBackoffBaseSec:  parseInt(k.String("WEBHOOK_BACKOFF_BASE_SEC"), 3),

		ExpireSweepInterval: parseDuration(k.String("EXPIRE_SWEEP_INTERVAL"), "5m"),
		PlanCacheTTL:        parseDuration(k.String("PLAN_CACHE_TTL"), "5m"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		AccessTokenTTL:  parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		RefreshTokenTTL: parseDuration(k.String("REFRESH_TOKEN_TTL"), "720h"),
		CookieDomain:    strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:    parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite:  parseSameSite(k.String("COOKIE_SAMESITE")),
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
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
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return fallback
	}
	return parseBool(trimmed)
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
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
