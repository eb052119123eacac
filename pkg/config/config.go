package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. It is constructed once at
// process start and passed by reference; nothing reads the environment after
// LoadConfig returns.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	SSO           SSOConfig
	Billing       BillingConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds session and OTP settings
type AuthConfig struct {
	SessionTTL     time.Duration
	SessionCookie  string
	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPSendsPerHour int
}

// SSOConfig holds optional OIDC sign-in settings. SSO is enabled when
// IssuerURL is non-empty.
type SSOConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// BillingConfig holds payment provider settings
type BillingConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	StripeAPIBase       string
	RequestTimeout      time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		SSO:           loadSSOConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BETTERORG_HOST", "0.0.0.0"),
		Port:            getEnv("BETTERORG_PORT", "8080"),
		BaseURL:         getEnv("BETTERORG_BASE_URL", "http://localhost:8080"),
		ReadTimeout:     getEnvDuration("BETTERORG_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BETTERORG_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BETTERORG_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BETTERORG_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("BETTERORG_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("DATABASE_URL", "postgres://localhost/betterorg?sslmode=disable"),
		MaxOpenConns: getEnvInt("BETTERORG_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns: getEnvInt("BETTERORG_DB_MAX_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("BETTERORG_DB_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("BETTERORG_REDIS_URL", "localhost:6379"),
		Password: getEnv("BETTERORG_REDIS_PASSWORD", ""),
		DB:       getEnvInt("BETTERORG_REDIS_DB", 0),
		PoolSize: getEnvInt("BETTERORG_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionTTL:      getEnvDuration("BETTERORG_SESSION_TTL", 30*24*time.Hour),
		SessionCookie:   getEnv("BETTERORG_SESSION_COOKIE", "betterorg_session"),
		OTPTTL:          getEnvDuration("BETTERORG_OTP_TTL", 10*time.Minute),
		OTPMaxAttempts:  getEnvInt("BETTERORG_OTP_MAX_ATTEMPTS", 5),
		OTPSendsPerHour: getEnvInt("BETTERORG_OTP_SENDS_PER_HOUR", 10),
	}
}

func loadSSOConfig() SSOConfig {
	scopes := strings.Split(getEnv("BETTERORG_SSO_SCOPES", "openid,profile,email"), ",")
	for i := range scopes {
		scopes[i] = strings.TrimSpace(scopes[i])
	}
	return SSOConfig{
		IssuerURL:    getEnv("BETTERORG_SSO_ISSUER_URL", ""),
		ClientID:     getEnv("BETTERORG_SSO_CLIENT_ID", ""),
		ClientSecret: getEnv("BETTERORG_SSO_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("BETTERORG_SSO_REDIRECT_URL", ""),
		Scopes:       scopes,
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		StripeAPIKey:        getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIBase:       getEnv("BETTERORG_STRIPE_API_BASE", "https://api.stripe.com"),
		RequestTimeout:      getEnvDuration("BETTERORG_BILLING_TIMEOUT", 15*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("BETTERORG_LOG_LEVEL", "info"),
		MetricsEnabled:     getEnvBool("BETTERORG_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BETTERORG_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BETTERORG_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BETTERORG_OTEL_SERVICE_NAME", "betterorg-server"),
		OTelServiceVersion: getEnv("BETTERORG_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BETTERORG_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Auth.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP max attempts must be at least 1")
	}
	if c.SSO.IssuerURL != "" {
		if c.SSO.ClientID == "" || c.SSO.ClientSecret == "" || c.SSO.RedirectURL == "" {
			return fmt.Errorf("SSO requires client ID, client secret and redirect URL")
		}
	}
	return nil
}

// SSOEnabled reports whether OIDC sign-in is configured
func (c *Config) SSOEnabled() bool {
	return c.SSO.IssuerURL != ""
}

// BillingEnabled reports whether the payment provider is configured
func (c *Config) BillingEnabled() bool {
	return c.Billing.StripeAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
