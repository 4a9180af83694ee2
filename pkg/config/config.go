package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Billing       BillingConfig
	Payout        PayoutConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// RateLimitEnabled throttles API callers per uid or client IP. The limits
	// are shared through Redis when it is configured.
	RateLimitEnabled bool
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis settings. An empty URL disables the webhook
// idempotency fast path.
type RedisConfig struct {
	URL            string
	IdempotencyTTL time.Duration
}

// AuthConfig holds identity verification and authorization settings
type AuthConfig struct {
	// TokenMode selects the bearer token verifier: "hmac" or "oidc"
	TokenMode    string
	HMACSecret   string
	TokenIssuer  string
	OIDCIssuer   string
	OIDCClientID string

	SessionTTL        time.Duration
	ClaimsCacheSize   int
	ElevatedCeiling   int
	ResolverScanLimit int
	IssueConcurrency  int

	BootstrapUIDs   []string
	BootstrapEmails []string
	BootstrapFile   string
}

// BillingConfig holds payment provider and commission settings. Percentages
// are decimal strings such as "2.9" or "50".
type BillingConfig struct {
	ProviderSecretKey string
	WebhookSecret     string
	WebhookTolerance  time.Duration

	FeePercent        string
	CommissionPercent string
	OwnerPercent      string
	CompanyPercent    string
}

// PayoutConfig holds payout batch settings
type PayoutConfig struct {
	Maturity time.Duration
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

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
		Billing:       loadBillingConfig(),
		Payout:        loadPayoutConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWorkerConfig loads the subset used by the payout worker, which runs
// without the HTTP API and so needs no token or webhook secrets
func LoadWorkerConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Payout:        loadPayoutConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.validateWorker(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTCORE_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTCORE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTCORE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTCORE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTCORE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTCORE_HEALTH_PORT", "9090"),

		RateLimitEnabled: getEnvBool("TENANTCORE_RATE_LIMIT_ENABLED", true),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TENANTCORE_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("TENANTCORE_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("TENANTCORE_POSTGRES_MIN_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTCORE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("TENANTCORE_POSTGRES_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:            getEnv("TENANTCORE_REDIS_URL", ""),
		IdempotencyTTL: getEnvDuration("TENANTCORE_REDIS_IDEMPOTENCY_TTL", 72*time.Hour),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		TokenMode:         strings.ToLower(getEnv("TENANTCORE_TOKEN_MODE", "hmac")),
		HMACSecret:        getEnv("TENANTCORE_TOKEN_SECRET", ""),
		TokenIssuer:       getEnv("TENANTCORE_TOKEN_ISSUER", "tenantcore"),
		OIDCIssuer:        getEnv("TENANTCORE_OIDC_ISSUER", ""),
		OIDCClientID:      getEnv("TENANTCORE_OIDC_CLIENT_ID", ""),
		SessionTTL:        getEnvDuration("TENANTCORE_SESSION_TTL", time.Hour),
		ClaimsCacheSize:   getEnvInt("TENANTCORE_CLAIMS_CACHE_SIZE", 10000),
		ElevatedCeiling:   getEnvInt("TENANTCORE_ELEVATED_CEILING", 3),
		ResolverScanLimit: getEnvInt("TENANTCORE_RESOLVER_SCAN_LIMIT", 50),
		IssueConcurrency:  getEnvInt("TENANTCORE_ISSUE_CONCURRENCY", 8),
		BootstrapUIDs:     getEnvList("TENANTCORE_BOOTSTRAP_UIDS"),
		BootstrapEmails:   getEnvList("TENANTCORE_BOOTSTRAP_EMAILS"),
		BootstrapFile:     getEnv("TENANTCORE_BOOTSTRAP_FILE", ""),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		ProviderSecretKey: getEnv("TENANTCORE_PROVIDER_SECRET_KEY", ""),
		WebhookSecret:     getEnv("TENANTCORE_WEBHOOK_SECRET", ""),
		WebhookTolerance:  getEnvDuration("TENANTCORE_WEBHOOK_TOLERANCE", 5*time.Minute),
		FeePercent:        getEnv("TENANTCORE_FEE_PERCENT", "2.9"),
		CommissionPercent: getEnv("TENANTCORE_COMMISSION_PERCENT", "50"),
		OwnerPercent:      getEnv("TENANTCORE_OWNER_PERCENT", "30"),
		CompanyPercent:    getEnv("TENANTCORE_COMPANY_PERCENT", "20"),
	}
}

func loadPayoutConfig() PayoutConfig {
	return PayoutConfig{
		Maturity: getEnvDuration("TENANTCORE_PAYOUT_MATURITY", 30*24*time.Hour),
		Schedule: getEnv("TENANTCORE_PAYOUT_SCHEDULE", "10 0 * * *"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("TENANTCORE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTCORE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTCORE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTCORE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTCORE_OTEL_SERVICE_NAME", "tenantcore"),
		OTelServiceVersion: getEnv("TENANTCORE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTCORE_OTEL_INSECURE", true),
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Auth.TokenMode {
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("token secret is required for hmac token mode")
		}
	case "oidc":
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer and client id are required for oidc token mode")
		}
	default:
		return fmt.Errorf("invalid token mode: %s (must be hmac or oidc)", c.Auth.TokenMode)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.ElevatedCeiling < 1 {
		return fmt.Errorf("elevated account ceiling must be at least 1")
	}
	if c.Auth.ResolverScanLimit < 0 {
		return fmt.Errorf("resolver scan limit cannot be negative")
	}

	if c.Billing.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if err := c.Billing.validateSplit(); err != nil {
		return err
	}

	if c.Payout.Maturity < 0 {
		return fmt.Errorf("payout maturity cannot be negative")
	}
	if c.Payout.Schedule == "" {
		return fmt.Errorf("payout schedule is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func (c *Config) validateWorker() error {
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Payout.Maturity < 0 {
		return fmt.Errorf("payout maturity cannot be negative")
	}
	if c.Payout.Schedule == "" {
		return fmt.Errorf("payout schedule is required")
	}
	return nil
}

// validateSplit checks that every percentage parses and the three-way split
// of net revenue adds up to 100
func (b BillingConfig) validateSplit() error {
	hundred := decimal.NewFromInt(100)
	values := map[string]string{
		"fee":        b.FeePercent,
		"commission": b.CommissionPercent,
		"owner":      b.OwnerPercent,
		"company":    b.CompanyPercent,
	}
	parsed := make(map[string]decimal.Decimal, len(values))
	for name, raw := range values {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid %s percent %q: %w", name, raw, err)
		}
		if d.IsNegative() || d.GreaterThan(hundred) {
			return fmt.Errorf("%s percent must be between 0 and 100", name)
		}
		parsed[name] = d
	}

	sum := parsed["commission"].Add(parsed["owner"]).Add(parsed["company"])
	if !sum.Equal(hundred) {
		return fmt.Errorf("commission, owner and company percentages must sum to 100, got %s", sum)
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable, dropping blanks
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
