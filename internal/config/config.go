// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string `env:"PORT" env-default:"8080"`
	Env       string `env:"ENV" env-default:"development"` // "development", "staging", "production"
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"json"`

	// Database (optional, uses in-memory stores if not set)
	DatabaseURL string `env:"DATABASE_URL"`

	// Sessions
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" env-default:"24h"`

	// Escrow settings
	PaymentBaseURL  string        `env:"PAYMENT_BASE_URL" env-default:"https://payment.rekberpay.com"`
	PaymentWindow   time.Duration `env:"PAYMENT_WINDOW" env-default:"72h"`
	DefaultCurrency string        `env:"DEFAULT_CURRENCY" env-default:"IDR"`

	// Stripe Checkout (optional, placeholder gateway if not set)
	StripeSecretKey  string `env:"STRIPE_SECRET_KEY"`
	StripeSuccessURL string `env:"STRIPE_SUCCESS_URL" env-default:"https://rekberpay.com/escrow/success"`
	StripeCancelURL  string `env:"STRIPE_CANCEL_URL" env-default:"https://rekberpay.com/escrow/cancel"`

	// Notification fan-out (optional)
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"rekberpay.notifications"`

	// Tracing (optional)
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Security
	RateLimitRPM   int      `env:"RATE_LIMIT_RPM" env-default:"120"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" env-default:"20"`
	CORSOrigins    []string `env:"CORS_ORIGINS" env-separator:"," env-default:"*"`

	// Background jobs
	ExpiryInterval    time.Duration `env:"EXPIRY_INTERVAL" env-default:"1m"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" env-default:"10m"`
	// Rewrite drifted wallets from their transactions instead of only reporting them.
	ReconcileRepair bool `env:"RECONCILE_REPAIR" env-default:"false"`
}

// Defaults mirrored from the struct tags for callers that build a Config by hand.
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultCurrency        = "IDR"
	DefaultPaymentBaseURL  = "https://payment.rekberpay.com"
	DefaultPaymentWindow   = 72 * time.Hour
	DefaultRateLimitRPM    = 120
	DefaultKafkaTopic      = "rekberpay.notifications"
	minJWTSecretLength     = 32
	developmentJWTFallback = "rekberpay-development-secret-change-me"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = developmentJWTFallback
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be one of development, staging, production")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in production", minJWTSecretLength)
	}

	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.PaymentWindow <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW must be positive")
	}
	if c.PaymentBaseURL == "" {
		return fmt.Errorf("PAYMENT_BASE_URL is required")
	}
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// KafkaEnabled reports whether notification fan-out to Kafka is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
