package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
)

const (
	GatewayStripe = "stripe"
	GatewayMock   = "mock"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxRequestBody  int64
	RateLimit       float64 // requests per second per client IP, 0 disables
	RateBurst       int

	DB repository.Credentials

	RedisAddr     string
	RedisPassword string
	BasketTTL     time.Duration

	KafkaBrokers []string

	JWTSecret string

	Gateway             string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBackendURL    string
	Currency            string
	GatewayTimeout      time.Duration

	StockPolicy domain.StockPolicy

	LogLevel     string
	OTLPEndpoint string
}

// Load reads the configuration from the environment. Malformed numbers,
// durations and enums fail instead of falling back to defaults.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", "9090"),
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second, &errs),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		MaxRequestBody:  int64(getInt("MAX_REQUEST_BODY", 1<<20, &errs)), // 1MB
		RateLimit:       getFloat("RATE_LIMIT_RPS", 20, &errs),
		RateBurst:       getInt("RATE_LIMIT_BURST", 40, &errs),

		DB: repository.Credentials{
			Driver:            repository.Driver(getEnv("DB_DRIVER", string(repository.DriverPostgres))),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getInt("DB_PORT", 5432, &errs),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "storefront"),
			Path:              getEnv("DB_PATH", "storefront.db"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		BasketTTL:     getDuration("BASKET_CACHE_TTL", 15*time.Minute, &errs),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),

		JWTSecret: getEnv("JWT_SECRET", ""),

		Gateway:             strings.ToLower(getEnv("PAYMENT_GATEWAY", GatewayMock)),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeBackendURL:    getEnv("STRIPE_BACKEND_URL", ""),
		Currency:            strings.ToLower(getEnv("CURRENCY", "nzd")),
		GatewayTimeout:      getDuration("GATEWAY_TIMEOUT", 10*time.Second, &errs),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	policy, err := domain.ParseStockPolicy(getEnv("CHECKOUT_STOCK_POLICY", string(domain.StockPermissive)))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.StockPolicy = policy

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.DB.Driver {
	case repository.DriverPostgres, repository.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unknown driver %q", c.DB.Driver))
	}
	switch c.Gateway {
	case GatewayMock:
	case GatewayStripe:
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required for the stripe gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_GATEWAY: unknown gateway %q", c.Gateway))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}
	return errs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
