// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-payments/internal/database"
	"github.com/matheusmosca/marketplace-payments/internal/gateway"
)

// Config is everything the serve, worker and migrate commands need.
type Config struct {
	ServiceName string
	Env         string
	Port        string
	LogLevel    string

	Database database.Config
	Gateway  gateway.Config

	PlatformFeePercent decimal.Decimal
	DefaultCurrency    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	NotificationQueue    string
	NotificationRetries  int
	NotificationBase     time.Duration
	NotificationMaxDelay time.Duration
	WorkerConcurrency    int

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	OTLPEndpoint string
}

// Load reads the environment. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	fee, err := decimal.NewFromString(getEnv("PLATFORM_FEE_PERCENT", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_FEE_PERCENT: %w", err)
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("PLATFORM_FEE_PERCENT must be in [0, 100), got %s", fee)
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "payments-service"),
		Env:         getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Database: database.Config{
			User:     getEnv("DATABASE_USER", "root"),
			Password: getEnv("DATABASE_PASSWORD", "pass"),
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			Name:     getEnv("DATABASE_NAME", "payments_db"),
			MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DATABASE_MIN_CONNS", 5)),
		},

		Gateway: gateway.Config{
			BaseURL:       getEnv("RAZORPAY_BASE_URL", gateway.DefaultBaseURL),
			KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
			Timeout:       getEnvDuration("RAZORPAY_TIMEOUT", 30*time.Second),
			FetchRetries:  getEnvInt("RAZORPAY_FETCH_RETRIES", 3),
		},

		PlatformFeePercent: fee,
		DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", "INR")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   getEnv("KAFKA_NOTIFICATIONS_TOPIC", "payments.notifications"),

		NotificationQueue:    getEnv("NOTIFICATION_QUEUE", "notifications"),
		NotificationRetries:  getEnvInt("NOTIFICATION_MAX_RETRY", 5),
		NotificationBase:     getEnvDuration("NOTIFICATION_RETRY_BASE", 5*time.Second),
		NotificationMaxDelay: getEnvDuration("NOTIFICATION_RETRY_MAX", 10*time.Minute),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 10),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 100),
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}
	return cfg, nil
}

// RequireGateway fails when the gateway credentials needed to serve traffic are missing.
func (c *Config) RequireGateway() error {
	var missing []string
	if c.Gateway.KeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if c.Gateway.KeySecret == "" {
		missing = append(missing, "RAZORPAY_KEY_SECRET")
	}
	if c.Gateway.WebhookSecret == "" {
		missing = append(missing, "RAZORPAY_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
