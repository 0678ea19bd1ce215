package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort         string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string

	StoreDriver string
	SQLiteDSN   string
	PostgresURL string

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	HMACSecret       string
	SigMaxAgeSeconds int64

	SettlementDeclineLast4 []string
	SettlementLatency      time.Duration

	LogLevel  string
	LogFormat string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func defaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_DSN", "./app.db")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "payment.events")
	v.SetDefault("JWT_SECRET", "dev-only-jwt-secret-change-me")
	v.SetDefault("JWT_ISSUER", "shopcx-payment-service")
	v.SetDefault("TOKEN_TTL", "15m")
	v.SetDefault("HMAC_SECRET", "")
	v.SetDefault("SIG_MAX_AGE_SECONDS", 300)
	v.SetDefault("SETTLEMENT_DECLINE_LAST4", "0002")
	v.SetDefault("SETTLEMENT_LATENCY", "0s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := Config{
		AppPort:                v.GetString("APP_PORT"),
		ShutdownTimeout:        v.GetDuration("SHUTDOWN_TIMEOUT"),
		RequestTimeout:         v.GetDuration("REQUEST_TIMEOUT"),
		AllowedOrigins:         splitCSV(v.GetString("CORS_ALLOWED_ORIGINS")),
		StoreDriver:            strings.ToLower(v.GetString("STORE_DRIVER")),
		SQLiteDSN:              v.GetString("SQLITE_DSN"),
		PostgresURL:            v.GetString("POSTGRES_URL"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		IdempotencyTTL:         v.GetDuration("IDEMPOTENCY_TTL"),
		KafkaBrokers:           splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:             v.GetString("KAFKA_TOPIC"),
		JWTSecret:              v.GetString("JWT_SECRET"),
		JWTIssuer:              v.GetString("JWT_ISSUER"),
		TokenTTL:               v.GetDuration("TOKEN_TTL"),
		HMACSecret:             v.GetString("HMAC_SECRET"),
		SigMaxAgeSeconds:       v.GetInt64("SIG_MAX_AGE_SECONDS"),
		SettlementDeclineLast4: splitCSV(v.GetString("SETTLEMENT_DECLINE_LAST4")),
		SettlementLatency:      v.GetDuration("SETTLEMENT_LATENCY"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLiteDSN == "" {
			return errors.New("SQLITE_DSN is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
