// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Inventory InventoryConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
}

type AppConfig struct {
	Environment string // development, production
	LogLevel    string
	LogFormat   string // json, console
}

type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	RateLimitRPS    float64 // 0 disables rate limiting
	RateLimitBurst  int
}

type DatabaseConfig struct {
	Driver string // memory, sqlite, postgres
	URL    string // file path for sqlite, DSN for postgres
}

type InventoryConfig struct {
	CascadeDelete     bool
	LowStockThreshold int64
	AuditInterval     time.Duration // 0 disables the consistency auditor
}

type RedisConfig struct {
	Addr      string // empty disables the summary cache
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string // namespaces cache keys when deployments share a Redis
}

type KafkaConfig struct {
	Brokers []string // empty disables event publishing
	Topic   string
}

// Enabled reports whether a Redis cache is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Enabled reports whether Kafka publishing is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Load reads configuration from environment variables. In development a
// .env file in the working directory is loaded first, if present.
func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if env == "development" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v, env)

	cfg := &Config{
		App: AppConfig{
			Environment: env,
			LogLevel:    v.GetString("LOG_LEVEL"),
			LogFormat:   v.GetString("LOG_FORMAT"),
		},
		HTTP: HTTPConfig{
			Port:            v.GetInt("HTTP_PORT"),
			ReadTimeout:     v.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("HTTP_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("HTTP_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("HTTP_SHUTDOWN_TIMEOUT"),
			AllowedOrigins:  splitList(v.GetString("ALLOWED_ORIGINS")),
			RateLimitRPS:    v.GetFloat64("RATE_LIMIT_RPS"),
			RateLimitBurst:  v.GetInt("RATE_LIMIT_BURST"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DB_DRIVER")),
			URL:    v.GetString("DATABASE_URL"),
		},
		Inventory: InventoryConfig{
			CascadeDelete:     v.GetBool("INVENTORY_CASCADE_DELETE"),
			LowStockThreshold: v.GetInt64("LOW_STOCK_THRESHOLD"),
			AuditInterval:     v.GetDuration("AUDIT_INTERVAL"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("REDIS_ADDR"),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			TTL:       v.GetDuration("CACHE_TTL"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, env string) {
	logFormat := "console"
	if env == "production" {
		logFormat = "json"
	}
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", logFormat)

	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "stock.db")

	v.SetDefault("INVENTORY_CASCADE_DELETE", false)
	// quantity <= 4 counts as low stock
	v.SetDefault("LOW_STOCK_THRESHOLD", 4)
	v.SetDefault("AUDIT_INTERVAL", time.Hour)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", 30*time.Second)
	v.SetDefault("REDIS_KEY_PREFIX", "stock")

	v.SetDefault("KAFKA_TOPIC", "stock-ledger.changes")
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTP.Port)
	}
	if c.Inventory.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must not be negative")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive when rate limiting is on")
	}
	if c.Redis.Enabled() && c.Redis.KeyPrefix == "" {
		return fmt.Errorf("REDIS_KEY_PREFIX must not be empty when REDIS_ADDR is set")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
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
