package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the order engine.
// It is loaded once at startup and handed to components by value.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	HTTP        HTTPConfig        `yaml:"http"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Waitlist    WaitlistConfig    `yaml:"waitlist"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Push        PushConfig        `yaml:"push"`
	Currency    CurrencyConfig    `yaml:"currency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxConns int32  `yaml:"max_conns"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Prefetch int    `yaml:"prefetch"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PricingConfig controls loyalty point accrual on priced orders.
type PricingConfig struct {
	PointsPerUnit string `yaml:"points_per_unit"`
}

type WaitlistConfig struct {
	ServiceMinutes int `yaml:"service_minutes"`
}

type FulfillmentConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RelayInterval time.Duration `yaml:"relay_interval"`
}

type PushConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// CurrencyConfig lists conversion rates from the base currency.
type CurrencyConfig struct {
	Base  string            `yaml:"base"`
	Rates map[string]string `yaml:"rates"`
}

type TelemetryConfig struct {
	Exporter    string `yaml:"exporter"` // none, stdout, otlp
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file, then applies a local .env file
// (if any) and environment overrides.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, MaxConns: 25},
		RabbitMQ: RabbitMQConfig{Host: "localhost", Port: 5672, Prefetch: 1},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		HTTP:     HTTPConfig{Port: 3000, RequestTimeout: 30 * time.Second},
		Pricing:  PricingConfig{PointsPerUnit: "1"},
		Waitlist: WaitlistConfig{ServiceMinutes: 30},
		Fulfillment: FulfillmentConfig{
			MaxAttempts:   5,
			RelayInterval: 30 * time.Second,
		},
		Push:      PushConfig{Timeout: 5 * time.Second},
		Currency:  CurrencyConfig{Base: "USD"},
		Telemetry: TelemetryConfig{Exporter: "none", ServiceName: "restaurant-orders"},
		Log:       LogConfig{Level: "info"},
	}
}

// applyEnv lets secrets and hosts come from the environment.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("DB_HOST", &c.Database.Host)
	setString("DB_USER", &c.Database.User)
	setString("DB_PASSWORD", &c.Database.Password)
	setString("DB_NAME", &c.Database.Database)
	setString("RABBITMQ_HOST", &c.RabbitMQ.Host)
	setString("RABBITMQ_USER", &c.RabbitMQ.User)
	setString("RABBITMQ_PASSWORD", &c.RabbitMQ.Password)
	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setString("PUSH_BASE_URL", &c.Push.BaseURL)
	setString("PUSH_API_KEY", &c.Push.APIKey)
	setString("LOG_LEVEL", &c.Log.Level)

	if v, ok := os.LookupEnv("DB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		c.Database.Port = port
	}
	if v, ok := os.LookupEnv("RABBITMQ_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RABBITMQ_PORT value: %w", err)
		}
		c.RabbitMQ.Port = port
	}
	return nil
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.RabbitMQ.Port == 0 {
		return fmt.Errorf("rabbitmq.port is required")
	}
	if c.Waitlist.ServiceMinutes <= 0 {
		return fmt.Errorf("waitlist.service_minutes must be positive")
	}
	if c.Fulfillment.MaxAttempts <= 0 {
		return fmt.Errorf("fulfillment.max_attempts must be positive")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be positive")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown telemetry.exporter: %s", c.Telemetry.Exporter)
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}
