// Package config loads the service configuration from defaults, an optional
// YAML file, a .env file and MLSVC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ml-service/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "MLSVC"
	ConfigName = "ml-service"
)

var ErrMissingSecret = errors.New("auth.jwt_secret must be set")

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Auth struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type Billing struct {
	TaskCost       string `mapstructure:"task_cost"`
	InitialBalance string `mapstructure:"initial_balance"`
}

type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type Redis struct {
	URL string `mapstructure:"url"`
}

type Events struct {
	Driver        string   `mapstructure:"driver"`
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	NATSURL       string   `mapstructure:"nats_url"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Model describes an expression model served next to the built-in example model.
type Model struct {
	Name       string  `mapstructure:"name"`
	Expression string  `mapstructure:"expression"`
	Threshold  float64 `mapstructure:"threshold"`
}

type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Billing   Billing   `mapstructure:"billing"`
	RateLimit RateLimit `mapstructure:"ratelimit"`
	Redis     Redis     `mapstructure:"redis"`
	Events    Events    `mapstructure:"events"`
	Log       Log       `mapstructure:"log"`
	Models    []Model   `mapstructure:"models"`

	taskCost       decimal.Decimal
	initialBalance decimal.Decimal
}

func (c *Config) TaskCost() decimal.Decimal       { return c.taskCost }
func (c *Config) InitialBalance() decimal.Decimal { return c.initialBalance }

// SetDefaults registers every known key so that environment overrides are
// picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./ml-service.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("billing.task_cost", "1")
	v.SetDefault("billing.initial_balance", "0")
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("redis.url", "")
	v.SetDefault("events.driver", "log")
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "ml-service-events")
	v.SetDefault("events.nats_url", "nats://localhost:4222")
	v.SetDefault("events.subject_prefix", "mlsvc")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("models", []map[string]any{})
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or ml-service.yaml from the working directory when
// configFile is empty, and decodes the result. A missing default file is not
// an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(ConfigName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return ErrMissingSecret
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}

	var err error
	if c.taskCost, err = decimal.NewFromString(c.Billing.TaskCost); err != nil || models.ValidAmount(c.taskCost) != nil {
		return fmt.Errorf("billing.task_cost must be a positive number with at most %d decimal places, got %q", models.MoneyScale, c.Billing.TaskCost)
	}
	if c.initialBalance, err = decimal.NewFromString(c.Billing.InitialBalance); err != nil || c.initialBalance.IsNegative() ||
		!c.initialBalance.Equal(c.initialBalance.Truncate(models.MoneyScale)) {
		return fmt.Errorf("billing.initial_balance must be a non-negative number with at most %d decimal places, got %q", models.MoneyScale, c.Billing.InitialBalance)
	}

	switch c.Events.Driver {
	case "log", "kafka", "nats":
	default:
		return fmt.Errorf("unknown events.driver %q", c.Events.Driver)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")
	}

	seen := map[string]bool{"example": true}
	for _, m := range c.Models {
		if m.Name == "" || m.Expression == "" {
			return fmt.Errorf("model entries need a name and an expression")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model name %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}
