package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	// Store selects the backing store. The memory store keeps everything
	// in-process and is for local development only.
	Store       string `env:"STORE" envDefault:"postgres" validate:"required,oneof=postgres memory"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=Store postgres"`

	TickIntervalSec   int `env:"TICK_INTERVAL_SEC" envDefault:"60" validate:"min=1,max=3600"`
	BatchSize         int `env:"BATCH_SIZE" envDefault:"10" validate:"min=1,max=100"`
	StepTimeoutSec    int `env:"STEP_TIMEOUT_SEC" envDefault:"30" validate:"min=1,max=600"`
	StaleAfterSec     int `env:"STALE_AFTER_SEC" envDefault:"600" validate:"min=60,max=86400"`
	DefaultLeadSec    int `env:"DEFAULT_LEAD_SEC" envDefault:"300" validate:"min=1"`
	StaggerDelaySec   int `env:"STAGGER_DELAY_SEC" envDefault:"300" validate:"min=1"`
	PublishTimeoutSec int `env:"PUBLISH_TIMEOUT_SEC" envDefault:"30" validate:"min=1,max=600"`

	// PipelineBaseURL is where the step services listen; PipelineToken, when
	// set, is sent as a bearer token on every pipeline call.
	PipelineBaseURL string `env:"PIPELINE_BASE_URL" envDefault:"http://localhost:8090"`
	PipelineToken   string `env:"PIPELINE_TOKEN"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	JWTSecret       string   `env:"JWT_SECRET,required"  validate:"required,min=32"`
	ResendAPIKey    string   `env:"RESEND_API_KEY"       validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom      string   `env:"RESEND_FROM"          validate:"required_if=Env production,required_if=Env staging"`
	AlertRecipients []string `env:"ALERT_RECIPIENTS"     validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	// Missing .env is fine; the environment itself may carry everything.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps the configured level name onto slog's scale.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
