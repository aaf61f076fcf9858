// Package config loads the service configuration from the environment. A
// .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every setting of the chat service.
type Config struct {
	HTTPAddr           string `envconfig:"HTTP_ADDR" default:":3000"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS"`
	ChatDBPath         string `envconfig:"CHAT_DB_PATH" default:"chat.db"`
	JWTSecretKey       string `envconfig:"JWT_SECRET_KEY" required:"true"`
	JWTIssuer          string `envconfig:"JWT_ISSUER" default:"marketplace"`
	// Publish rate limiting and the shared REST limiter store need REDIS_ADDR.
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	PublishRateLimit  int           `envconfig:"PUBLISH_RATE_LIMIT" default:"20"`
	PublishRateWindow time.Duration `envconfig:"PUBLISH_RATE_WINDOW" default:"10s"`
	PublishTimeout    time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"5s"`
	// API_RATE_LIMIT=0 disables REST request throttling.
	APIRateLimit    int           `envconfig:"API_RATE_LIMIT" default:"120"`
	APIRateWindow   time.Duration `envconfig:"API_RATE_WINDOW" default:"1m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads .env (if any) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	if c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.PublishRateLimit <= 0 {
		return fmt.Errorf("PUBLISH_RATE_LIMIT must be positive, got %d", c.PublishRateLimit)
	}
	if c.PublishRateWindow <= 0 {
		return fmt.Errorf("PUBLISH_RATE_WINDOW must be positive, got %s", c.PublishRateWindow)
	}
	if c.APIRateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT must not be negative, got %d", c.APIRateLimit)
	}
	if c.APIRateLimit > 0 && c.APIRateWindow <= 0 {
		return fmt.Errorf("API_RATE_WINDOW must be positive, got %s", c.APIRateWindow)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("PUBLISH_TIMEOUT must be positive, got %s", c.PublishTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WS_WRITE_TIMEOUT must be positive, got %s", c.WriteTimeout)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// RateLimited reports whether publishes go through the Redis limiter.
func (c Config) RateLimited() bool {
	return c.RedisAddr != ""
}

// Level returns LOG_LEVEL normalized to lower case.
func (c Config) Level() string {
	return strings.ToLower(c.LogLevel)
}

// JSONLogs reports whether LOG_FORMAT asks for JSON output.
func (c Config) JSONLogs() bool {
	return strings.EqualFold(c.LogFormat, "json")
}
