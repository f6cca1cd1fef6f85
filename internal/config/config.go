// Package config loads dmboxd settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "DMBOX"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config holds dmboxd settings. It is read once at startup.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	Store         string `envconfig:"STORE" default:"postgres"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"dmbox"`

	// RedisURL enables the Redis event transport and directory cache.
	RedisURL string `envconfig:"REDIS_URL"`

	JWTSecret  string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL   time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	BcryptCost int           `envconfig:"BCRYPT_COST" default:"10"`

	MaxRecipients int `envconfig:"MAX_RECIPIENTS" default:"100"`
	MaxTextLength int `envconfig:"MAX_TEXT_LENGTH" default:"10000"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	OTelEnabled     bool          `envconfig:"OTEL_ENABLED" default:"false"`
}

// Load reads an optional .env file and then the environment.
// Variables already set in the environment win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("DMBOX_POSTGRES_DSN is required for the postgres store"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("DMBOX_MONGO_URI is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("DMBOX_JWT_SECRET must be at least 32 bytes"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("DMBOX_RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
