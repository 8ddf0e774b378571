package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StorageDriverMongo  = "mongo"
	StorageDriverMemory = "memory"
)

// ErrInvalidConfig marks configuration that parsed but cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the students service. It is built once at startup and
// passed by pointer to the components that need it.
type Config struct {
	// Server
	ServerHost string `env:"SERVER_HOST" envDefault:"localhost"`
	ServerPort string `env:"SERVER_PORT" envDefault:"3000"`

	// Document database
	MongoURI       string        `env:"MONGO_URI,required"`
	DatabaseName   string        `env:"DATABASE_NAME" envDefault:"students_db"`
	CollectionName string        `env:"COLLECTION_NAME" envDefault:"students"`
	StorageDriver  string        `env:"STORAGE_DRIVER" envDefault:"mongo"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	QueryTimeout   time.Duration `env:"QUERY_TIMEOUT" envDefault:"5s"`

	// Session signing
	SecretKey       string        `env:"SECRET_KEY,required"`
	FlashCookieName string        `env:"FLASH_COOKIE_NAME" envDefault:"students_flash"`
	FlashTTL        time.Duration `env:"FLASH_TTL" envDefault:"5m"`

	// Change events
	RedisAddr           string        `env:"REDIS_ADDR"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB" envDefault:"0"`
	RedisStream         string        `env:"REDIS_STREAM" envDefault:"students:events"`
	RedisMaxLen         int64         `env:"REDIS_STREAM_MAX_LEN" envDefault:"10000"`
	RedisPublishTimeout time.Duration `env:"REDIS_PUBLISH_TIMEOUT" envDefault:"2s"`

	// Logging
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// HTTP limits
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	AllowOrigins    string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`

	Testing bool `env:"TESTING" envDefault:"false"`
}

// LoadConfig loads configuration from the process environment.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(nil)
}

// LoadConfigFrom loads configuration from the given variables instead of the process
// environment when vars is non-nil.
func LoadConfigFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}

	opts := env.Options{}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot express with tags.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MongoURI) == "" {
		return fmt.Errorf("%w: MONGO_URI is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("%w: SECRET_KEY is required", ErrInvalidConfig)
	}

	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case StorageDriverMongo, StorageDriverMemory:
	default:
		return fmt.Errorf("%w: STORAGE_DRIVER must be %q or %q, got %q",
			ErrInvalidConfig, StorageDriverMongo, StorageDriverMemory, c.StorageDriver)
	}

	if c.DatabaseName == "" || c.CollectionName == "" {
		return fmt.Errorf("%w: DATABASE_NAME and COLLECTION_NAME must not be empty", ErrInvalidConfig)
	}
	if c.QueryTimeout <= 0 || c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.FlashTTL <= 0 {
		return fmt.Errorf("%w: FLASH_TTL must be positive", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// RedisEnabled reports whether change events should also be written to Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}
