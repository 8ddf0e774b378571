package config

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the client used by the change-event stream sink. The sink bounds
// every write with RedisPublishTimeout, so retries and dials are kept short.
func NewRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,

		MaxRetries:   1,
		PoolSize:     10,
		MinIdleConns: 1,

		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  time.Second,

		ConnMaxIdleTime: 30 * time.Minute,
		ConnMaxLifetime: time.Hour,
	})
}
