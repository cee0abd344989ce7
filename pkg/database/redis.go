package database

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shrinkfuzz/config"
)

// NewRedisClient connects to the shared seen-set store when REDIS_URL is
// configured. A nil client means runs keep their seen set to themselves.
func NewRedisClient(cfg *config.AppConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)

	// Test the connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	logger.Debug("Redis client created successfully")
	return client, nil
}
