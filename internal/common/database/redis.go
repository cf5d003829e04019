// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"loan-pipeline/internal/common/config"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPoolSize = 20

// RedisClient is shared by the counter store, the queue and the score cache.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis builds the client without dialing. Caller context deadlines bound
// every command; blocking stream reads get BLOCK plus the client's margin.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis: address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultRedisPoolSize
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.Address,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ClientName:            "loan-pipeline",
		DialTimeout:           5 * time.Second,
		ReadTimeout:           3 * time.Second,
		WriteTimeout:          3 * time.Second,
		ContextTimeoutEnabled: true,
		PoolSize:              poolSize,
		MinIdleConns:          poolSize / 4,
	})
	return &RedisClient{Client: rdb}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
