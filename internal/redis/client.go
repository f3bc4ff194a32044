// Package redis wraps the Redis connection used for cross-instance
// coordination: two sync processes pointed at the same directory server
// must not run a pull pass concurrently.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
}

// Client is a thin wrapper over the go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient connects and verifies the connection with a ping.
func NewClient(config *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromExisting wraps an already-configured go-redis client. Useful
// in tests running against an in-process Redis.
func NewFromExisting(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Underlying exposes the raw client for libraries that need the
// connection pool, such as the lock manager.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
