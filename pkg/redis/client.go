// Package redis provides a thin wrapper around go-redis/v9 used to mirror the
// relay's committed positions into a hash that operators and dashboards can
// read without talking to the broker.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
)

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// ProgressKey returns the hash key holding positions for a consumer group.
func ProgressKey(prefix, group string) string {
	return prefix + ":" + group
}

// PartitionField returns the hash field for one topic partition.
func PartitionField(topic string, partition int) string {
	return topic + "/" + strconv.Itoa(partition)
}

// SetProgress writes the given fields into the hash at key and refreshes its
// TTL in a single pipeline. A zero ttl leaves the key without expiry.
func (c *Client) SetProgress(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording progress in %s: %w", key, err)
	}
	return nil
}

// Progress returns every field of the hash at key. A missing key yields an
// empty map.
func (c *Client) Progress(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading progress from %s: %w", key, err)
	}
	return fields, nil
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
