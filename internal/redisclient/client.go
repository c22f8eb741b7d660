package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb             *redis.Client
	availabilityTTL time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int, availabilityTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, availabilityTTL: availabilityTTL}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func availabilityKey(productID int64) string {
	return fmt.Sprintf("availability:%d", productID)
}

// GetAvailability returns the cached on-hand quantity for a product.
// The second return value reports a cache hit.
func (c *Client) GetAvailability(ctx context.Context, productID int64) (int64, bool, error) {
	quantity, err := c.rdb.Get(ctx, availabilityKey(productID)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return quantity, true, nil
}

// SetAvailability caches the on-hand quantity for a product
func (c *Client) SetAvailability(ctx context.Context, productID, quantity int64) error {
	return c.rdb.Set(ctx, availabilityKey(productID), quantity, c.availabilityTTL).Err()
}

// DecrementAvailability lowers the cached quantity after a committed
// allocation. A missing key is left missing; the next read repopulates
// it from the store.
func (c *Client) DecrementAvailability(ctx context.Context, productID, quantity int64) error {
	key := availabilityKey(productID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}
	return c.rdb.DecrBy(ctx, key, quantity).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}
