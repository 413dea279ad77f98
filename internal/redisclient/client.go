package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis with the two concerns this service has: a
// best-effort mirror of inventory stock (the database stays
// authoritative) and a short-lived cache of gateway session answers to
// absorb the redirect page's polling.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("inventory:%d", productID)
}

// SyncStock seeds or refreshes the mirror from authoritative inventory
// rows, typically at startup.
func (c *Client) SyncStock(ctx context.Context, entries []models.Inventory) error {
	pipe := c.rdb.Pipeline()
	for _, entry := range entries {
		pipe.Set(ctx, stockKey(entry.ProductID), entry.Stock, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DecrementStock applies a decrement to the mirror. DECRBY is atomic,
// so concurrent mirror updates cannot interleave.
func (c *Client) DecrementStock(ctx context.Context, productID int64, quantity int) (int, error) {
	n, err := c.rdb.DecrBy(ctx, stockKey(productID), int64(quantity)).Result()
	return int(n), err
}

func sessionStatusKey(sessionID string) string {
	return fmt.Sprintf("session-status:%s", sessionID)
}

// CacheSessionStatus stores a poll answer with a TTL.
func (c *Client) CacheSessionStatus(ctx context.Context, sessionID string, status interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, sessionStatusKey(sessionID), payload, ttl).Err()
}

// GetCachedSessionStatus loads a cached poll answer into dest. Returns
// false when there is no cached answer.
func (c *Client) GetCachedSessionStatus(ctx context.Context, sessionID string, dest interface{}) (bool, error) {
	payload, err := c.rdb.Get(ctx, sessionStatusKey(sessionID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(payload, dest)
}

// InvalidateSessionStatus drops a cached poll answer, used right after a
// state transition so pollers see the new truth immediately.
func (c *Client) InvalidateSessionStatus(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, sessionStatusKey(sessionID)).Err()
}
