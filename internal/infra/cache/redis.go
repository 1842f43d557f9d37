package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"exchange_go/internal/domain"
)

const (
	snapshotKeyPrefix = "exchange:depth:"
	recentFillsPrefix = "exchange:fills:"
)

// Cache is the Redis-backed read-path accelerator. Every method is
// best-effort: the trading core treats failures as a cache miss.
type Cache struct {
	client *redis.Client
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Cache{client: client}, nil
}

// SetSnapshot stores the aggregated depth view with a TTL.
func (c *Cache) SetSnapshot(ctx context.Context, snapshot *domain.BookSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKeyPrefix+snapshot.Symbol, data, ttl).Err()
}

// GetSnapshot returns the cached depth view, or (nil, nil) on a miss.
func (c *Cache) GetSnapshot(ctx context.Context, symbol string) (*domain.BookSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKeyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot domain.BookSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// PushRecentFill prepends a fill to the symbol's recent-trades list and trims
// it to maxLen.
func (c *Cache) PushRecentFill(ctx context.Context, fill *domain.Fill, maxLen int64) error {
	data, err := json.Marshal(fill)
	if err != nil {
		return err
	}
	key := recentFillsPrefix + fill.Symbol

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentFills reads up to limit fills from the symbol's recent-trades list,
// newest first.
func (c *Cache) RecentFills(ctx context.Context, symbol string, limit int64) ([]domain.Fill, error) {
	rows, err := c.client.LRange(ctx, recentFillsPrefix+symbol, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(rows))
	for _, row := range rows {
		var f domain.Fill
		if err := json.Unmarshal([]byte(row), &f); err != nil {
			continue
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
