package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes at
// "price:{key}" with fields "value", "ts" (Unix nanoseconds) and "src".
type PriceCache struct {
	c *Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

// SetPrice stores the observation and lets Redis expire it after ttl.
func (pc *PriceCache) SetPrice(ctx context.Context, key string, p domain.Price, ttl time.Duration) error {
	k := pc.c.key("price:", key)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]any{
		"value": p.Value.String(),
		"ts":    strconv.FormatInt(p.AsOf.UnixNano(), 10),
		"src":   p.Source,
	})
	if ttl > 0 {
		pipe.PExpire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

// GetPrice returns domain.ErrNotFound when nothing is cached for key.
func (pc *PriceCache) GetPrice(ctx context.Context, key string) (domain.Price, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price:", key)).Result()
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	raw, ok := vals["value"]
	if !ok {
		return domain.Price{}, domain.ErrNotFound
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse price %s: %w", key, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return domain.Price{Value: v, AsOf: time.Unix(0, tsNano).UTC(), Source: vals["src"]}, nil
}
