package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
)

const overviewKey = "pharmacy:stock:overview"

// Redis caches the stock overview with a TTL. Staleness inside the TTL is
// acceptable for this read; writes invalidate the key anyway.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context) ([]domain.ProductStockOverview, bool, error) {
	raw, err := c.client.Get(ctx, overviewKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read overview cache: %w", err)
	}
	var overview []domain.ProductStockOverview
	if err := json.Unmarshal(raw, &overview); err != nil {
		// A corrupt entry is treated as a miss and rewritten by the caller.
		return nil, false, nil
	}
	return overview, true, nil
}

func (c *Redis) Set(ctx context.Context, overview []domain.ProductStockOverview) error {
	raw, err := json.Marshal(overview)
	if err != nil {
		return fmt.Errorf("encode overview cache: %w", err)
	}
	if err := c.client.Set(ctx, overviewKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write overview cache: %w", err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, overviewKey).Err(); err != nil {
		return fmt.Errorf("invalidate overview cache: %w", err)
	}
	return nil
}
