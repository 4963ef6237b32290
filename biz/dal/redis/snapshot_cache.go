package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rex-hertz/biz/model"

	"github.com/redis/go-redis/v9"
)

const orderBookKeyPrefix = "orderbook:"

// SnapshotCache 订单簿快照缓存，整值覆盖写，读侧不会看到半份快照
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

// Get 命中返回快照，未命中返回 (nil, nil)
func (c *SnapshotCache) Get(ctx context.Context, fundingID string) (*model.OrderBookSnapshot, error) {
	val, err := c.rdb.Get(ctx, orderBookKeyPrefix+fundingID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap model.OrderBookSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *SnapshotCache) Set(ctx context.Context, snap *model.OrderBookSnapshot) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, orderBookKeyPrefix+snap.FundingID, val, c.ttl).Err()
}

func (c *SnapshotCache) Invalidate(ctx context.Context, fundingID string) error {
	return c.rdb.Del(ctx, orderBookKeyPrefix+fundingID).Err()
}
