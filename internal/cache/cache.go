// Package cache はブリーフィングの読み取りキャッシュを提供する。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// DefaultTTL はブリーフィングキャッシュの最大TTL。
const DefaultTTL = 24 * time.Hour

// RedisBriefingCache はRedisにブリーフィングをJSONで保存する。
// TTLは最大TTLと次のカットオフまでの時間の短い方で、版が切り替わると自然に失効する。
type RedisBriefingCache struct {
	rdb    redis.UniversalClient
	clock  *edition.Clock
	maxTTL time.Duration
	now    func() time.Time
}

// NewRedisBriefingCache はRedisBriefingCacheを生成する。maxTTLが0以下の場合はDefaultTTL。
func NewRedisBriefingCache(rdb redis.UniversalClient, clock *edition.Clock, maxTTL time.Duration) *RedisBriefingCache {
	if maxTTL <= 0 {
		maxTTL = DefaultTTL
	}
	if clock == nil {
		clock = edition.DefaultClock()
	}
	return &RedisBriefingCache{rdb: rdb, clock: clock, maxTTL: maxTTL, now: time.Now}
}

// Key はキャッシュキーを返す。
func Key(userID string, date edition.Date) string {
	return fmt.Sprintf("briefing:%s:%s", userID, date)
}

// Get はキャッシュされたブリーフィングを返す。ない場合はnil。
func (c *RedisBriefingCache) Get(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error) {
	raw, err := c.rdb.Get(ctx, Key(userID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached briefing: %w", err)
	}
	var b model.Briefing
	if err := json.Unmarshal(raw, &b); err != nil {
		// 壊れたエントリはミス扱いにして消す
		c.rdb.Del(ctx, Key(userID, date))
		return nil, nil
	}
	return &b, nil
}

// Set はブリーフィングをキャッシュする。
func (c *RedisBriefingCache) Set(ctx context.Context, b *model.Briefing) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal briefing: %w", err)
	}
	ttl := c.clock.TTLUntilNextCutoff(c.now(), c.maxTTL)
	if err := c.rdb.Set(ctx, Key(b.UserID, b.EditionDate), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache briefing: %w", err)
	}
	return nil
}

// Delete はキャッシュを削除する。
func (c *RedisBriefingCache) Delete(ctx context.Context, userID string, date edition.Date) error {
	if err := c.rdb.Del(ctx, Key(userID, date)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached briefing: %w", err)
	}
	return nil
}
