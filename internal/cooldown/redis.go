package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"price-tier-alerts/internal/monitor"
)

// advanceScript stores ARGV[1] (unix millis) only when it is newer than the current value.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Redis keeps the ledger in redis so cooldowns survive restarts.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedis constructs a redis-backed ledger. Entries expire after retention,
// or after the cooldown window of the send when that is longer.
func NewRedis(client redis.UniversalClient, prefix string, retention time.Duration) *Redis {
	if prefix == "" {
		prefix = "pricewatch"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Redis{client: client, prefix: prefix, retention: retention}
}

func (r *Redis) key(asset string, category monitor.Category) string {
	return fmt.Sprintf("%s:cooldown:%s:%s", r.prefix, asset, category)
}

// IsOnCooldown implements Ledger.
func (r *Redis) IsOnCooldown(ctx context.Context, asset string, category monitor.Category, now time.Time, window time.Duration) (bool, error) {
	raw, err := r.client.Get(ctx, r.key(asset, category)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cooldown: %w", err)
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse cooldown value %q: %w", raw, err)
	}
	return onCooldown(time.UnixMilli(millis), now, window), nil
}

// RecordSent implements Ledger.
func (r *Redis) RecordSent(ctx context.Context, asset string, category monitor.Category, now time.Time, window time.Duration) error {
	ttl := max(r.retention, window)
	err := advanceScript.Run(ctx, r.client, []string{r.key(asset, category)}, now.UnixMilli(), ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("record cooldown: %w", err)
	}
	return nil
}

var _ Ledger = (*Redis)(nil)
