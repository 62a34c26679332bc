package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript increments KEYS[1] unless it already reached ARGV[1].
var consumeScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

// counterTTL keeps a day's counter a little longer than the day itself.
const counterTTL = 48 * time.Hour

// Redis keeps the daily counter in redis, one key per calendar date.
type Redis struct {
	client redis.UniversalClient
	prefix string
	loc    *time.Location
}

// NewRedis constructs a redis-backed limiter.
func NewRedis(client redis.UniversalClient, prefix string, loc *time.Location) *Redis {
	if prefix == "" {
		prefix = "pricewatch"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Redis{client: client, prefix: prefix, loc: loc}
}

func (r *Redis) key(now time.Time) string {
	return fmt.Sprintf("%s:daily:%s", r.prefix, now.In(r.loc).Format(dateLayout))
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, now time.Time, limit int) (bool, error) {
	count, err := r.Count(ctx, now)
	if err != nil {
		return false, err
	}
	return count < limit, nil
}

// TryConsume implements Limiter.
func (r *Redis) TryConsume(ctx context.Context, now time.Time, limit int) (bool, error) {
	res, err := consumeScript.Run(ctx, r.client, []string{r.key(now)}, limit, int64(counterTTL.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("consume daily slot: %w", err)
	}
	return res == 1, nil
}

// Count implements Limiter.
func (r *Redis) Count(ctx context.Context, now time.Time) (int, error) {
	raw, err := r.client.Get(ctx, r.key(now)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily counter: %w", err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse daily counter %q: %w", raw, err)
	}
	return count, nil
}

var _ Limiter = (*Redis)(nil)
