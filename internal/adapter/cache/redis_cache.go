package cache

import (
	"context"
	"errors"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
	"github.com/redis/go-redis/v9"
)

// RedisCache holds the order status projection, keyed by owner and order.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func statusKey(userID, orderID string) string {
	return "order:status:" + userID + ":" + orderID
}

// setIfNewer writes ARGV[1] unless the key holds a status of higher rank, or
// a different terminal status. Ranks mirror domain.Status.Rank.
var setIfNewer = redis.NewScript(`
local rank = {pending=0, processing=1, paid=2, failed=2, cancelled=2}
local cur = redis.call('GET', KEYS[1])
if cur then
  local r = rank[cur]
  local want = tonumber(ARGV[2])
  if r ~= nil and (r > want or (r == 2 and cur ~= ARGV[1])) then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// SetStatus moves the cached status forward only. Events can arrive late or
// be redelivered; an older status never replaces a newer one.
func (r *RedisCache) SetStatus(ctx context.Context, userID, orderID string, status domain.Status) error {
	return setIfNewer.Run(ctx, r.rdb, []string{statusKey(userID, orderID)},
		string(status), status.Rank(), r.ttl.Milliseconds()).Err()
}

func (r *RedisCache) GetStatus(ctx context.Context, userID, orderID string) (domain.Status, bool, error) {
	v, err := r.rdb.Get(ctx, statusKey(userID, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	st, err := domain.ParseStatus(v)
	if err != nil {
		// Unreadable entry: treat as a miss so the store answers.
		return "", false, nil
	}
	return st, true, nil
}

var _ usecase.OrderCache = (*RedisCache)(nil)
