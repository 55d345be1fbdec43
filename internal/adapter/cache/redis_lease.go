package cache

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLease lets one replica at a time run a periodic job. A lease is never
// released early; it simply expires, so every tick across the fleet runs the
// job at most once per TTL.
type RedisLease struct {
	rdb   *redis.Client
	owner string
}

func NewRedisLease(rdb *redis.Client) *RedisLease {
	host, _ := os.Hostname()
	return &RedisLease{rdb: rdb, owner: host + "/" + uuid.NewString()}
}

func (l *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, "lease:"+name, l.owner, ttl).Result()
}
