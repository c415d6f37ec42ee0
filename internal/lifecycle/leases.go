package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
)

// Leases marks artifacts that a job still depends on. Leased artifacts are
// skipped by the sweep regardless of age.
type Leases interface {
	Acquire(ctx context.Context, ns storage.Namespace, name string, ttl time.Duration) error
	Release(ctx context.Context, ns storage.Namespace, name string) error
	Leased(ctx context.Context, ns storage.Namespace, name string) (bool, error)
}

// RedisLeases keeps leases as expiring keys, so a lease held by a crashed
// worker lapses on its own.
type RedisLeases struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLeases(rdb *redis.Client, prefix string) *RedisLeases {
	return &RedisLeases{rdb: rdb, prefix: prefix}
}

func (l *RedisLeases) key(ns storage.Namespace, name string) string {
	return l.prefix + "lease:" + ns.Key(name)
}

func (l *RedisLeases) Acquire(ctx context.Context, ns storage.Namespace, name string, ttl time.Duration) error {
	if err := l.rdb.Set(ctx, l.key(ns, name), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to acquire lease on %s: %w", ns.Key(name), err)
	}
	return nil
}

func (l *RedisLeases) Release(ctx context.Context, ns storage.Namespace, name string) error {
	if err := l.rdb.Del(ctx, l.key(ns, name)).Err(); err != nil {
		return fmt.Errorf("failed to release lease on %s: %w", ns.Key(name), err)
	}
	return nil
}

func (l *RedisLeases) Leased(ctx context.Context, ns storage.Namespace, name string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.key(ns, name)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lease on %s: %w", ns.Key(name), err)
	}
	return n > 0, nil
}

var _ Leases = (*RedisLeases)(nil)
