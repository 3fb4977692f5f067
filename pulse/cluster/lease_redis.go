package cluster

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/tempo/errors"
)

// Owner-checked scripts: a node may only extend or drop its own lease.
var (
	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)
)

// RedisLeases keeps leases as Redis keys holding the owner id, expiring
// with the TTL.
type RedisLeases struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisLeases(rdb redis.UniversalClient, prefix string) *RedisLeases {
	return &RedisLeases{rdb: rdb, prefix: prefix}
}

func (l *RedisLeases) key(name string) string {
	return l.prefix + name
}

func (l *RedisLeases) Acquire(ctx context.Context, name, owner string, ttl time.Duration) error {
	ok, err := l.rdb.SetNX(ctx, l.key(name), owner, ttl).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to acquire lease %s", name)
	}
	if ok {
		return nil
	}
	// already present: succeed only if it is ours
	return l.Renew(ctx, name, owner, ttl)
}

func (l *RedisLeases) Renew(ctx context.Context, name, owner string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key(name)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return errors.Wrapf(err, "failed to renew lease %s", name)
	}
	if n != 1 {
		return errors.Wrapf(errors.ErrLeaseHeld, "lease %s", name)
	}
	return nil
}

func (l *RedisLeases) Release(ctx context.Context, name, owner string) error {
	err := releaseScript.Run(ctx, l.rdb, []string{l.key(name)}, owner).Err()
	return errors.Wrapf(err, "failed to release lease %s", name)
}

// Ping checks connectivity at startup.
func (l *RedisLeases) Ping(ctx context.Context) error {
	return errors.Wrap(l.rdb.Ping(ctx).Err(), "failed to reach redis")
}

var (
	_ LeaseStore = NopLeases{}
	_ LeaseStore = (*SQLiteLeases)(nil)
	_ LeaseStore = (*RedisLeases)(nil)
)
