package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLeaseTTL = 90 * time.Second

var ErrLeaseLost = errors.New("lease is held by another owner")

var renewLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisLease is a non-reentrant, non-queued mutual exclusion lease. The TTL only
// matters when the owner dies without releasing; a live owner renews it.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	return &RedisLease{client: client, key: key, ttl: ttl}
}

// TryAcquire never blocks: it either takes the lease for owner or reports false.
func (l *RedisLease) TryAcquire(ctx context.Context, owner string) (bool, error) {
	return l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
}

func (l *RedisLease) Renew(ctx context.Context, owner string) error {
	result, err := renewLeaseScript.Run(ctx, l.client, []string{l.key}, owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLeaseLost
	}

	return nil
}

// Release deletes the lease only if owner still holds it.
func (l *RedisLease) Release(ctx context.Context, owner string) error {
	_, err := releaseLeaseScript.Run(ctx, l.client, []string{l.key}, owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	return nil
}

func (l *RedisLease) Owner(ctx context.Context) (string, bool, error) {
	owner, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}

	return owner, true, nil
}
