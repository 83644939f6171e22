package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobLock gives one replica exclusive use of a named job.
type JobLock interface {
	// Acquire returns acquired=false when another holder owns the lock. release is
	// non-nil only when the lock was acquired.
	Acquire(ctx context.Context, job string, ttl time.Duration) (release func(), acquired bool, err error)
}

var releaseJobLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobLock implements JobLock with SET NX PX and a token-checked release.
type RedisJobLock struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisJobLock(client redis.UniversalClient, prefix string) *RedisJobLock {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "tenure:payout_jobs"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisJobLock{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (l *RedisJobLock) key(job string) string {
	return fmt.Sprintf("%s:%s", l.prefix, strings.TrimSpace(job))
}

func (l *RedisJobLock) Acquire(ctx context.Context, job string, ttl time.Duration) (func(), bool, error) {
	if l == nil || l.client == nil {
		return nil, false, fmt.Errorf("redis job lock not configured")
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	key := l.key(job)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseJobLockScript.Run(rctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
