package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisJobLockKeyPrefix(t *testing.T) {
	assert.Equal(t, "tenure:payout_jobs:eligibility_check", NewRedisJobLock(nil, "").key("eligibility_check"))
	assert.Equal(t, "custom:membership_removals", NewRedisJobLock(nil, " custom: ").key(" membership_removals "))
}

func TestRedisJobLockWithoutClient(t *testing.T) {
	var lock *RedisJobLock
	_, ok, err := lock.Acquire(context.Background(), "job", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)

	_, ok, err = NewRedisJobLock(nil, "").Acquire(context.Background(), "job", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestRedisJobLockUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	release, ok, err := NewRedisJobLock(client, "").Acquire(context.Background(), "job", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
}
