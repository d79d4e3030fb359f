package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCK
// SET NX PX with a random token; release deletes the key only while the token
// still matches, so an expired holder never frees someone else's lock.
// ══════════════════════════════════════════════════════════════════════════════

// ErrLockNotReleased is returned when the lock expired before release.
var ErrLockNotReleased = errors.New("lock: not held at release")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLock is a Redis-backed distributed lock.
type UserLock struct {
	client redis.UniversalClient
	// retryEvery is the poll interval while the key is held elsewhere.
	retryEvery time.Duration
	newToken   func() string
}

// NewUserLock creates a lock over client.
func NewUserLock(client redis.UniversalClient) *UserLock {
	return &UserLock{
		client:     client,
		retryEvery: 25 * time.Millisecond,
		newToken:   uuid.NewString,
	}
}

// Acquire polls SET NX until the key is taken or ctx is done. The returned
// release function deletes the key if this holder still owns it.
func (l *UserLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	key := LockKey(resource)
	token := l.newToken()

	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			var n int64
			n, err = releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
			if err == nil && n == 0 {
				err = ErrLockNotReleased
			}
		})
		return err
	}
	return release, nil
}
