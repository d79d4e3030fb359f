package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION CACHE
// ══════════════════════════════════════════════════════════════════════════════

// setIfCurrentScript writes KEYS[1] unless the floor in KEYS[2] is above
// the state version. ARGV: payload, version, ttl in milliseconds.
var setIfCurrentScript = redis.NewScript(`
local floor = redis.call("GET", KEYS[2])
if floor and tonumber(floor) > tonumber(ARGV[2]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// invalidateScript drops KEYS[1] and raises the floor in KEYS[2] to ARGV[1].
var invalidateScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
local floor = redis.call("GET", KEYS[2])
if not floor or tonumber(floor) < tonumber(ARGV[1]) then
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
else
	redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`)

// ProgressionCache implements progression.Cache on top of Cache.
type ProgressionCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ progression.Cache = (*ProgressionCache)(nil)

// NewProgressionCache creates a cache. A non-positive ttl uses
// TTLProgressionCache.
func NewProgressionCache(cache *Cache, ttl time.Duration) *ProgressionCache {
	if ttl <= 0 {
		ttl = TTLProgressionCache
	}
	return &ProgressionCache{cache: cache, ttl: ttl}
}

// Get returns the cached state. A miss is (State{}, false, nil).
func (p *ProgressionCache) Get(ctx context.Context, user shared.UserID) (progression.State, bool, error) {
	var st progression.State
	err := p.cache.Get(ctx, ProgressionKey(user.String()), &st)
	if errors.Is(err, ErrCacheMiss) {
		return progression.State{}, false, nil
	}
	if err != nil {
		return progression.State{}, false, err
	}
	return st, true, nil
}

// Set stores the state under the user's key unless an invalidation
// already announced a newer version.
func (p *ProgressionCache) Set(ctx context.Context, state progression.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	user := state.UserID.String()
	keys := []string{ProgressionKey(user), ProgressionFloorKey(user)}
	return setIfCurrentScript.Run(ctx, p.cache.Client(), keys,
		data, state.Version, p.ttl.Milliseconds()).Err()
}

// Invalidate drops the user's entry and records version as the floor.
func (p *ProgressionCache) Invalidate(ctx context.Context, user shared.UserID, version int64) error {
	keys := []string{ProgressionKey(user.String()), ProgressionFloorKey(user.String())}
	return invalidateScript.Run(ctx, p.cache.Client(), keys,
		strconv.FormatInt(version, 10), p.ttl.Milliseconds()).Err()
}
