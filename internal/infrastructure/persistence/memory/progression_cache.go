package memory

import (
	"context"
	"sync"

	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ProgressionCache implements progression.Cache in process memory.
type ProgressionCache struct {
	mu     sync.RWMutex
	states map[shared.UserID]progression.State
	floors map[shared.UserID]int64
}

var _ progression.Cache = (*ProgressionCache)(nil)

// NewProgressionCache creates an empty cache.
func NewProgressionCache() *ProgressionCache {
	return &ProgressionCache{
		states: make(map[shared.UserID]progression.State),
		floors: make(map[shared.UserID]int64),
	}
}

// Get returns the cached state.
func (c *ProgressionCache) Get(_ context.Context, user shared.UserID) (progression.State, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[user]
	if !ok {
		return progression.State{}, false, nil
	}
	return st.Clone(), true, nil
}

// Set caches a state unless it is older than the invalidation floor.
func (c *ProgressionCache) Set(_ context.Context, state progression.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state.Version < c.floors[state.UserID] {
		return nil
	}
	c.states[state.UserID] = state.Clone()
	return nil
}

// Invalidate drops a cached state and raises the user's floor to version.
func (c *ProgressionCache) Invalidate(_ context.Context, user shared.UserID, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, user)
	if version > c.floors[user] {
		c.floors[user] = version
	}
	return nil
}
