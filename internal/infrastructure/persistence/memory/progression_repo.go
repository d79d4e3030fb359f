package memory

import (
	"context"
	"sync"

	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ProgressionRepository implements progression.Repository with
// compare-and-swap on Version.
type ProgressionRepository struct {
	mu     sync.Mutex
	states map[shared.UserID]progression.State
}

var _ progression.Repository = (*ProgressionRepository)(nil)

// NewProgressionRepository creates an empty repository.
func NewProgressionRepository() *ProgressionRepository {
	return &ProgressionRepository{states: make(map[shared.UserID]progression.State)}
}

// Get returns a copy of the stored state.
func (r *ProgressionRepository) Get(_ context.Context, user shared.UserID) (progression.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[user]
	if !ok {
		return progression.State{}, shared.ErrProgressionNotFound
	}
	return st.Clone(), nil
}

// Save stores the state if the stored version equals state.Version.
func (r *ProgressionRepository) Save(_ context.Context, state progression.State) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.states[state.UserID].Version
	if current != state.Version {
		return 0, shared.ErrStaleProgression
	}
	next := state.Clone()
	next.Version = current + 1
	r.states[state.UserID] = next
	return next.Version, nil
}

// MasteryRepository implements mastery.Repository with compare-and-swap on
// Version.
type MasteryRepository struct {
	mu   sync.Mutex
	sets map[shared.UserID]mastery.Set
}

var _ mastery.Repository = (*MasteryRepository)(nil)

// NewMasteryRepository creates an empty repository.
func NewMasteryRepository() *MasteryRepository {
	return &MasteryRepository{sets: make(map[shared.UserID]mastery.Set)}
}

// Get returns the user's set, empty with Version 0 when none is stored.
func (r *MasteryRepository) Get(_ context.Context, user shared.UserID) (mastery.Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[user]
	if !ok {
		return mastery.NewSet(user), nil
	}
	return set.Clone(), nil
}

// Save stores the set if the stored version equals set.Version.
func (r *MasteryRepository) Save(_ context.Context, set mastery.Set) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.sets[set.UserID].Version
	if current != set.Version {
		return 0, shared.ErrStaleMastery
	}
	next := set.Clone()
	next.Version = current + 1
	r.sets[set.UserID] = next
	return next.Version, nil
}
