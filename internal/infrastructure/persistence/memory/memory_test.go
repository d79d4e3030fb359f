package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func samplePlan(t *testing.T, id string, owner shared.UserID, created time.Time) *plan.StudyPlan {
	t.Helper()
	p, err := plan.NewStudyPlan(plan.NewPlanParams{
		ID:          id,
		OwnerID:     owner,
		Period:      plan.PeriodDay,
		RepeatCount: 1,
		StartDate:   t0,
		Sessions: []plan.Session{{
			ID: id + "-s1", Subject: "Math", Start: t0, End: t0.Add(time.Hour),
			Type: plan.TypeLearning, Method: plan.MethodPomodoro, Priority: plan.PriorityMedium,
		}},
		GeneratedBy: plan.GeneratedByLocal,
		Now:         created,
	})
	require.NoError(t, err)
	return p
}

func TestPlanRepository_OwnerScoping(t *testing.T) {
	ctx := context.Background()
	repo := NewPlanRepository()
	require.NoError(t, repo.Create(ctx, samplePlan(t, "p1", "alice", t0)))

	_, err := repo.GetByID(ctx, "bob", "p1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	got, err := repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)
	got.Sessions[0].Subject = "mutated"

	again, err := repo.GetByID(ctx, "alice", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Math", again.Sessions[0].Subject)

	assert.ErrorIs(t, repo.Create(ctx, samplePlan(t, "p1", "alice", t0)), shared.ErrAlreadyExists)
	assert.ErrorIs(t, repo.Delete(ctx, "bob", "p1"), shared.ErrNotFound)
	require.NoError(t, repo.Delete(ctx, "alice", "p1"))
}

func TestPlanRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewPlanRepository()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, samplePlan(t, id, "alice", t0.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, repo.Create(ctx, samplePlan(t, "z", "bob", t0)))

	got, err := repo.ListByOwner(ctx, "alice", plan.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	got, err = repo.ListByOwner(ctx, "alice", plan.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	got, err = repo.ListByOwner(ctx, "alice", plan.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPlanRepository_UpdateSessionStatusIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewPlanRepository()
	require.NoError(t, repo.Create(ctx, samplePlan(t, "p1", "alice", t0)))

	require.NoError(t, repo.UpdateSessionStatus(ctx, "alice", "p1", "p1-s1", plan.StatusPlanned, plan.StatusInProgress))
	err := repo.UpdateSessionStatus(ctx, "alice", "p1", "p1-s1", plan.StatusPlanned, plan.StatusDone)
	assert.True(t, shared.IsConcurrency(err))

	err = repo.UpdateSessionStatus(ctx, "alice", "p1", "nope", plan.StatusInProgress, plan.StatusDone)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProgressionRepository_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressionRepository()

	_, err := repo.Get(ctx, "alice")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	st := progression.NewState("alice", t0)
	v, err := repo.Save(ctx, st)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	// A second writer still holding version 0 loses.
	_, err = repo.Save(ctx, st)
	assert.ErrorIs(t, err, shared.ErrStaleProgression)

	loaded, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	loaded.TotalXP = 50
	v, err = repo.Save(ctx, loaded)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}

func TestMasteryRepository_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMasteryRepository()

	set, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, set.Version)
	assert.Empty(t, set.Records)

	set.Records["Math"] = mastery.Record{Subject: "Math", Score: 10}
	_, err = repo.Save(ctx, set)
	require.NoError(t, err)

	_, err = repo.Save(ctx, set)
	assert.True(t, shared.IsConcurrency(err))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
	assert.InDelta(t, 10, got.Records["Math"].Score, 1e-9)
}

func TestProgressionCache(t *testing.T) {
	ctx := context.Background()
	c := NewProgressionCache()

	_, ok, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, progression.NewState("alice", t0)))
	_, ok, _ = c.Get(ctx, "alice")
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "alice", 1))
	_, ok, _ = c.Get(ctx, "alice")
	assert.False(t, ok)
}

func TestProgressionCache_SkipsStatesBelowFloor(t *testing.T) {
	ctx := context.Background()
	c := NewProgressionCache()

	require.NoError(t, c.Invalidate(ctx, "alice", 3))

	stale := progression.NewState("alice", t0)
	stale.Version = 2
	require.NoError(t, c.Set(ctx, stale))
	_, ok, _ := c.Get(ctx, "alice")
	assert.False(t, ok)

	fresh := progression.NewState("alice", t0)
	fresh.Version = 3
	require.NoError(t, c.Set(ctx, fresh))
	got, ok, _ := c.Get(ctx, "alice")
	require.True(t, ok)
	assert.EqualValues(t, 3, got.Version)
}
