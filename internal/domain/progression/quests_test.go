package progression

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constRand float64

func (c constRand) Float64() float64 { return float64(c) }

func TestQuest_AdvanceCompletesOnce(t *testing.T) {
	q := NewQuest(QuestTemplate{Key: "k", Title: "K", Metric: MetricMinutes, Target: 30, XPReward: 50})
	assert.Equal(t, QuestNotStarted, q.State())

	q, done := q.Advance(20)
	assert.False(t, done)
	assert.Equal(t, QuestInProgress, q.State())

	q, done = q.Advance(20)
	assert.True(t, done)
	assert.Equal(t, QuestCompleted, q.State())
	assert.Equal(t, 40, q.Current)

	q2, done := q.Advance(100)
	assert.False(t, done)
	assert.Equal(t, q, q2)
}

func TestQuestIncrement(t *testing.T) {
	a := Activity{MinutesStudied: 50, SessionsCompleted: 2, At: time.Now()}

	assert.Equal(t, 50, QuestIncrement(MetricMinutes, a, 12))
	assert.Equal(t, 2, QuestIncrement(MetricSessions, a, 12))
	assert.Equal(t, 1, QuestIncrement(MetricNightOwl, a, 23))
	assert.Equal(t, 1, QuestIncrement(MetricNightOwl, a, 2))
	assert.Equal(t, 0, QuestIncrement(MetricNightOwl, a, 12))
	assert.Equal(t, 1, QuestIncrement(MetricEarlyBird, a, 6))
	assert.Equal(t, 0, QuestIncrement(MetricEarlyBird, a, 8))
	assert.Equal(t, 0, QuestIncrement(MetricEarlyBird, a, 2))
	assert.Equal(t, 1, QuestIncrement(MetricFocusedEvent, a, 12))
	assert.Equal(t, 0, QuestIncrement(MetricFocusedEvent, Activity{MinutesStudied: 44}, 12))
}

func TestDrawQuests_DistinctAndBounded(t *testing.T) {
	templates := DefaultCatalog().Quests
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		quests := DrawQuests(templates, i%40, 3, rng)
		require.Len(t, quests, 3)
		seen := map[string]bool{}
		for _, q := range quests {
			assert.False(t, seen[q.Key], "duplicate quest %s", q.Key)
			seen[q.Key] = true
		}
	}
}

func TestDrawQuests_HardQuestsNeedStreak(t *testing.T) {
	templates := DefaultCatalog().Quests
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		for _, q := range DrawQuests(templates, 3, 4, rng) {
			assert.NotEqual(t, "perfectionist", q.Key)
			assert.NotEqual(t, "bookworm", q.Key)
		}
	}

	// With a long streak every template can be drawn.
	all := DrawQuests(templates, 30, len(templates), rng)
	assert.Len(t, all, len(templates))
}

func TestDrawQuests_Deterministic(t *testing.T) {
	templates := DefaultCatalog().Quests

	a := DrawQuests(templates, 10, 3, rand.New(rand.NewSource(42)))
	b := DrawQuests(templates, 10, 3, rand.New(rand.NewSource(42)))
	assert.Equal(t, a, b)

	first := DrawQuests(templates, 0, 2, constRand(0))
	require.Len(t, first, 2)
	assert.Equal(t, "study-30-min", first[0].Key)
	assert.Equal(t, "complete-2-sessions", first[1].Key)
}

func TestDrawQuests_PoolSmallerThanN(t *testing.T) {
	templates := []QuestTemplate{{Key: "a", Metric: MetricMinutes, Target: 1}}
	assert.Len(t, DrawQuests(templates, 0, 3, constRand(0.5)), 1)
	assert.Empty(t, DrawQuests(nil, 0, 3, constRand(0.5)))
}

func TestCatalog_Validate(t *testing.T) {
	require.NoError(t, DefaultCatalog().Validate())

	c := DefaultCatalog()
	c.Quests = append(c.Quests, c.Quests[0])
	assert.Error(t, c.Validate())

	c = DefaultCatalog()
	c.Badges[0].Threshold = 0
	assert.Error(t, c.Validate())

	c = DefaultCatalog()
	c.Quests[0].Metric = "steps"
	assert.Error(t, c.Validate())
}

func TestNewBadges_SkipsOwned(t *testing.T) {
	now := day(5, 12)
	st := State{UserID: "u1", TotalSessions: 3, TotalStudyMinutes: 400, StreakDays: 7}
	st.Badges = []Badge{{Key: "first-steps"}}

	got := NewBadges(st, DefaultCatalog().Badges, now)
	keys := make([]string, 0, len(got))
	for _, b := range got {
		keys = append(keys, b.Key)
		assert.Equal(t, now, b.AwardedAt)
	}
	assert.Equal(t, []string{"five-hours", "week-streak"}, keys)
}
