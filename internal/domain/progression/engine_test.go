package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

func newTestEngine(mutate ...func(*Config)) *Engine {
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return NewEngine(cfg, mastery.NewTracker(mastery.DefaultConfig()))
}

func eventTypes(events []shared.Event) []shared.EventType {
	out := make([]shared.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType())
	}
	return out
}

func TestRecordSession_FirstSession(t *testing.T) {
	e := newTestEngine()
	at := day(10, 10)

	out, err := e.RecordSession(NewState("u1", at), mastery.NewSet("u1"),
		Activity{MinutesStudied: 30, SessionsCompleted: 1, Subject: "Math", At: at}, constRand(0))
	require.NoError(t, err)

	st := out.State
	assert.Equal(t, 1, st.StreakDays)
	assert.Equal(t, 1, st.BestStreak)
	assert.Equal(t, day(10, 0), st.LastStudyDate)
	assert.Equal(t, "2024-03-10", st.QuestResetDate)

	assert.Equal(t, 300, out.StudyXP)
	assert.Equal(t, 50, out.QuestXP)
	assert.Equal(t, 350, st.TotalXP)
	assert.Equal(t, st.TotalXP, st.XP)
	assert.Equal(t, 1, out.LevelBefore)
	assert.Equal(t, 2, out.LevelAfter)
	assert.True(t, out.LeveledUp())

	require.Len(t, st.DailyQuests, 3)
	q, ok := st.Quest("study-30-min")
	require.True(t, ok)
	assert.True(t, q.Completed)
	q, _ = st.Quest("complete-2-sessions")
	assert.Equal(t, QuestInProgress, q.State())

	assert.True(t, st.HasBadge("first-steps"))
	assert.Equal(t, Companion{Level: 1, Happiness: 55}, st.Companion)
	assert.Equal(t, 30, st.TotalStudyMinutes)
	assert.Equal(t, 1, st.TotalSessions)

	require.True(t, out.MasteryChanged)
	score, ok := out.Mastery.ScoreOf("Math")
	require.True(t, ok)
	assert.InDelta(t, 2.0, score, 1e-9)

	assert.Equal(t, []shared.EventType{
		shared.EventStreakUpdated,
		shared.EventXPGained,
		shared.EventQuestCompleted,
		shared.EventXPGained,
		shared.EventLevelUp,
		shared.EventBadgeUnlocked,
		shared.EventMasteryUpdated,
	}, eventTypes(out.Events))

	require.Len(t, st.Notifications, 3)
	assert.Equal(t, NotifyQuestCompleted, st.Notifications[0].Kind)
	assert.Equal(t, NotifyLevelUp, st.Notifications[1].Kind)
	assert.Equal(t, NotifyBadgeUnlocked, st.Notifications[2].Kind)
	assert.Equal(t, int64(3), st.NotificationSeq)
}

func TestRecordSession_SameDayKeepsQuestsAndStreak(t *testing.T) {
	e := newTestEngine()
	first, err := e.RecordSession(NewState("u1", day(10, 10)), mastery.NewSet("u1"),
		Activity{MinutesStudied: 30, SessionsCompleted: 1, At: day(10, 10)}, constRand(0))
	require.NoError(t, err)

	out, err := e.RecordSession(first.State, first.Mastery,
		Activity{MinutesStudied: 30, SessionsCompleted: 1, At: day(10, 11)}, constRand(0.99))
	require.NoError(t, err)

	assert.Equal(t, 1, out.State.StreakDays)
	assert.False(t, out.Streak.Changed)
	assert.Equal(t, first.State.QuestResetDate, out.State.QuestResetDate)

	// study-30-min already paid out; complete-2-sessions completes now.
	assert.Equal(t, 40, out.QuestXP)
	require.Len(t, out.CompletedQuests, 1)
	assert.Equal(t, "complete-2-sessions", out.CompletedQuests[0].Key)
	assert.Equal(t, 690, out.State.TotalXP)
	assert.Equal(t, 3, out.LevelAfter)
	assert.NotContains(t, eventTypes(out.Events), shared.EventStreakUpdated)
	assert.NotContains(t, eventTypes(out.Events), shared.EventMasteryUpdated)
}

func TestRecordSession_NextDayAndGap(t *testing.T) {
	e := newTestEngine()
	st := NewState("u1", day(1, 9))
	st.StreakDays = 3
	st.BestStreak = 5
	st.LastStudyDate = day(10, 0)
	st.QuestResetDate = "2024-03-10"

	out, err := e.RecordSession(st, mastery.Set{}, Activity{MinutesStudied: 10, At: day(11, 20)}, constRand(0))
	require.NoError(t, err)
	assert.Equal(t, 4, out.State.StreakDays)
	assert.Equal(t, 5, out.State.BestStreak)
	assert.Equal(t, day(11, 0), out.State.LastStudyDate)
	assert.Equal(t, "2024-03-11", out.State.QuestResetDate)
	assert.Len(t, out.State.DailyQuests, 3)

	out, err = e.RecordSession(out.State, out.Mastery, Activity{MinutesStudied: 10, At: day(15, 20)}, constRand(0))
	require.NoError(t, err)
	assert.Equal(t, 1, out.State.StreakDays)
	assert.True(t, out.Streak.Broken)
	assert.Equal(t, 5, out.State.BestStreak)
}

func TestRecordSession_StreakMultiplierAndMilestone(t *testing.T) {
	e := newTestEngine(func(c *Config) { c.QuestsEnabled = false })
	st := NewState("u1", day(1, 9))
	st.StreakDays = 6
	st.LastStudyDate = day(9, 0)

	out, err := e.RecordSession(st, mastery.Set{}, Activity{MinutesStudied: 30, At: day(10, 12)}, constRand(0))
	require.NoError(t, err)
	assert.Equal(t, 7, out.State.StreakDays)
	assert.Equal(t, 330, out.StudyXP)
	require.NotEmpty(t, out.State.Notifications)
	assert.Equal(t, NotifyStreakMilestone, out.State.Notifications[0].Kind)
}

func TestRecordSession_SingleLevelUpForMultiLevelJump(t *testing.T) {
	e := newTestEngine()
	out, err := e.RecordSession(NewState("u1", day(10, 9)), mastery.Set{},
		Activity{MinutesStudied: 1440, At: day(10, 9)}, constRand(0))
	require.NoError(t, err)

	var ups []shared.LevelUpEvent
	for _, ev := range out.Events {
		if lu, ok := ev.(shared.LevelUpEvent); ok {
			ups = append(ups, lu)
		}
	}
	require.Len(t, ups, 1)
	assert.Equal(t, 1, out.LevelBefore)
	assert.Equal(t, shared.XP(out.State.TotalXP).Level().Int(), out.LevelAfter)
	assert.GreaterOrEqual(t, out.LevelAfter, 13)
}

func TestRecordSession_FeatureFlags(t *testing.T) {
	e := newTestEngine(func(c *Config) {
		c.QuestsEnabled = false
		c.BadgesEnabled = false
		c.CompanionEnabled = false
	})
	start := NewState("u1", day(10, 9))

	out, err := e.RecordSession(start, mastery.Set{}, Activity{MinutesStudied: 30, SessionsCompleted: 1, At: day(10, 9)}, constRand(0))
	require.NoError(t, err)
	assert.Empty(t, out.State.DailyQuests)
	assert.Empty(t, out.State.QuestResetDate)
	assert.Empty(t, out.State.Badges)
	assert.Equal(t, start.Companion, out.State.Companion)
	assert.Equal(t, 300, out.State.TotalXP)
}

func TestRecordSession_NotificationLogIsAppendOnly(t *testing.T) {
	e := newTestEngine()
	start := NewState("u1", day(10, 10))
	for i := 1; i <= 250; i++ {
		start.Notifications = append(start.Notifications, Notification{Seq: int64(i), Kind: NotifyQuestCompleted, Title: "Quest completed"})
	}
	start.NotificationSeq = 250

	out, err := e.RecordSession(start, mastery.Set{},
		Activity{MinutesStudied: 30, SessionsCompleted: 1, At: day(10, 10)}, constRand(0))
	require.NoError(t, err)

	got := out.State.Notifications
	require.Greater(t, len(got), 250)
	assert.Equal(t, int64(1), got[0].Seq)
	for i := range got {
		assert.Equal(t, int64(i+1), got[i].Seq)
	}
	assert.Equal(t, out.State.NotificationSeq, got[len(got)-1].Seq)
}

func TestRecordSession_NilRandIsDeterministic(t *testing.T) {
	e := newTestEngine()
	a := Activity{MinutesStudied: 10, At: day(10, 9)}

	first, err := e.RecordSession(NewState("u1", day(10, 9)), mastery.Set{}, a, nil)
	require.NoError(t, err)
	second, err := e.RecordSession(NewState("u1", day(10, 9)), mastery.Set{}, a, nil)
	require.NoError(t, err)

	require.NotEmpty(t, first.State.DailyQuests)
	assert.Equal(t, "2024-03-10", first.State.QuestResetDate)
	assert.Equal(t, first.State.DailyQuests, second.State.DailyQuests)
}

func TestRecordSession_DoesNotMutateInput(t *testing.T) {
	e := newTestEngine()
	st := NewState("u1", day(10, 9))
	st.QuestResetDate = "2024-03-10"
	st.DailyQuests = []Quest{NewQuest(DefaultCatalog().Quests[0])}
	st.LastStudyDate = day(10, 0)
	st.StreakDays = 1

	_, err := e.RecordSession(st, mastery.Set{}, Activity{MinutesStudied: 45, At: day(10, 12)}, constRand(0))
	require.NoError(t, err)
	assert.Equal(t, 0, st.DailyQuests[0].Current)
	assert.Zero(t, st.TotalXP)
	assert.Empty(t, st.Notifications)
}

func TestRecordSession_RejectsInvalidActivity(t *testing.T) {
	e := newTestEngine()
	st := NewState("u1", day(10, 9))

	cases := []Activity{
		{MinutesStudied: -1, At: day(10, 9)},
		{SessionsCompleted: -1, MinutesStudied: 5, At: day(10, 9)},
		{At: day(10, 9)},
		{MinutesStudied: 2000, At: day(10, 9)},
		{MinutesStudied: 10},
	}
	for _, a := range cases {
		_, err := e.RecordSession(st, mastery.Set{}, a, constRand(0))
		assert.True(t, shared.IsValidation(err), "activity %+v", a)
	}

	_, err := e.RecordSession(State{}, mastery.Set{}, Activity{MinutesStudied: 5, At: day(10, 9)}, constRand(0))
	assert.True(t, shared.IsValidation(err))
}

func TestRecordSession_XPTotalsAreMonotonic(t *testing.T) {
	e := newTestEngine()
	out := Outcome{State: NewState("u1", day(1, 0))}
	at := day(1, 6)
	for i := 0; i < 60; i++ {
		prev := out.State
		var err error
		out, err = e.RecordSession(prev, out.Mastery, Activity{MinutesStudied: 20 + i%50, SessionsCompleted: 1, Subject: "Physics", At: at}, constRand(float64(i%10)/10))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out.State.TotalXP, prev.TotalXP)
		assert.Equal(t, out.State.XP, out.State.TotalXP)
		assert.Equal(t, shared.XP(out.State.TotalXP).Level().Int(), out.State.Level())
		at = at.Add(7 * time.Hour)
	}
}

func TestNextCompanion(t *testing.T) {
	assert.Equal(t, Companion{Level: 1, Happiness: 55}, NextCompanion(Companion{Level: 1, Happiness: 50}, 4))
	assert.Equal(t, Companion{Level: 3, Happiness: 100}, NextCompanion(Companion{Level: 1, Happiness: 98}, 10))
}
