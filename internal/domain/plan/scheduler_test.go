package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

func startDate() time.Time {
	return time.Date(2024, 1, 1, 7, 30, 0, 0, time.UTC)
}

func TestSchedule_EmptySubjectsUsesDefaults(t *testing.T) {
	s := NewLocalScheduler(DefaultSchedulerConfig())

	sessions, err := s.Schedule(ScheduleInput{
		Period:      PeriodDay,
		RepeatCount: 1,
		StartDate:   startDate(),
		Location:    time.UTC,
	})
	require.NoError(t, err)

	nonPause := 0
	for _, sess := range sessions {
		if sess.Type != TypePause {
			nonPause++
		}
	}
	assert.Equal(t, 5, nonPause)
	assert.Contains(t, DefaultSubjects, sessions[0].Subject)
}

func TestSchedule_DayLayout(t *testing.T) {
	s := NewLocalScheduler(DefaultSchedulerConfig())

	sessions, err := s.Schedule(ScheduleInput{
		Period:      PeriodDay,
		RepeatCount: 1,
		StartDate:   startDate(),
		Subjects:    []string{"Math", "Physics"},
		Location:    time.UTC,
	})
	require.NoError(t, err)
	require.Len(t, sessions, 6)

	type slot struct {
		start, end string
		typ        SessionType
	}
	want := []slot{
		{"09:00", "10:30", TypeLearning},
		{"10:45", "12:15", TypeLearning},
		{"12:30", "13:30", TypePause},
		{"13:30", "15:00", TypeLearning},
		{"15:15", "16:45", TypeLearning},
		{"17:00", "17:30", TypeBuffer},
	}
	for i, w := range want {
		assert.Equal(t, w.start, sessions[i].Start.Format("15:04"), "slot %d start", i)
		assert.Equal(t, w.end, sessions[i].End.Format("15:04"), "slot %d end", i)
		assert.Equal(t, w.typ, sessions[i].Type, "slot %d type", i)
	}
}

func TestSchedule_SubjectRotation(t *testing.T) {
	s := NewLocalScheduler(DefaultSchedulerConfig())
	subjects := []string{"A", "B", "C"}

	sessions, err := s.Schedule(ScheduleInput{
		Period:      PeriodDay,
		RepeatCount: 2,
		StartDate:   startDate(),
		Subjects:    subjects,
		Location:    time.UTC,
	})
	require.NoError(t, err)

	var day0, day1 []string
	for _, sess := range sessions {
		if !sess.IsStudy() {
			continue
		}
		if sess.Start.Day() == 1 {
			day0 = append(day0, sess.Subject)
		} else {
			day1 = append(day1, sess.Subject)
		}
	}
	assert.Equal(t, []string{"A", "B", "C", "A"}, day0)
	assert.Equal(t, []string{"B", "C", "A", "B"}, day1)
}

func TestSchedule_MasteryDrivesTypeAndPriority(t *testing.T) {
	s := NewLocalScheduler(DefaultSchedulerConfig())

	sessions, err := s.Schedule(ScheduleInput{
		Period:      PeriodDay,
		RepeatCount: 1,
		StartDate:   startDate(),
		Subjects:    []string{"Math", "History", "Biology"},
		Mastery:     ScoreMap{"Math": 75, "History": 55, "Biology": 10},
		Location:    time.UTC,
	})
	require.NoError(t, err)

	for _, sess := range sessions {
		switch sess.Subject {
		case "Math":
			assert.Equal(t, TypeReview, sess.Type)
			assert.Equal(t, MethodPomodoro, sess.Method)
			assert.Equal(t, PriorityMedium, sess.Priority)
		case "History":
			assert.Equal(t, TypePractice, sess.Type)
			assert.Equal(t, MethodPomodoro, sess.Method)
			assert.Equal(t, PriorityMedium, sess.Priority)
		case "Biology":
			assert.Equal(t, TypeLearning, sess.Type)
			assert.Equal(t, MethodDeepWork, sess.Method)
			assert.Equal(t, PriorityHigh, sess.Priority)
		}
	}
}

func TestClassifyByMastery_Boundaries(t *testing.T) {
	tests := []struct {
		score    float64
		typ      SessionType
		method   Method
		priority Priority
	}{
		{0, TypeLearning, MethodDeepWork, PriorityHigh},
		{29.9, TypeLearning, MethodDeepWork, PriorityHigh},
		{30, TypeLearning, MethodDeepWork, PriorityMedium},
		{40, TypeLearning, MethodDeepWork, PriorityMedium},
		{40.1, TypePractice, MethodPomodoro, PriorityMedium},
		{70, TypePractice, MethodPomodoro, PriorityMedium},
		{70.1, TypeReview, MethodPomodoro, PriorityMedium},
		{100, TypeReview, MethodPomodoro, PriorityMedium},
	}
	for _, tt := range tests {
		typ, method := ClassifyByMastery(tt.score)
		assert.Equal(t, tt.typ, typ, "score %v", tt.score)
		assert.Equal(t, tt.method, method, "score %v", tt.score)
		assert.Equal(t, tt.priority, PriorityForMastery(tt.score), "score %v", tt.score)
	}
}

func TestSchedule_PeriodMultipliers(t *testing.T) {
	s := NewLocalScheduler(DefaultSchedulerConfig())

	tests := []struct {
		period Period
		repeat int
		days   int
	}{
		{PeriodDay, 3, 3},
		{PeriodWeek, 1, 7},
		{PeriodWeek, 2, 14},
		{PeriodMonth, 1, 30},
		{PeriodSemester, 1, 180},
	}
	for _, tt := range tests {
		sessions, err := s.Schedule(ScheduleInput{
			Period:      tt.period,
			RepeatCount: tt.repeat,
			StartDate:   startDate(),
			Subjects:    []string{"Math"},
			Location:    time.UTC,
		})
		require.NoError(t, err)
		assert.Len(t, sessions, tt.days*6, "%s x%d", tt.period, tt.repeat)
	}
}

func TestSchedule_EverySessionIsOrderedAndPositive(t *testing.T) {
	s := NewLocalScheduler(DefaultSchedulerConfig())
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// Spans the March DST change.
	sessions, err := s.Schedule(ScheduleInput{
		Period:      PeriodMonth,
		RepeatCount: 1,
		StartDate:   time.Date(2024, 3, 15, 0, 0, 0, 0, loc),
		Subjects:    []string{"Math", "Chemistry"},
		Location:    loc,
	})
	require.NoError(t, err)

	for i, sess := range sessions {
		assert.True(t, sess.End.After(sess.Start), "session %d", i)
		if i > 0 {
			assert.False(t, sess.Start.Before(sessions[i-1].Start), "session %d out of order", i)
		}
		if sess.IsStudy() {
			assert.NotEqual(t, 12, sess.Start.In(loc).Hour(), "study block should not start in the lunch hour")
		}
	}
}

func TestSchedule_Validation(t *testing.T) {
	s := NewLocalScheduler(DefaultSchedulerConfig())

	_, err := s.Schedule(ScheduleInput{Period: "year", RepeatCount: 1, StartDate: startDate()})
	assert.True(t, shared.IsValidation(err))

	_, err = s.Schedule(ScheduleInput{Period: PeriodDay, RepeatCount: 0, StartDate: startDate()})
	assert.True(t, shared.IsValidation(err))

	_, err = s.Schedule(ScheduleInput{Period: PeriodDay, RepeatCount: 13, StartDate: startDate()})
	assert.True(t, shared.IsValidation(err))

	_, err = s.Schedule(ScheduleInput{Period: PeriodDay, RepeatCount: 1})
	assert.True(t, shared.IsValidation(err))
}

func TestNormalizeSubjects(t *testing.T) {
	got := NormalizeSubjects([]string{" Math ", "", "Physics", "Math", "  "})
	assert.Equal(t, []string{"Math", "Physics"}, got)
}
