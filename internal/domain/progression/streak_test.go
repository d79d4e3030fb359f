package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d, h int) time.Time {
	return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC)
}

func TestNextStreak(t *testing.T) {
	tests := []struct {
		name    string
		current int
		last    time.Time
		now     time.Time
		want    StreakTransition
	}{
		{"first activity", 0, time.Time{}, day(10, 9), StreakTransition{Previous: 0, Current: 1, Changed: true}},
		{"same day", 3, day(10, 0), day(10, 23), StreakTransition{Previous: 3, Current: 3}},
		{"next day", 3, day(10, 0), day(11, 0), StreakTransition{Previous: 3, Current: 4, Changed: true}},
		{"gap resets", 5, day(10, 0), day(13, 8), StreakTransition{Previous: 5, Current: 1, Broken: true, Changed: true}},
		{"event in the past", 5, day(10, 0), day(8, 8), StreakTransition{Previous: 5, Current: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStreak(tt.current, tt.last, tt.now, time.UTC))
		})
	}
}

func TestNextStreak_UsesCalendarDaysOfLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Almaty")
	require.NoError(t, err)

	// Local midnight of the 10th and 00:30 of the 11th.
	last := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
	now := time.Date(2024, 3, 11, 0, 30, 0, 0, loc)
	tr := NextStreak(2, last, now, loc)
	assert.Equal(t, 3, tr.Current)

	// The same instants in UTC are on one day.
	tr = NextStreak(2, time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC), now, time.UTC)
	assert.Equal(t, 2, tr.Current)
}

func TestStudyXP(t *testing.T) {
	tests := []struct {
		minutes, streak, want int
	}{
		{30, 0, 300},
		{30, 6, 300},
		{30, 7, 330},
		{30, 14, 330},
		{30, 15, 390},
		{30, 29, 390},
		{30, 30, 450},
		{1, 7, 11},
		{0, 30, 0},
		{-5, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StudyXP(tt.minutes, tt.streak), "minutes=%d streak=%d", tt.minutes, tt.streak)
	}
	assert.InDelta(t, 1.3, StreakMultiplier(20), 1e-9)
}
