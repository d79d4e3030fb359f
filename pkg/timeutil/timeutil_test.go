package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Mars/Olympus")
	assert.ErrorContains(t, err, "Mars/Olympus")
}

func TestDayKey_UsesLocation(t *testing.T) {
	ny := newYork(t)
	// 22:30 on the 9th in New York.
	at := time.Date(2024, 3, 10, 3, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-10", DayKey(at, nil))
	assert.Equal(t, "2024-03-09", DayKey(at, ny))

	day, err := ParseDayKey("2024-03-09", ny)
	require.NoError(t, err)
	assert.True(t, day.Equal(StartOfDay(at, ny)))
}

func TestCalendarDaysBetween_AcrossDST(t *testing.T) {
	ny := newYork(t)

	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{
			name: "spring forward day is 23 hours",
			from: time.Date(2024, 3, 9, 23, 30, 0, 0, ny),
			to:   time.Date(2024, 3, 10, 23, 30, 0, 0, ny),
			want: 1,
		},
		{
			name: "same day",
			from: time.Date(2024, 3, 10, 0, 30, 0, 0, ny),
			to:   time.Date(2024, 3, 10, 23, 59, 0, 0, ny),
			want: 0,
		},
		{
			name: "late evening to early morning",
			from: time.Date(2024, 11, 2, 23, 55, 0, 0, ny),
			to:   time.Date(2024, 11, 3, 0, 5, 0, 0, ny),
			want: 1,
		},
		{
			name: "backwards",
			from: time.Date(2024, 3, 12, 8, 0, 0, 0, ny),
			to:   time.Date(2024, 3, 10, 8, 0, 0, 0, ny),
			want: -2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalendarDaysBetween(tt.from, tt.to, ny))
		})
	}
}

func TestAddDays_KeepsWallClock(t *testing.T) {
	ny := newYork(t)
	start := At(time.Date(2024, 3, 9, 12, 0, 0, 0, ny), 9, 0, ny)

	next := AddDays(start, 1)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 23*time.Hour, next.Sub(start))
	assert.Equal(t, 9*60, MinutesOfDay(next, ny))
}

func TestParseFlexible(t *testing.T) {
	ny := newYork(t)

	got, err := ParseFlexible("2024-05-06T08:30:00+02:00", ny)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 5, 6, 6, 30, 0, 0, time.UTC)))

	for _, value := range []string{"2024-05-06T08:30:00", "2024-05-06T08:30", "2024-05-06 08:30:00", "2024-05-06 08:30"} {
		got, err := ParseFlexible(value, ny)
		require.NoError(t, err, value)
		assert.True(t, got.Equal(time.Date(2024, 5, 6, 8, 30, 0, 0, ny)), value)
	}

	_, err = ParseFlexible("next tuesday", ny)
	assert.Error(t, err)
}
