package shared

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXP_Level(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{0, 1}, {-10, 1}, {99, 1}, {100, 2}, {399, 2}, {400, 3}, {899, 3}, {900, 4}, {10000, 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, XP(tt.xp).Level().Int(), "xp=%d", tt.xp)
	}
}

func TestLevel_StartXPIsExactThreshold(t *testing.T) {
	for n := 2; n <= 200; n++ {
		lvl := Level(n)
		assert.Equal(t, n, XP(lvl.StartXP()).Level().Int(), "level %d start", n)
		assert.Equal(t, n-1, XP(lvl.StartXP()-1).Level().Int(), "level %d start-1", n)
		assert.Equal(t, (lvl + 1).StartXP(), lvl.CompletionXP())
	}
	assert.Equal(t, 0, MinLevel.StartXP())
}

func TestXP_ProgressToNextLevel(t *testing.T) {
	assert.Equal(t, 0, XP(0).ProgressToNextLevel())
	assert.Equal(t, 50, XP(50).ProgressToNextLevel())
	assert.Equal(t, 0, XP(100).ProgressToNextLevel())
	assert.Equal(t, 50, XP(250).ProgressToNextLevel())
}

func TestXP_AddFloorsAtZero(t *testing.T) {
	assert.Equal(t, XP(0), XP(10).Add(-20))
	assert.Equal(t, XP(30), XP(10).Add(20))
}

func TestScore_Clamp(t *testing.T) {
	assert.Equal(t, 0.0, Score(-3).Clamp().Float64())
	assert.Equal(t, 100.0, Score(140).Clamp().Float64())
	assert.Equal(t, 42.5, Score(42.5).Clamp().Float64())
	assert.Equal(t, 0.0, Score(math.NaN()).Clamp().Float64())
}

func TestNewUserID(t *testing.T) {
	id, err := NewUserID("  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.String())

	_, err = NewUserID("   ")
	assert.ErrorIs(t, err, ErrInvalidID)
}
