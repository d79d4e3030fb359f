// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies the owner of plans, mastery and progression.
type UserID string

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return strings.TrimSpace(string(u)) == ""
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if uid.IsEmpty() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "user id cannot be empty")
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP and Level
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points.
type XP int

// XPPerLevelUnit is the scale of the level curve.
const XPPerLevelUnit = 100

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Add adds XP, flooring at zero.
func (x XP) Add(amount int) XP {
	result := int(x) + amount
	if result < 0 {
		return 0
	}
	return XP(result)
}

// Level derives the level: floor(sqrt(xp / 100)) + 1.
func (x XP) Level() Level {
	if x <= 0 {
		return MinLevel
	}
	return Level(isqrt(int(x)/XPPerLevelUnit) + 1)
}

// ProgressToNextLevel returns percentage progress to next level (0-100).
func (x XP) ProgressToNextLevel() int {
	lvl := x.Level()
	start := lvl.StartXP()
	next := (lvl + 1).StartXP()
	span := next - start
	if span <= 0 {
		return 100
	}
	return (int(x) - start) * 100 / span
}

// Level represents a derived user level. Never persist it on its own.
type Level int

// MinLevel is the level of a user with zero XP.
const MinLevel Level = 1

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// StartXP is the smallest total XP at which this level is reached:
// (n-1)² × 100. Level(StartXP(n)) == n and Level(StartXP(n)-1) == n-1.
func (l Level) StartXP() int {
	if l <= MinLevel {
		return 0
	}
	n := int(l) - 1
	return n * n * XPPerLevelUnit
}

// CompletionXP is the total XP at which this level ends: n² × 100.
func (l Level) CompletionXP() int {
	n := int(l)
	return n * n * XPPerLevelUnit
}

func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Score is a mastery percentage in [0, 100].
type Score float64

const (
	MinScore Score = 0
	MaxScore Score = 100
)

// Clamp returns the score bounded to [0, 100]. NaN maps to 0.
func (s Score) Clamp() Score {
	switch {
	case math.IsNaN(float64(s)):
		return MinScore
	case s < MinScore:
		return MinScore
	case s > MaxScore:
		return MaxScore
	default:
		return s
	}
}

// Float64 returns the underlying value.
func (s Score) Float64() float64 {
	return float64(s)
}
