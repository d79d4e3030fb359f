package progression

import (
	"time"

	"github.com/studyforge/studyplanner/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (Серия активных дней)
// ══════════════════════════════════════════════════════════════════════════════

// StreakTransition - результат перехода серии.
type StreakTransition struct {
	Previous int
	Current  int
	// Broken - серия прервалась и началась заново.
	Broken bool
	// Changed - значение изменилось (в тот же день не меняется).
	Changed bool
}

// NextStreak применяет событие к серии. Разница считается в календарных
// днях зоны loc:
//
//	нет предыдущей даты -> 1
//	diff == 0          -> без изменений
//	diff == 1          -> +1
//	diff > 1           -> 1
//
// Событие "из прошлого" (diff < 0) серию не меняет.
func NextStreak(current int, lastStudy, now time.Time, loc *time.Location) StreakTransition {
	tr := StreakTransition{Previous: current, Current: current}

	if lastStudy.IsZero() {
		tr.Current = 1
		tr.Changed = current != 1
		return tr
	}

	switch diff := timeutil.CalendarDaysBetween(lastStudy, now, loc); {
	case diff <= 0:
		return tr
	case diff == 1:
		tr.Current = current + 1
	default:
		tr.Current = 1
		tr.Broken = current > 0
	}
	tr.Changed = tr.Current != current
	return tr
}

// StreakMultiplierTenths возвращает множитель XP в десятых долях:
// <7 -> 1.0, 7-14 -> 1.1, 15-29 -> 1.3, >=30 -> 1.5.
func StreakMultiplierTenths(streak int) int {
	switch {
	case streak >= 30:
		return 15
	case streak >= 15:
		return 13
	case streak >= 7:
		return 11
	default:
		return 10
	}
}

// StreakMultiplier возвращает множитель как float64 (для отображения).
func StreakMultiplier(streak int) float64 {
	return float64(StreakMultiplierTenths(streak)) / 10
}

// XPPerMinute - базовое XP за минуту занятий.
const XPPerMinute = 10

// StudyXP = floor(minutes * 10 * multiplier). Считается в целых числах,
// чтобы избежать ошибок округления (например, 1.1 * 10).
func StudyXP(minutes, streak int) int {
	if minutes <= 0 {
		return 0
	}
	return minutes * XPPerMinute * StreakMultiplierTenths(streak) / 10
}
