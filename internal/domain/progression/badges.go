package progression

import (
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGES (Значки)
// ══════════════════════════════════════════════════════════════════════════════

// Stat - накопленная статистика, по которой выдаются значки.
type Stat string

const (
	StatTotalMinutes  Stat = "total_minutes"
	StatTotalSessions Stat = "total_sessions"
	StatStreak        Stat = "streak"
	StatLevel         Stat = "level"
)

// IsValid проверяет статистику.
func (s Stat) IsValid() bool {
	switch s {
	case StatTotalMinutes, StatTotalSessions, StatStreak, StatLevel:
		return true
	}
	return false
}

// BadgeRule - правило выдачи значка: Stat >= Threshold.
type BadgeRule struct {
	Key         string `yaml:"key" json:"key"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Stat        Stat   `yaml:"stat" json:"stat"`
	Threshold   int    `yaml:"threshold" json:"threshold"`
}

// Validate проверяет правило.
func (r BadgeRule) Validate() error {
	switch {
	case r.Key == "":
		return shared.NewValidationError("progression", "BadgeRule", "badge key cannot be empty")
	case !r.Stat.IsValid():
		return shared.NewValidationError("progression", "BadgeRule", "badge %s has unknown stat %q", r.Key, r.Stat)
	case r.Threshold <= 0:
		return shared.NewValidationError("progression", "BadgeRule", "badge %s threshold must be positive", r.Key)
	}
	return nil
}

func statValue(s State, stat Stat) int {
	switch stat {
	case StatTotalMinutes:
		return s.TotalStudyMinutes
	case StatTotalSessions:
		return s.TotalSessions
	case StatStreak:
		return s.StreakDays
	case StatLevel:
		return s.Level()
	}
	return 0
}

// NewBadges возвращает значки, условия которых выполнены и которых ещё нет.
// Порядок совпадает с порядком правил.
func NewBadges(s State, rules []BadgeRule, now time.Time) []Badge {
	owned := make(map[string]bool, len(s.Badges))
	for _, b := range s.Badges {
		owned[b.Key] = true
	}

	var out []Badge
	for _, r := range rules {
		if owned[r.Key] {
			continue
		}
		if statValue(s, r.Stat) >= r.Threshold {
			out = append(out, Badge{Key: r.Key, Name: r.Name, AwardedAt: now})
			owned[r.Key] = true
		}
	}
	return out
}
