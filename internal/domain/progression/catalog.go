package progression

import (
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// Catalog - набор шаблонов квестов и правил значков.
type Catalog struct {
	Quests []QuestTemplate `yaml:"quests" json:"quests"`
	Badges []BadgeRule     `yaml:"badges" json:"badges"`
}

// DefaultCatalog возвращает встроенный каталог.
func DefaultCatalog() Catalog {
	return Catalog{
		Quests: []QuestTemplate{
			{Key: "study-30-min", Title: "Study for 30 minutes", Metric: MetricMinutes, Target: 30, XPReward: 50, Difficulty: DifficultyNormal},
			{Key: "complete-2-sessions", Title: "Complete 2 sessions", Metric: MetricSessions, Target: 2, XPReward: 40, Difficulty: DifficultyNormal},
			{Key: "night-owl", Title: "Study after 22:00", Metric: MetricNightOwl, Target: 1, XPReward: 30, Difficulty: DifficultyNormal},
			{Key: "early-bird", Title: "Study before 08:00", Metric: MetricEarlyBird, Target: 1, XPReward: 30, Difficulty: DifficultyNormal},
			{Key: "perfectionist", Title: "Finish 2 focused blocks of 45+ minutes", Metric: MetricFocusedEvent, Target: 2, XPReward: 80, Difficulty: DifficultyHard},
			{Key: "bookworm", Title: "Study for 2 hours", Metric: MetricMinutes, Target: 120, XPReward: 120, Difficulty: DifficultyHard},
		},
		Badges: []BadgeRule{
			{Key: "first-steps", Name: "First Steps", Description: "Complete your first session", Stat: StatTotalSessions, Threshold: 1},
			{Key: "five-hours", Name: "Five Hours In", Description: "Study 300 minutes in total", Stat: StatTotalMinutes, Threshold: 300},
			{Key: "marathon", Name: "Marathon", Description: "Study 3000 minutes in total", Stat: StatTotalMinutes, Threshold: 3000},
			{Key: "week-streak", Name: "On Fire", Description: "Study 7 days in a row", Stat: StatStreak, Threshold: 7},
			{Key: "month-streak", Name: "Iron Will", Description: "Study 30 days in a row", Stat: StatStreak, Threshold: 30},
			{Key: "level-5", Name: "Apprentice", Description: "Reach level 5", Stat: StatLevel, Threshold: 5},
			{Key: "level-10", Name: "Scholar", Description: "Reach level 10", Stat: StatLevel, Threshold: 10},
		},
	}
}

// Validate проверяет каталог: ключи уникальны, все записи корректны.
func (c Catalog) Validate() error {
	seen := make(map[string]bool)
	for _, q := range c.Quests {
		if err := q.Validate(); err != nil {
			return err
		}
		if seen["q:"+q.Key] {
			return shared.NewValidationError("progression", "Catalog", "duplicate quest key %s", q.Key)
		}
		seen["q:"+q.Key] = true
	}
	for _, b := range c.Badges {
		if err := b.Validate(); err != nil {
			return err
		}
		if seen["b:"+b.Key] {
			return shared.NewValidationError("progression", "Catalog", "duplicate badge key %s", b.Key)
		}
		seen["b:"+b.Key] = true
	}
	return nil
}
