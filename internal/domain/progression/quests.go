package progression

import (
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY QUESTS (Ежедневные квесты)
// ══════════════════════════════════════════════════════════════════════════════

// Metric - что именно считает квест.
type Metric string

const (
	// MetricMinutes - минуты занятий.
	MetricMinutes Metric = "minutes"
	// MetricSessions - завершённые сессии.
	MetricSessions Metric = "sessions"
	// MetricNightOwl - событие поздно вечером или ночью.
	MetricNightOwl Metric = "night_owl"
	// MetricEarlyBird - событие рано утром.
	MetricEarlyBird Metric = "early_bird"
	// MetricFocusedEvent - одно событие длиной не меньше FocusedMinutes.
	MetricFocusedEvent Metric = "focused_event"
)

// IsValid проверяет метрику.
func (m Metric) IsValid() bool {
	switch m {
	case MetricMinutes, MetricSessions, MetricNightOwl, MetricEarlyBird, MetricFocusedEvent:
		return true
	}
	return false
}

// Difficulty - сложность шаблона.
type Difficulty string

const (
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// Границы времени суток для квестов (часы в зоне движка).
const (
	NightOwlFromHour  = 22
	NightOwlUntilHour = 4
	EarlyBirdUntil    = 8
	FocusedMinutes    = 45
)

// QuestTemplate - шаблон квеста из каталога.
type QuestTemplate struct {
	Key        string     `yaml:"key" json:"key"`
	Title      string     `yaml:"title" json:"title"`
	Metric     Metric     `yaml:"metric" json:"metric"`
	Target     int        `yaml:"target" json:"target"`
	XPReward   int        `yaml:"xp_reward" json:"xp_reward"`
	Difficulty Difficulty `yaml:"difficulty" json:"difficulty"`
}

// Validate проверяет шаблон.
func (t QuestTemplate) Validate() error {
	switch {
	case t.Key == "":
		return shared.NewValidationError("progression", "QuestTemplate", "quest key cannot be empty")
	case !t.Metric.IsValid():
		return shared.NewValidationError("progression", "QuestTemplate", "quest %s has unknown metric %q", t.Key, t.Metric)
	case t.Target <= 0:
		return shared.NewValidationError("progression", "QuestTemplate", "quest %s target must be positive", t.Key)
	case t.XPReward < 0:
		return shared.NewValidationError("progression", "QuestTemplate", "quest %s reward cannot be negative", t.Key)
	}
	return nil
}

// Quest - выданный на день квест.
// Completed монотонен: только false -> true.
type Quest struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Metric    Metric `json:"metric"`
	Target    int    `json:"target"`
	Current   int    `json:"current"`
	XPReward  int    `json:"xp_reward"`
	Completed bool   `json:"completed"`
}

// QuestState - состояние квеста в терминах автомата.
type QuestState string

const (
	QuestNotStarted QuestState = "not_started"
	QuestInProgress QuestState = "in_progress"
	QuestCompleted  QuestState = "completed"
)

// State возвращает состояние автомата.
func (q Quest) State() QuestState {
	switch {
	case q.Completed:
		return QuestCompleted
	case q.Current > 0:
		return QuestInProgress
	default:
		return QuestNotStarted
	}
}

// Advance увеличивает прогресс. Второе значение true ровно один раз -
// в момент перехода в Completed. Для завершённого квеста это no-op.
func (q Quest) Advance(amount int) (Quest, bool) {
	if q.Completed || amount <= 0 {
		return q, false
	}
	q.Current += amount
	if q.Current >= q.Target {
		q.Completed = true
		return q, true
	}
	return q, false
}

// NewQuest создаёт квест из шаблона.
func NewQuest(t QuestTemplate) Quest {
	return Quest{
		Key:      t.Key,
		Title:    t.Title,
		Metric:   t.Metric,
		Target:   t.Target,
		XPReward: t.XPReward,
	}
}

// QuestIncrement вычисляет вклад события в метрику.
// hour - час события в зоне движка.
func QuestIncrement(m Metric, a Activity, hour int) int {
	switch m {
	case MetricMinutes:
		return a.MinutesStudied
	case MetricSessions:
		return a.SessionsCompleted
	case MetricNightOwl:
		if hour >= NightOwlFromHour || hour < NightOwlUntilHour {
			return 1
		}
	case MetricEarlyBird:
		if hour >= NightOwlUntilHour && hour < EarlyBirdUntil {
			return 1
		}
	case MetricFocusedEvent:
		if a.MinutesStudied >= FocusedMinutes {
			return 1
		}
	}
	return 0
}

// RandSource - источник случайности. *rand.Rand подходит.
type RandSource interface {
	Float64() float64
}

// templateWeight: сложные квесты попадают в пул при серии от 7 дней
// и получают двойной вес при серии от 30.
func templateWeight(t QuestTemplate, streak int) float64 {
	if t.Difficulty != DifficultyHard {
		return 1
	}
	switch {
	case streak >= 30:
		return 2
	case streak >= 7:
		return 1
	default:
		return 0
	}
}

// DrawQuests выбирает n разных квестов взвешенной выборкой без возвращения.
// Если в пуле меньше n шаблонов с ненулевым весом, возвращает сколько есть.
func DrawQuests(templates []QuestTemplate, streak, n int, rng RandSource) []Quest {
	type cand struct {
		t QuestTemplate
		w float64
	}
	pool := make([]cand, 0, len(templates))
	for _, t := range templates {
		if w := templateWeight(t, streak); w > 0 {
			pool = append(pool, cand{t, w})
		}
	}

	out := make([]Quest, 0, n)
	for len(out) < n && len(pool) > 0 {
		total := 0.0
		for _, c := range pool {
			total += c.w
		}
		r := rng.Float64() * total
		idx := len(pool) - 1
		for i, c := range pool {
			if r < c.w {
				idx = i
				break
			}
			r -= c.w
		}
		out = append(out, NewQuest(pool[idx].t))
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}
