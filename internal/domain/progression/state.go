// Package progression содержит игровую модель прогресса: XP, уровни,
// серии дней, ежедневные квесты, значки и компаньона.
// Здесь нет внешних зависимостей и нет ввода-вывода: движок получает
// состояние и возвращает новое состояние плюс доменные события.
package progression

import (
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - агрегат прогресса одного пользователя.
// Уровень не хранится: он всегда вычисляется из TotalXP.
type State struct {
	UserID shared.UserID `json:"user_id"`

	// XP и TotalXP растут на одну и ту же величину.
	XP      int `json:"xp"`
	TotalXP int `json:"total_xp"`

	StreakDays int `json:"streak_days"`
	BestStreak int `json:"best_streak"`
	// LastStudyDate - полночь дня последней активности (в зоне движка).
	// Нулевое значение означает, что активности ещё не было.
	LastStudyDate time.Time `json:"last_study_date"`

	// QuestResetDate - ключ дня (YYYY-MM-DD), в который были выданы квесты.
	QuestResetDate string  `json:"quest_reset_date"`
	DailyQuests    []Quest `json:"daily_quests"`

	Badges []Badge `json:"badges"`

	Companion Companion `json:"companion"`

	// Notifications - журнал исходящих уведомлений, только добавление.
	Notifications   []Notification `json:"notifications"`
	NotificationSeq int64          `json:"notification_seq"`

	TotalStudyMinutes int `json:"total_study_minutes"`
	TotalSessions     int `json:"total_sessions"`

	// Version - токен оптимистичной блокировки. 0 - ещё не сохранялось.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState создаёт пустое состояние для нового пользователя.
func NewState(user shared.UserID, now time.Time) State {
	return State{
		UserID:    user,
		Companion: Companion{Level: 1, Happiness: 50},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsNew возвращает true, если состояние ещё не сохранялось.
func (s State) IsNew() bool {
	return s.Version == 0
}

// Level вычисляет уровень из TotalXP.
func (s State) Level() int {
	return shared.XP(s.TotalXP).Level().Int()
}

// LevelProgress возвращает процент прохождения текущего уровня.
func (s State) LevelProgress() int {
	return shared.XP(s.TotalXP).ProgressToNextLevel()
}

// HasBadge проверяет наличие значка.
func (s State) HasBadge(key string) bool {
	for _, b := range s.Badges {
		if b.Key == key {
			return true
		}
	}
	return false
}

// Quest возвращает квест по ключу.
func (s State) Quest(key string) (Quest, bool) {
	for _, q := range s.DailyQuests {
		if q.Key == key {
			return q, true
		}
	}
	return Quest{}, false
}

// Clone возвращает глубокую копию.
func (s State) Clone() State {
	cp := s
	cp.DailyQuests = append([]Quest(nil), s.DailyQuests...)
	cp.Badges = append([]Badge(nil), s.Badges...)
	cp.Notifications = append([]Notification(nil), s.Notifications...)
	return cp
}

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Badge - полученный значок. Ключ выдаётся пользователю не более одного раза.
type Badge struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	AwardedAt time.Time `json:"awarded_at"`
}

// Companion - косметический питомец. Ни на что не влияет.
type Companion struct {
	Level     int `json:"level"`
	Happiness int `json:"happiness"`
}

// NotificationKind - тип уведомления.
type NotificationKind string

const (
	NotifyLevelUp         NotificationKind = "level_up"
	NotifyQuestCompleted  NotificationKind = "quest_completed"
	NotifyBadgeUnlocked   NotificationKind = "badge_unlocked"
	NotifyStreakMilestone NotificationKind = "streak_milestone"
)

// Notification - запись журнала уведомлений. Доставкой занимается
// внешний обработчик событий.
type Notification struct {
	Seq       int64            `json:"seq"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// Activity - одно учебное событие.
type Activity struct {
	MinutesStudied    int
	SessionsCompleted int
	// Subject может быть пустым: тогда mastery не меняется.
	Subject string
	At      time.Time
}

// Validate проверяет входные данные события.
func (a Activity) Validate() error {
	switch {
	case a.MinutesStudied < 0:
		return shared.NewValidationError("progression", "RecordSession", "minutes studied cannot be negative")
	case a.SessionsCompleted < 0:
		return shared.NewValidationError("progression", "RecordSession", "sessions completed cannot be negative")
	case a.MinutesStudied == 0 && a.SessionsCompleted == 0:
		return shared.NewValidationError("progression", "RecordSession", "activity must contain minutes or sessions")
	case a.MinutesStudied > 24*60:
		return shared.NewValidationError("progression", "RecordSession", "minutes studied cannot exceed a day")
	case a.At.IsZero():
		return shared.NewValidationError("progression", "RecordSession", "activity time is required")
	}
	return nil
}
