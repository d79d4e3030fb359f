package progression

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Config - настройки движка.
type Config struct {
	// Location задаёт, что такое "день" для серий и квестов.
	Location *time.Location

	QuestsPerDay int
	Catalog      Catalog

	QuestsEnabled    bool
	BadgesEnabled    bool
	CompanionEnabled bool
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		Location:         time.UTC,
		QuestsPerDay:     3,
		Catalog:          DefaultCatalog(),
		QuestsEnabled:    true,
		BadgesEnabled:    true,
		CompanionEnabled: true,
	}
}

// Engine превращает учебные события в XP, уровни, серии, квесты и значки.
// Engine не хранит состояние и безопасен для конкурентного использования;
// сериализацией записей по пользователю занимается вызывающий код.
type Engine struct {
	cfg     Config
	tracker *mastery.Tracker
}

// NewEngine создаёт движок.
func NewEngine(cfg Config, tracker *mastery.Tracker) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.QuestsPerDay <= 0 {
		cfg.QuestsPerDay = 3
	}
	if tracker == nil {
		tracker = mastery.NewTracker(mastery.DefaultConfig())
	}
	return &Engine{cfg: cfg, tracker: tracker}
}

// Location возвращает зону, в которой движок считает дни.
func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// Tracker возвращает трекер mastery движка.
func (e *Engine) Tracker() *mastery.Tracker {
	return e.tracker
}

// Outcome - результат RecordSession.
type Outcome struct {
	State   State
	Mastery mastery.Set

	StudyXP     int
	QuestXP     int
	LevelBefore int
	LevelAfter  int
	Streak      StreakTransition

	MasteryDelta   mastery.Delta
	MasteryChanged bool

	CompletedQuests []Quest
	NewBadges       []Badge

	// Events - доменные события в порядке возникновения.
	Events []shared.Event
}

// LeveledUp возвращает true, если уровень вырос.
func (o Outcome) LeveledUp() bool {
	return o.LevelAfter > o.LevelBefore
}

// RecordSession применяет одно учебное событие.
//
// Порядок шагов: серия, сброс квестов нового дня, XP за занятие, прогресс
// квестов с наградами, статистика, значки, компаньон, mastery, уведомления.
// Входные значения не изменяются. Журнал уведомлений только растёт.
// При rng == nil квесты дня выбираются детерминированно по пользователю и дате.
func (e *Engine) RecordSession(state State, set mastery.Set, a Activity, rng RandSource) (Outcome, error) {
	if err := a.Validate(); err != nil {
		return Outcome{}, err
	}
	if state.UserID.IsEmpty() {
		return Outcome{}, shared.NewValidationError("progression", "RecordSession", "state has no user id")
	}

	loc := e.cfg.Location
	now := a.At
	uid := state.UserID.String()

	st := state.Clone()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	out := Outcome{LevelBefore: st.Level()}

	// 1. Серия.
	out.Streak = NextStreak(st.StreakDays, st.LastStudyDate, now, loc)
	st.StreakDays = out.Streak.Current
	if st.StreakDays > st.BestStreak {
		st.BestStreak = st.StreakDays
	}
	if st.LastStudyDate.IsZero() || timeutil.CalendarDaysBetween(st.LastStudyDate, now, loc) > 0 {
		st.LastStudyDate = timeutil.StartOfDay(now, loc)
	}
	if out.Streak.Changed {
		out.Events = append(out.Events, shared.NewStreakUpdatedEvent(uid, out.Streak.Previous, out.Streak.Current, out.Streak.Broken, now))
		if isStreakMilestone(st.StreakDays) {
			e.notify(&st, NotifyStreakMilestone, "Streak milestone",
				fmt.Sprintf("%d days in a row. Keep going!", st.StreakDays), now)
		}
	}

	// 2. Квесты нового дня.
	today := timeutil.DayKey(now, loc)
	if e.cfg.QuestsEnabled && st.QuestResetDate != today {
		if rng == nil {
			rng = dayRand(uid, today)
		}
		st.DailyQuests = DrawQuests(e.cfg.Catalog.Quests, st.StreakDays, e.cfg.QuestsPerDay, rng)
		st.QuestResetDate = today
	}

	// 3. XP за занятие.
	out.StudyXP = StudyXP(a.MinutesStudied, st.StreakDays)
	if out.StudyXP > 0 {
		st.XP += out.StudyXP
		st.TotalXP += out.StudyXP
		out.Events = append(out.Events, shared.NewXPGainedEvent(uid, out.StudyXP, st.TotalXP, "study", now))
	}

	// 4. Прогресс квестов. Награда начисляется один раз при завершении.
	if e.cfg.QuestsEnabled && st.QuestResetDate == today {
		hour := now.In(loc).Hour()
		for i, q := range st.DailyQuests {
			next, completed := q.Advance(QuestIncrement(q.Metric, a, hour))
			st.DailyQuests[i] = next
			if !completed {
				continue
			}
			out.CompletedQuests = append(out.CompletedQuests, next)
			out.Events = append(out.Events, shared.NewQuestCompletedEvent(uid, next.Key, next.Title, next.XPReward, now))
			e.notify(&st, NotifyQuestCompleted, "Quest completed",
				fmt.Sprintf("%s (+%d XP)", next.Title, next.XPReward), now)
			if next.XPReward > 0 {
				out.QuestXP += next.XPReward
				st.XP += next.XPReward
				st.TotalXP += next.XPReward
				out.Events = append(out.Events, shared.NewXPGainedEvent(uid, next.XPReward, st.TotalXP, "quest", now))
			}
		}
	}

	// 5. Уровень: всегда вычисляется заново.
	out.LevelAfter = st.Level()
	if out.LeveledUp() {
		out.Events = append(out.Events, shared.NewLevelUpEvent(uid, out.LevelBefore, out.LevelAfter, st.TotalXP, now))
		e.notify(&st, NotifyLevelUp, "Level up",
			fmt.Sprintf("You reached level %d.", out.LevelAfter), now)
	}

	// 6. Накопленная статистика.
	st.TotalStudyMinutes += a.MinutesStudied
	st.TotalSessions += a.SessionsCompleted

	// 7. Значки.
	if e.cfg.BadgesEnabled {
		out.NewBadges = NewBadges(st, e.cfg.Catalog.Badges, now)
		for _, b := range out.NewBadges {
			st.Badges = append(st.Badges, b)
			out.Events = append(out.Events, shared.NewBadgeUnlockedEvent(uid, b.Key, b.Name, now))
			e.notify(&st, NotifyBadgeUnlocked, "Badge unlocked", b.Name, now)
		}
	}

	// 8. Компаньон.
	if e.cfg.CompanionEnabled {
		st.Companion = NextCompanion(st.Companion, out.LevelAfter)
	}

	// 9. Mastery.
	if set.UserID.IsEmpty() {
		set = mastery.NewSet(state.UserID)
	}
	out.Mastery, out.MasteryDelta, out.MasteryChanged = e.tracker.Apply(set, a.Subject, a.MinutesStudied, now)
	if out.MasteryChanged {
		out.Events = append(out.Events, shared.NewMasteryUpdatedEvent(uid, out.MasteryDelta.Subject, out.MasteryDelta.Previous, out.MasteryDelta.Current, now))
	}

	st.UpdatedAt = now
	out.State = st
	return out, nil
}

// NextCompanion: счастье +5 за событие (максимум 100), уровень 1 + level/5.
func NextCompanion(c Companion, userLevel int) Companion {
	c.Happiness += 5
	if c.Happiness > 100 {
		c.Happiness = 100
	}
	c.Level = 1 + userLevel/5
	return c
}

func isStreakMilestone(days int) bool {
	switch days {
	case 7, 14, 30, 60, 100, 365:
		return true
	}
	return false
}

func (e *Engine) notify(st *State, kind NotificationKind, title, msg string, now time.Time) {
	st.NotificationSeq++
	st.Notifications = append(st.Notifications, Notification{
		Seq:       st.NotificationSeq,
		Kind:      kind,
		Title:     title,
		Message:   msg,
		CreatedAt: now,
	})
}

// dayRand - детерминированный источник для вызова без rng:
// один и тот же пользователь в один и тот же день получает одни квесты.
func dayRand(user, day string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(user))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(day))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
