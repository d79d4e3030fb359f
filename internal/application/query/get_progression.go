// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESSION QUERY
// Возвращает прогресс пользователя: уровень, XP, серию, квесты, значки.
// Читает через кэш (cache-aside); одновременные промахи схлопываются.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressionQuery содержит параметры запроса.
type GetProgressionQuery struct {
	UserID string

	// IncludeMastery - добавить оценки по предметам.
	IncludeMastery bool

	// Notifications - сколько последних уведомлений вернуть (0 - ни одного).
	Notifications int
}

// ProgressionDTO - прогресс пользователя для отображения.
type ProgressionDTO struct {
	UserID string `json:"user_id"`

	// ─────────────────────────────────────────────────────────────────────────
	// Уровень и XP
	// ─────────────────────────────────────────────────────────────────────────

	Level          int `json:"level"`
	XP             int `json:"xp"`
	TotalXP        int `json:"total_xp"`
	XPIntoLevel    int `json:"xp_into_level"`
	XPForNextLevel int `json:"xp_for_next_level"`

	// ProgressPercent - процент прохождения текущего уровня (0-100).
	ProgressPercent int `json:"progress_percent"`

	// ─────────────────────────────────────────────────────────────────────────
	// Серия
	// ─────────────────────────────────────────────────────────────────────────

	StreakDays int `json:"streak_days"`
	BestStreak int `json:"best_streak"`

	// StreakActive - была активность сегодня или вчера.
	// Иначе следующее событие начнёт серию заново.
	StreakActive     bool    `json:"streak_active"`
	StreakMultiplier float64 `json:"streak_multiplier"`

	// ─────────────────────────────────────────────────────────────────────────
	// Квесты, значки, компаньон
	// ─────────────────────────────────────────────────────────────────────────

	QuestDate string                `json:"quest_date,omitempty"`
	Quests    []QuestDTO            `json:"quests"`
	Badges    []progression.Badge   `json:"badges"`
	Companion progression.Companion `json:"companion"`

	TotalStudyMinutes int `json:"total_study_minutes"`
	TotalSessions     int `json:"total_sessions"`

	Notifications []progression.Notification `json:"notifications,omitempty"`
	Mastery       []MasteryDTO               `json:"mastery,omitempty"`

	// FromCache - ответ получен из кэша.
	FromCache bool `json:"-"`
}

// QuestDTO - квест дня.
type QuestDTO struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Progress int    `json:"progress"`
	Target   int    `json:"target"`
	Reward   int    `json:"reward"`
	State    string `json:"state"`
}

// MasteryDTO - оценка по предмету.
type MasteryDTO struct {
	Subject     string    `json:"subject"`
	Score       float64   `json:"score"`
	LastStudied time.Time `json:"last_studied"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressionHandler обрабатывает GetProgressionQuery.
type GetProgressionHandler struct {
	progressRepo progression.Repository
	masteryRepo  mastery.Repository
	cache        progression.Cache
	location     *time.Location
	log          *logger.Logger
	now          func() time.Time
	group        singleflight.Group
}

// NewGetProgressionHandler создаёт обработчик. cache и masteryRepo могут быть nil.
func NewGetProgressionHandler(
	progressRepo progression.Repository,
	masteryRepo mastery.Repository,
	cache progression.Cache,
	location *time.Location,
	log *logger.Logger,
) *GetProgressionHandler {
	if location == nil {
		location = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetProgressionHandler{
		progressRepo: progressRepo,
		masteryRepo:  masteryRepo,
		cache:        cache,
		location:     location,
		log:          log.With(logger.Component("get_progression")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock задаёт источник времени (для тестов).
func (h *GetProgressionHandler) WithClock(now func() time.Time) *GetProgressionHandler {
	h.now = now
	return h
}

// Handle выполняет запрос. Пользователь без событий получает пустой
// прогресс первого уровня, а не ошибку.
func (h *GetProgressionHandler) Handle(ctx context.Context, q GetProgressionQuery) (*ProgressionDTO, error) {
	user, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}

	state, fromCache, err := h.load(ctx, user)
	if err != nil {
		return nil, err
	}

	dto := h.toDTO(state)
	dto.FromCache = fromCache

	if q.Notifications > 0 {
		n := state.Notifications
		if len(n) > q.Notifications {
			n = n[len(n)-q.Notifications:]
		}
		dto.Notifications = append([]progression.Notification(nil), n...)
	}

	if q.IncludeMastery && h.masteryRepo != nil {
		set, err := h.masteryRepo.Get(ctx, user)
		if err != nil {
			return nil, err
		}
		for _, r := range set.Sorted() {
			dto.Mastery = append(dto.Mastery, MasteryDTO{Subject: r.Subject, Score: r.Score, LastStudied: r.LastStudied})
		}
	}
	return dto, nil
}

func (h *GetProgressionHandler) load(ctx context.Context, user shared.UserID) (progression.State, bool, error) {
	if h.cache != nil {
		st, ok, err := h.cache.Get(ctx, user)
		if err != nil {
			h.log.Warn("progression cache read failed", logger.UserID(user.String()), logger.Err(err))
		} else if ok {
			return st, true, nil
		}
	}

	v, err, _ := h.group.Do(user.String(), func() (interface{}, error) {
		st, err := h.progressRepo.Get(ctx, user)
		if errors.Is(err, shared.ErrNotFound) {
			// Пустое состояние не кэшируем: первое событие создаст запись.
			return progression.NewState(user, h.now()), nil
		}
		if err != nil {
			return nil, err
		}
		if h.cache != nil {
			if err := h.cache.Set(ctx, st); err != nil {
				h.log.Warn("progression cache write failed", logger.UserID(user.String()), logger.Err(err))
			}
		}
		return st, nil
	})
	if err != nil {
		return progression.State{}, false, err
	}
	return v.(progression.State).Clone(), false, nil
}

func (h *GetProgressionHandler) toDTO(st progression.State) *ProgressionDTO {
	xp := shared.XP(st.TotalXP)
	lvl := xp.Level()

	dto := &ProgressionDTO{
		UserID:            st.UserID.String(),
		Level:             lvl.Int(),
		XP:                st.XP,
		TotalXP:           st.TotalXP,
		XPIntoLevel:       st.TotalXP - lvl.StartXP(),
		XPForNextLevel:    (lvl + 1).StartXP() - st.TotalXP,
		ProgressPercent:   xp.ProgressToNextLevel(),
		StreakDays:        st.StreakDays,
		BestStreak:        st.BestStreak,
		QuestDate:         st.QuestResetDate,
		Quests:            make([]QuestDTO, 0, len(st.DailyQuests)),
		Badges:            append([]progression.Badge{}, st.Badges...),
		Companion:         st.Companion,
		TotalStudyMinutes: st.TotalStudyMinutes,
		TotalSessions:     st.TotalSessions,
	}

	if !st.LastStudyDate.IsZero() {
		days := timeutil.CalendarDaysBetween(st.LastStudyDate, h.now(), h.location)
		dto.StreakActive = days <= 1
	}
	streak := st.StreakDays
	if !dto.StreakActive {
		streak = 0
	}
	dto.StreakMultiplier = progression.StreakMultiplier(streak)

	for _, q := range st.DailyQuests {
		dto.Quests = append(dto.Quests, QuestDTO{
			Key:      q.Key,
			Title:    q.Title,
			Progress: q.Current,
			Target:   q.Target,
			Reward:   q.XPReward,
			State:    string(q.State()),
		})
	}
	return dto
}
