// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"encoding/json"
	"fmt"

	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFICATION HANDLER
// Превращает события прогресса в уведомления пользователю.
//
// Доставка best-effort: обработчик пишет уведомление в лог и, если включено,
// пересылает событие во внешний канал (Redis pub/sub). Ошибка пересылки
// возвращается диспетчеру, который повторяет попытку; на команду, породившую
// событие, она не влияет.
// ═══════════════════════════════════════════════════════════════════════════

// Notification - готовое к показу уведомление.
type Notification struct {
	UserID string
	Kind   shared.EventType
	Title  string
	Text   string
}

// NotificationConfig - конфигурация обработчика.
type NotificationConfig struct {
	// Forward - пересылать события во внешний канал.
	Forward bool

	// StreakMilestones - серии, о которых стоит сообщить.
	StreakMilestones []int
}

// DefaultNotificationConfig возвращает конфигурацию по умолчанию.
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		Forward:          true,
		StreakMilestones: []int{7, 14, 30, 60, 100, 365},
	}
}

// NotificationHandler обрабатывает события уведомлений.
type NotificationHandler struct {
	forwarder shared.EventPublisher
	log       *logger.Logger
	config    NotificationConfig
	// sink получает каждое уведомление (для тестов и CLI).
	sink func(Notification)
}

// NewNotificationHandler создаёт обработчик. forwarder может быть nil.
func NewNotificationHandler(forwarder shared.EventPublisher, log *logger.Logger, config NotificationConfig) *NotificationHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.StreakMilestones == nil {
		config.StreakMilestones = DefaultNotificationConfig().StreakMilestones
	}
	return &NotificationHandler{
		forwarder: forwarder,
		log:       log.With(logger.Component("notification_handler")),
		config:    config,
	}
}

// WithSink задаёт получателя готовых уведомлений.
func (h *NotificationHandler) WithSink(fn func(Notification)) *NotificationHandler {
	h.sink = fn
	return h
}

// EventTypes - события, на которые подписывается обработчик.
func (h *NotificationHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventLevelUp,
		shared.EventQuestCompleted,
		shared.EventBadgeUnlocked,
		shared.EventStreakUpdated,
		shared.EventPlanFallback,
	}
}

// Handle реализует shared.EventHandler.
func (h *NotificationHandler) Handle(event shared.Event) error {
	n, ok := h.build(event)
	if !ok {
		return nil
	}

	h.log.Info("notification",
		logger.UserID(n.UserID),
		logger.String("kind", string(n.Kind)),
		logger.String("title", n.Title),
	)
	if h.sink != nil {
		h.sink(n)
	}

	if h.config.Forward && h.forwarder != nil {
		if err := h.forwarder.Publish(event); err != nil {
			return fmt.Errorf("notification: forward %s: %w", event.EventType(), err)
		}
	}
	return nil
}

func (h *NotificationHandler) build(event shared.Event) (Notification, bool) {
	switch e := event.(type) {
	case shared.StreakUpdatedEvent:
		if !h.isMilestone(e.Current) || e.Current == e.Previous {
			return Notification{}, false
		}
	case shared.PlanFallbackEvent:
		return Notification{
			UserID: e.OwnerID,
			Kind:   e.EventType(),
			Title:  "Plan built offline",
			Text:   "The assistant was unavailable, so your plan was built by the local scheduler.",
		}, true
	}

	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return Notification{}, false
	}
	title, text, ok := Render(event.EventType(), payload)
	if !ok {
		return Notification{}, false
	}
	return Notification{UserID: event.AggregateID(), Kind: event.EventType(), Title: title, Text: text}, true
}

func (h *NotificationHandler) isMilestone(days int) bool {
	for _, m := range h.config.StreakMilestones {
		if m == days {
			return true
		}
	}
	return false
}

// Render формирует текст уведомления из типа события и JSON-payload.
// Используется и в процессе, и подписчиком Redis, где есть только конверт.
func Render(eventType shared.EventType, payload json.RawMessage) (title, text string, ok bool) {
	var p struct {
		NewLevel int    `json:"new_level"`
		TotalXP  int    `json:"total_xp"`
		Title    string `json:"title"`
		XPReward int    `json:"xp_reward"`
		Name     string `json:"name"`
		Current  int    `json:"current"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", "", false
	}

	switch eventType {
	case shared.EventLevelUp:
		return "Level up!", fmt.Sprintf("You reached level %d with %d XP.", p.NewLevel, p.TotalXP), true
	case shared.EventQuestCompleted:
		return "Quest completed", fmt.Sprintf("%s: +%d XP.", p.Title, p.XPReward), true
	case shared.EventBadgeUnlocked:
		return "Badge unlocked", fmt.Sprintf("You earned the %q badge.", p.Name), true
	case shared.EventStreakUpdated:
		return "Streak milestone", fmt.Sprintf("%d days in a row. Keep going!", p.Current), true
	case shared.EventPlanFallback:
		return "Plan built offline", "The assistant was unavailable: " + p.Reason, true
	default:
		return "", "", false
	}
}
