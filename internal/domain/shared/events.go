// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Domain services return these as data; delivery is the
// event bus' job.
const (
	// Plan events
	EventPlanSynthesized      EventType = "plan.synthesized"
	EventPlanFallback         EventType = "plan.fallback"
	EventSessionStatusChanged EventType = "plan.session_status_changed"

	// Progression events
	EventXPGained       EventType = "progression.xp_gained"
	EventLevelUp        EventType = "progression.level_up"
	EventStreakUpdated  EventType = "progression.streak_updated"
	EventQuestCompleted EventType = "progression.quest_completed"
	EventBadgeUnlocked  EventType = "progression.badge_unlocked"

	// Mastery events
	EventMasteryUpdated EventType = "mastery.updated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
// Domain code passes its own clock so that events are reproducible.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID returns a copy of event tagged with the correlation ID.
// Events of unknown types and an empty id are returned unchanged.
func WithCorrelationID(event Event, id string) Event {
	if id == "" {
		return event
	}
	switch e := event.(type) {
	case PlanSynthesizedEvent:
		e.CorrelationID = id
		return e
	case PlanFallbackEvent:
		e.CorrelationID = id
		return e
	case SessionStatusChangedEvent:
		e.CorrelationID = id
		return e
	case XPGainedEvent:
		e.CorrelationID = id
		return e
	case LevelUpEvent:
		e.CorrelationID = id
		return e
	case StreakUpdatedEvent:
		e.CorrelationID = id
		return e
	case QuestCompletedEvent:
		e.CorrelationID = id
		return e
	case BadgeUnlockedEvent:
		e.CorrelationID = id
		return e
	case MasteryUpdatedEvent:
		e.CorrelationID = id
		return e
	}
	return event
}

// ═══════════════════════════════════════════════════════════════════════════
// Plan Events
// ═══════════════════════════════════════════════════════════════════════════

// PlanSynthesizedEvent is emitted when a plan has been generated and stored.
type PlanSynthesizedEvent struct {
	BaseEvent
	OwnerID      string `json:"owner_id"`
	GeneratedBy  string `json:"generated_by"`
	SessionCount int    `json:"session_count"`
}

// Payload implements Event interface.
func (e PlanSynthesizedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":      e.OwnerID,
		"generated_by":  e.GeneratedBy,
		"session_count": e.SessionCount,
	}
}

// NewPlanSynthesizedEvent creates a new PlanSynthesizedEvent.
func NewPlanSynthesizedEvent(planID, ownerID, generatedBy string, sessions int, at time.Time) PlanSynthesizedEvent {
	return PlanSynthesizedEvent{
		BaseEvent:    NewBaseEvent(EventPlanSynthesized, planID, at),
		OwnerID:      ownerID,
		GeneratedBy:  generatedBy,
		SessionCount: sessions,
	}
}

// PlanFallbackEvent records that the language model path was abandoned.
type PlanFallbackEvent struct {
	BaseEvent
	OwnerID string `json:"owner_id"`
	Reason  string `json:"reason"`
}

// Payload implements Event interface.
func (e PlanFallbackEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id": e.OwnerID,
		"reason":   e.Reason,
	}
}

// NewPlanFallbackEvent creates a new PlanFallbackEvent.
func NewPlanFallbackEvent(planID, ownerID, reason string, at time.Time) PlanFallbackEvent {
	return PlanFallbackEvent{
		BaseEvent: NewBaseEvent(EventPlanFallback, planID, at),
		OwnerID:   ownerID,
		Reason:    reason,
	}
}

// SessionStatusChangedEvent is emitted when a planned session changes status.
type SessionStatusChangedEvent struct {
	BaseEvent
	OwnerID   string `json:"owner_id"`
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Payload implements Event interface.
func (e SessionStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":   e.OwnerID,
		"session_id": e.SessionID,
		"from":       e.From,
		"to":         e.To,
	}
}

// NewSessionStatusChangedEvent creates a new SessionStatusChangedEvent.
func NewSessionStatusChangedEvent(planID, ownerID, sessionID, from, to string, at time.Time) SessionStatusChangedEvent {
	return SessionStatusChangedEvent{
		BaseEvent: NewBaseEvent(EventSessionStatusChanged, planID, at),
		OwnerID:   ownerID,
		SessionID: sessionID,
		From:      from,
		To:        to,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted when a user gains XP.
type XPGainedEvent struct {
	BaseEvent
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"` // "study", "quest"
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"source":    e.Source,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, amount, newTotal int, source string, at time.Time) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, userID, at),
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
	}
}

// LevelUpEvent is emitted when a user reaches a new level.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
	TotalXP  int `json:"total_xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total_xp":  e.TotalXP,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel, totalXP int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// StreakUpdatedEvent is emitted when the daily streak changes.
type StreakUpdatedEvent struct {
	BaseEvent
	Previous int  `json:"previous"`
	Current  int  `json:"current"`
	Broken   bool `json:"broken"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous": e.Previous,
		"current":  e.Current,
		"broken":   e.Broken,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, previous, current int, broken bool, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, userID, at),
		Previous:  previous,
		Current:   current,
		Broken:    broken,
	}
}

// QuestCompletedEvent is emitted once per completed daily quest.
type QuestCompletedEvent struct {
	BaseEvent
	QuestKey string `json:"quest_key"`
	Title    string `json:"title"`
	XPReward int    `json:"xp_reward"`
}

// Payload implements Event interface.
func (e QuestCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"quest_key": e.QuestKey,
		"title":     e.Title,
		"xp_reward": e.XPReward,
	}
}

// NewQuestCompletedEvent creates a new QuestCompletedEvent.
func NewQuestCompletedEvent(userID, key, title string, reward int, at time.Time) QuestCompletedEvent {
	return QuestCompletedEvent{
		BaseEvent: NewBaseEvent(EventQuestCompleted, userID, at),
		QuestKey:  key,
		Title:     title,
		XPReward:  reward,
	}
}

// BadgeUnlockedEvent is emitted once per badge key per user.
type BadgeUnlockedEvent struct {
	BaseEvent
	BadgeKey string `json:"badge_key"`
	Name     string `json:"name"`
}

// Payload implements Event interface.
func (e BadgeUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_key": e.BadgeKey,
		"name":      e.Name,
	}
}

// NewBadgeUnlockedEvent creates a new BadgeUnlockedEvent.
func NewBadgeUnlockedEvent(userID, key, name string, at time.Time) BadgeUnlockedEvent {
	return BadgeUnlockedEvent{
		BaseEvent: NewBaseEvent(EventBadgeUnlocked, userID, at),
		BadgeKey:  key,
		Name:      name,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Mastery Events
// ═══════════════════════════════════════════════════════════════════════════

// MasteryUpdatedEvent is emitted after a study event changed a subject score.
type MasteryUpdatedEvent struct {
	BaseEvent
	Subject  string  `json:"subject"`
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
}

// Payload implements Event interface.
func (e MasteryUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject":  e.Subject,
		"previous": e.Previous,
		"current":  e.Current,
	}
}

// NewMasteryUpdatedEvent creates a new MasteryUpdatedEvent.
func NewMasteryUpdatedEvent(userID, subject string, previous, current float64, at time.Time) MasteryUpdatedEvent {
	return MasteryUpdatedEvent{
		BaseEvent: NewBaseEvent(EventMasteryUpdated, userID, at),
		Subject:   subject,
		Previous:  previous,
		Current:   current,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event payload into an envelope with the given id.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ Base() BaseEvent }); ok {
		env.CorrelationID = b.Base().CorrelationID
	}
	return env, nil
}

// Base exposes the embedded BaseEvent.
func (e BaseEvent) Base() BaseEvent {
	return e
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
