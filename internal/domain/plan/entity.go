// Package plan contains the study plan model, the AI wire format, the
// streaming session extractor and the deterministic local scheduler.
// It has no external dependencies.
package plan

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Period is the planning horizon unit.
type Period string

const (
	PeriodDay      Period = "day"
	PeriodWeek     Period = "week"
	PeriodMonth    Period = "month"
	PeriodSemester Period = "semester"
)

// IsValid reports whether p is a known period.
func (p Period) IsValid() bool {
	return p.Days() > 0
}

// Days returns the number of calendar days one unit of the period covers.
func (p Period) Days() int {
	switch p {
	case PeriodDay:
		return 1
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 30
	case PeriodSemester:
		return 180
	default:
		return 0
	}
}

// ParsePeriod parses a period name case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", shared.ErrInvalidPeriod
	}
	return p, nil
}

// GeneratedBy is the provenance tag of a plan.
type GeneratedBy string

const (
	GeneratedByAI    GeneratedBy = "AI"
	GeneratedByLocal GeneratedBy = "LOCAL"
)

// SessionType classifies a session.
type SessionType string

const (
	TypeLearning SessionType = "LEARNING"
	TypeReview   SessionType = "REVIEW"
	TypePractice SessionType = "PRACTICE"
	TypeMockExam SessionType = "MOCK_EXAM"
	TypeBuffer   SessionType = "BUFFER"
	TypePause    SessionType = "PAUSE"
)

// IsValid reports whether t is a known session type.
func (t SessionType) IsValid() bool {
	switch t {
	case TypeLearning, TypeReview, TypePractice, TypeMockExam, TypeBuffer, TypePause:
		return true
	}
	return false
}

// Method is the study technique for a session.
type Method string

const (
	MethodPomodoro Method = "POMODORO"
	MethodDeepWork Method = "DEEP_WORK"
	MethodClassic  Method = "CLASSIC"
)

// IsValid reports whether m is a known method.
func (m Method) IsValid() bool {
	switch m {
	case MethodPomodoro, MethodDeepWork, MethodClassic:
		return true
	}
	return false
}

// Priority of a session.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// SessionStatus tracks execution of a planned session.
type SessionStatus string

const (
	StatusPlanned    SessionStatus = "planned"
	StatusInProgress SessionStatus = "in_progress"
	StatusDone       SessionStatus = "done"
	StatusMissed     SessionStatus = "missed"
)

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusDone, StatusMissed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusMissed
}

// CanTransitionTo reports whether s → next is an allowed transition.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusPlanned:
		return next == StatusInProgress || next == StatusDone || next == StatusMissed
	case StatusInProgress:
		return next == StatusDone || next == StatusMissed
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session is one time block in a plan.
type Session struct {
	ID       string
	Subject  string
	Start    time.Time
	End      time.Time
	Type     SessionType
	Method   Method
	Priority Priority
	Status   SessionStatus
	Notes    string
}

// Duration returns End - Start.
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// IsStudy reports whether the session is actual study time.
func (s Session) IsStudy() bool {
	return s.Type != TypePause && s.Type != TypeBuffer
}

// Validate checks the session's structural invariants.
func (s Session) Validate() error {
	if strings.TrimSpace(s.Subject) == "" {
		return shared.NewValidationError("plan", "ValidateSession", "session subject cannot be empty")
	}
	if !s.End.After(s.Start) {
		return shared.ErrInvalidSessionSpan
	}
	if !s.Type.IsValid() || !s.Method.IsValid() || !s.Priority.IsValid() || !s.Status.IsValid() {
		return shared.NewValidationError("plan", "ValidateSession", "session %q has an unknown enum value", s.Subject)
	}
	return nil
}

// SortSessions orders sessions by start time, keeping input order for ties.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Start.Before(sessions[j].Start)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDY PLAN
// ══════════════════════════════════════════════════════════════════════════════

// StudyPlan is a synthesized multi-day schedule.
type StudyPlan struct {
	ID          string
	OwnerID     shared.UserID
	Title       string
	Period      Period
	RepeatCount int
	StartDate   time.Time
	Sessions    []Session
	GeneratedBy GeneratedBy
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPlanParams holds the inputs of NewStudyPlan.
type NewPlanParams struct {
	ID          string
	OwnerID     shared.UserID
	Title       string
	Period      Period
	RepeatCount int
	StartDate   time.Time
	Sessions    []Session
	GeneratedBy GeneratedBy
	Now         time.Time
}

// NewStudyPlan builds a plan, sorting its sessions and checking invariants.
// The input slice is copied.
func NewStudyPlan(p NewPlanParams) (*StudyPlan, error) {
	if p.OwnerID.IsEmpty() {
		return nil, shared.NewValidationError("plan", "New", "owner id cannot be empty")
	}
	if !p.Period.IsValid() {
		return nil, shared.ErrInvalidPeriod
	}
	if len(p.Sessions) == 0 {
		return nil, shared.ErrEmptySchedule
	}

	sessions := make([]Session, len(p.Sessions))
	copy(sessions, p.Sessions)
	for i := range sessions {
		if sessions[i].Status == "" {
			sessions[i].Status = StatusPlanned
		}
		if err := sessions[i].Validate(); err != nil {
			return nil, err
		}
	}
	SortSessions(sessions)

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = DefaultTitle(p.Period, p.RepeatCount)
	}

	return &StudyPlan{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Title:       title,
		Period:      p.Period,
		RepeatCount: p.RepeatCount,
		StartDate:   p.StartDate,
		Sessions:    sessions,
		GeneratedBy: p.GeneratedBy,
		CreatedAt:   p.Now,
		UpdatedAt:   p.Now,
	}, nil
}

// DefaultTitle names a plan that came without one.
func DefaultTitle(period Period, repeat int) string {
	if repeat <= 1 {
		return "Study plan (" + string(period) + ")"
	}
	return "Study plan (" + string(period) + " x" + strconv.Itoa(repeat) + ")"
}

// Session returns the session with the given id.
func (p *StudyPlan) Session(id string) (Session, bool) {
	for _, s := range p.Sessions {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}

// StudySessions returns the sessions that are not pauses or buffers.
func (p *StudyPlan) StudySessions() []Session {
	out := make([]Session, 0, len(p.Sessions))
	for _, s := range p.Sessions {
		if s.IsStudy() {
			out = append(out, s)
		}
	}
	return out
}

// WithSessionStatus returns a copy of the plan with one session moved to
// status next, plus the session as it was before the change.
func (p *StudyPlan) WithSessionStatus(sessionID string, next SessionStatus, now time.Time) (*StudyPlan, Session, error) {
	if !next.IsValid() {
		return nil, Session{}, shared.NewValidationError("plan", "UpdateSessionStatus", "unknown status %q", next)
	}
	idx := -1
	for i, s := range p.Sessions {
		if s.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, Session{}, shared.ErrSessionNotFound
	}
	prev := p.Sessions[idx]
	if !prev.Status.CanTransitionTo(next) {
		return nil, Session{}, shared.WrapError("plan", "UpdateSessionStatus", shared.ErrStateTransition,
			"session status "+string(prev.Status)+" cannot become "+string(next), nil)
	}

	cp := *p
	cp.Sessions = make([]Session, len(p.Sessions))
	copy(cp.Sessions, p.Sessions)
	cp.Sessions[idx].Status = next
	cp.UpdatedAt = now
	return &cp, prev, nil
}
