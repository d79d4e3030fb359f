package plan

import (
	"strings"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

// MasteryLookup exposes per-subject scores to the scheduler.
// A missing subject is reported with ok == false.
type MasteryLookup interface {
	ScoreOf(subject string) (score float64, ok bool)
}

// ScoreMap is a MasteryLookup backed by a plain map.
type ScoreMap map[string]float64

// ScoreOf implements MasteryLookup.
func (m ScoreMap) ScoreOf(subject string) (float64, bool) {
	s, ok := m[subject]
	return s, ok
}

// DefaultSubjects are used when a request names no subjects.
var DefaultSubjects = []string{"General Review", "Self-Study"}

// SchedulerConfig holds the day layout of the local scheduler.
type SchedulerConfig struct {
	DayStartHour   int
	DayStartMinute int
	SlotsPerDay    int
	SessionLength  time.Duration
	Gap            time.Duration

	// A pause is inserted when the cursor lands in [PauseWindowStart, PauseWindowEnd).
	PauseWindowStart time.Duration // wall clock offset from midnight
	PauseWindowEnd   time.Duration
	PauseLength      time.Duration

	BufferLength time.Duration

	MaxRepeatCount  int
	DefaultSubjects []string
}

// DefaultSchedulerConfig returns the standard day layout:
// four 90 minute blocks from 09:00 with 15 minute gaps, a lunch pause and a
// 30 minute buffer at the end.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DayStartHour:     9,
		SlotsPerDay:      4,
		SessionLength:    90 * time.Minute,
		Gap:              15 * time.Minute,
		PauseWindowStart: 12 * time.Hour,
		PauseWindowEnd:   13 * time.Hour,
		PauseLength:      60 * time.Minute,
		BufferLength:     30 * time.Minute,
		MaxRepeatCount:   12,
		DefaultSubjects:  DefaultSubjects,
	}
}

// ScheduleInput is the input of LocalScheduler.Schedule.
type ScheduleInput struct {
	Period      Period
	RepeatCount int
	StartDate   time.Time
	Subjects    []string
	Mastery     MasteryLookup
	Location    *time.Location
}

// LocalScheduler lays out sessions without any external call.
// Schedule is deterministic for a given input.
type LocalScheduler struct {
	cfg SchedulerConfig
}

// NewLocalScheduler creates a scheduler.
func NewLocalScheduler(cfg SchedulerConfig) *LocalScheduler {
	if len(cfg.DefaultSubjects) == 0 {
		cfg.DefaultSubjects = DefaultSubjects
	}
	if cfg.MaxRepeatCount <= 0 {
		cfg.MaxRepeatCount = 12
	}
	return &LocalScheduler{cfg: cfg}
}

// Config returns the scheduler configuration.
func (s *LocalScheduler) Config() SchedulerConfig {
	return s.cfg
}

// ValidateInput checks request parameters shared by every planning path.
func (s *LocalScheduler) ValidateInput(in ScheduleInput) error {
	if !in.Period.IsValid() {
		return shared.ErrInvalidPeriod
	}
	if in.RepeatCount < 1 || in.RepeatCount > s.cfg.MaxRepeatCount {
		return shared.NewValidationError("plan", "Schedule", "repeat count must be between 1 and %d, got %d", s.cfg.MaxRepeatCount, in.RepeatCount)
	}
	if in.StartDate.IsZero() {
		return shared.NewValidationError("plan", "Schedule", "start date is required")
	}
	return nil
}

// Schedule produces the local plan body.
func (s *LocalScheduler) Schedule(in ScheduleInput) ([]Session, error) {
	if err := s.ValidateInput(in); err != nil {
		return nil, err
	}

	loc := in.Location
	if loc == nil {
		loc = in.StartDate.Location()
	}
	subjects := NormalizeSubjects(in.Subjects)
	if len(subjects) == 0 {
		subjects = s.cfg.DefaultSubjects
	}
	mastery := in.Mastery
	if mastery == nil {
		mastery = ScoreMap(nil)
	}

	totalDays := in.Period.Days() * in.RepeatCount
	first := timeutil.StartOfDay(in.StartDate, loc)
	sessions := make([]Session, 0, totalDays*(s.cfg.SlotsPerDay+2))

	for day := 0; day < totalDays; day++ {
		sessions = s.layoutDay(sessions, timeutil.AddDays(first, day), day, subjects, mastery, loc)
	}

	if len(sessions) == 0 {
		return nil, shared.ErrEmptySchedule
	}
	return sessions, nil
}

func (s *LocalScheduler) layoutDay(out []Session, day time.Time, dayIndex int, subjects []string, mastery MasteryLookup, loc *time.Location) []Session {
	cursor := timeutil.At(day, s.cfg.DayStartHour, s.cfg.DayStartMinute, loc)
	paused := false

	for slot := 0; slot < s.cfg.SlotsPerDay; slot++ {
		if !paused && s.inPauseWindow(cursor, loc) {
			end := cursor.Add(s.cfg.PauseLength)
			out = append(out, Session{
				Subject:  "Lunch break",
				Start:    cursor,
				End:      end,
				Type:     TypePause,
				Method:   MethodClassic,
				Priority: PriorityLow,
				Status:   StatusPlanned,
			})
			cursor = end
			paused = true
		}

		subject := subjects[(dayIndex+slot)%len(subjects)]
		score, _ := mastery.ScoreOf(subject)
		typ, method := ClassifyByMastery(score)

		end := cursor.Add(s.cfg.SessionLength)
		out = append(out, Session{
			Subject:  subject,
			Start:    cursor,
			End:      end,
			Type:     typ,
			Method:   method,
			Priority: PriorityForMastery(score),
			Status:   StatusPlanned,
		})
		cursor = end.Add(s.cfg.Gap)
	}

	return append(out, Session{
		Subject:  "Buffer",
		Start:    cursor,
		End:      cursor.Add(s.cfg.BufferLength),
		Type:     TypeBuffer,
		Method:   MethodClassic,
		Priority: PriorityLow,
		Status:   StatusPlanned,
		Notes:    "Catch up on anything that slipped today.",
	})
}

func (s *LocalScheduler) inPauseWindow(cursor time.Time, loc *time.Location) bool {
	offset := time.Duration(timeutil.MinutesOfDay(cursor, loc)) * time.Minute
	return offset >= s.cfg.PauseWindowStart && offset < s.cfg.PauseWindowEnd
}

// ClassifyByMastery maps a mastery score to a session type and method.
// Unknown subjects score 0.
func ClassifyByMastery(score float64) (SessionType, Method) {
	switch {
	case score > 70:
		return TypeReview, MethodPomodoro
	case score > 40:
		return TypePractice, MethodPomodoro
	default:
		return TypeLearning, MethodDeepWork
	}
}

// PriorityForMastery is HIGH below 30, MEDIUM otherwise.
func PriorityForMastery(score float64) Priority {
	if score < 30 {
		return PriorityHigh
	}
	return PriorityMedium
}

// NormalizeSubjects trims names and drops blanks and duplicates, keeping order.
func NormalizeSubjects(subjects []string) []string {
	out := make([]string, 0, len(subjects))
	seen := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
