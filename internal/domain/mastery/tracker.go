// Package mastery tracks per-subject proficiency scores.
//
// Scores live in [0, 100]. Studying a subject raises its score; every other
// tracked subject decays a little on each recorded study event. The decay is
// applied per event rather than per day, so an intensive day with many
// sessions decays neglected subjects faster than a light one.
package mastery

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// Record is the proficiency of one user in one subject.
type Record struct {
	Subject     string    `json:"subject"`
	Score       float64   `json:"score"`
	LastStudied time.Time `json:"last_studied"`
}

// Set is a user's full mastery state. It is a value: Tracker returns new
// sets instead of changing the one it receives.
type Set struct {
	UserID  shared.UserID
	Records map[string]Record
	// Version is the optimistic-lock token. Zero means never stored.
	Version int64
}

// NewSet returns an empty set for the user.
func NewSet(user shared.UserID) Set {
	return Set{UserID: user, Records: map[string]Record{}}
}

// ScoreOf returns the subject's score. It satisfies plan.MasteryLookup.
func (s Set) ScoreOf(subject string) (float64, bool) {
	r, ok := s.Records[subject]
	return r.Score, ok
}

// Get returns the record for a subject.
func (s Set) Get(subject string) (Record, bool) {
	r, ok := s.Records[subject]
	return r, ok
}

// Sorted returns records ordered by subject name.
func (s Set) Sorted() []Record {
	out := make([]Record, 0, len(s.Records))
	for _, r := range s.Records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// Scores returns a subject → score map.
func (s Set) Scores() map[string]float64 {
	out := make(map[string]float64, len(s.Records))
	for k, r := range s.Records {
		out[k] = r.Score
	}
	return out
}

// Clone returns a deep copy.
func (s Set) Clone() Set {
	cp := Set{UserID: s.UserID, Version: s.Version, Records: make(map[string]Record, len(s.Records)+1)}
	for k, v := range s.Records {
		cp.Records[k] = v
	}
	return cp
}

// Config tunes the gain and decay rules.
type Config struct {
	// MaxGainPerEvent caps the gain of one study event.
	MaxGainPerEvent float64
	// MinutesPerPoint converts study minutes to score points.
	MinutesPerPoint float64
	// DecayPerEvent is subtracted from every other subject per event.
	DecayPerEvent float64
}

// DefaultConfig returns gain = min(5, minutes/15) and decay 0.1 per event.
func DefaultConfig() Config {
	return Config{
		MaxGainPerEvent: 5,
		MinutesPerPoint: 15,
		DecayPerEvent:   0.1,
	}
}

// Delta describes what a study event did to the studied subject.
type Delta struct {
	Subject  string
	Previous float64
	Current  float64
	Created  bool
}

// Tracker applies study events to mastery sets.
type Tracker struct {
	cfg Config
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.MinutesPerPoint <= 0 {
		cfg.MinutesPerPoint = DefaultConfig().MinutesPerPoint
	}
	return &Tracker{cfg: cfg}
}

// Gain returns the score gain for a study duration.
func (t *Tracker) Gain(minutes int) float64 {
	if minutes <= 0 {
		return 0
	}
	return math.Min(t.cfg.MaxGainPerEvent, float64(minutes)/t.cfg.MinutesPerPoint)
}

// Apply records a study event. The studied subject gains, every other
// subject decays, and all scores are clamped to [0, 100]. A blank subject
// leaves the set unchanged.
func (t *Tracker) Apply(set Set, subject string, minutes int, now time.Time) (Set, Delta, bool) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return set, Delta{}, false
	}

	next := set.Clone()
	gain := t.Gain(minutes)

	for name, r := range next.Records {
		if name == subject {
			continue
		}
		r.Score = clamp(r.Score - t.cfg.DecayPerEvent)
		next.Records[name] = r
	}

	prev, existed := next.Records[subject]
	rec := Record{Subject: subject, LastStudied: now}
	if existed {
		rec.Score = clamp(prev.Score + gain)
	} else {
		rec.Score = clamp(gain)
	}
	next.Records[subject] = rec

	return next, Delta{
		Subject:  subject,
		Previous: prev.Score,
		Current:  rec.Score,
		Created:  !existed,
	}, true
}

func clamp(v float64) float64 {
	return shared.Score(v).Clamp().Float64()
}
