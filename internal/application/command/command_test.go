package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/studyforge/studyplanner/internal/application/planning"
	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/internal/infrastructure/persistence/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

var monday = time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)

type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type fakeLock struct {
	mu       sync.Mutex
	acquired []string
	released int
}

func (l *fakeLock) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

type stores struct {
	progress *memory.ProgressionRepository
	mastery  *memory.MasteryRepository
	plans    *memory.PlanRepository
	cache    *memory.ProgressionCache
}

func newStores() stores {
	return stores{
		progress: memory.NewProgressionRepository(),
		mastery:  memory.NewMasteryRepository(),
		plans:    memory.NewPlanRepository(),
		cache:    memory.NewProgressionCache(),
	}
}

func newRecorder(s stores, pub shared.EventPublisher, opts ...RecordStudyEventOption) *RecordStudyEventHandler {
	engine := progression.NewEngine(progression.DefaultConfig(), mastery.NewTracker(mastery.DefaultConfig()))
	base := []RecordStudyEventOption{WithRand(zeroRand{}), WithProgressionCache(s.cache)}
	return NewRecordStudyEventHandler(s.progress, s.mastery, engine, pub, nil,
		RecordStudyEventConfig{CASAttempts: 50}, append(base, opts...)...)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD STUDY EVENT
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordStudyEvent_FirstEvent(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	pub := &recordingPublisher{}
	lock := &fakeLock{}
	h := newRecorder(s, pub, WithDistributedLock(lock))

	require.NoError(t, s.cache.Set(ctx, progression.NewState("alice", monday)))

	res, err := h.Handle(ctx, RecordStudyEventCommand{
		UserID:            "alice",
		MinutesStudied:    60,
		SessionsCompleted: 1,
		Subject:           "Math",
		At:                monday,
	})
	require.NoError(t, err)

	out := res.Outcome
	assert.EqualValues(t, 1, out.State.Version)
	assert.Equal(t, 1, out.State.StreakDays)
	assert.Positive(t, out.State.TotalXP)
	assert.Zero(t, res.PublishFailures)

	stored, err := s.progress.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, out.State.TotalXP, stored.TotalXP)
	assert.Equal(t, 60, stored.TotalStudyMinutes)

	set, err := s.mastery.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, set.Version)
	assert.InDelta(t, 4.0, set.Records["Math"].Score, 1e-9)

	assert.Len(t, pub.types(), len(out.Events))
	assert.Contains(t, pub.types(), shared.EventMasteryUpdated)

	_, cached, err := s.cache.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, cached)

	assert.Equal(t, []string{"progression:alice"}, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestRecordStudyEvent_BlankSubjectKeepsMastery(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	h := newRecorder(s, nil)

	_, err := h.Handle(ctx, RecordStudyEventCommand{UserID: "bob", MinutesStudied: 30, At: monday})
	require.NoError(t, err)

	set, err := s.mastery.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, set.Version)
	assert.Empty(t, set.Records)
}

func TestRecordStudyEvent_Validation(t *testing.T) {
	h := newRecorder(newStores(), nil)

	tests := []struct {
		name string
		cmd  RecordStudyEventCommand
	}{
		{"missing user", RecordStudyEventCommand{MinutesStudied: 10, At: monday}},
		{"negative minutes", RecordStudyEventCommand{UserID: "a", MinutesStudied: -1, At: monday}},
		{"more than a day", RecordStudyEventCommand{UserID: "a", MinutesStudied: 1441, At: monday}},
		{"nothing studied", RecordStudyEventCommand{UserID: "a", At: monday}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
}

func TestRecordStudyEvent_PublishFailureDoesNotFailCommand(t *testing.T) {
	s := newStores()
	h := newRecorder(s, &recordingPublisher{err: errors.New("bus down")})

	res, err := h.Handle(context.Background(), RecordStudyEventCommand{UserID: "carol", MinutesStudied: 25, At: monday})
	require.NoError(t, err)
	assert.Equal(t, len(res.Outcome.Events), res.PublishFailures)

	stored, err := s.progress.Get(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, 25, stored.TotalStudyMinutes)
}

// readOnlyMastery accepts reads and rejects every write.
type readOnlyMastery struct {
	*memory.MasteryRepository
}

func (readOnlyMastery) Save(context.Context, mastery.Set) (int64, error) {
	return 0, errors.New("mastery store down")
}

func TestRecordStudyEvent_MasteryFailureKeepsCommittedProgression(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	pub := &recordingPublisher{}
	engine := progression.NewEngine(progression.DefaultConfig(), mastery.NewTracker(mastery.DefaultConfig()))
	h := NewRecordStudyEventHandler(s.progress, readOnlyMastery{s.mastery}, engine, pub, nil,
		RecordStudyEventConfig{CASAttempts: 1}, WithRand(zeroRand{}), WithProgressionCache(s.cache))

	cmd := RecordStudyEventCommand{UserID: "dana", MinutesStudied: 60, SessionsCompleted: 1, Subject: "Math", At: monday}
	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.MasteryPending)
	assert.False(t, res.Outcome.MasteryChanged)
	assert.Empty(t, res.Outcome.Mastery.Records)
	assert.NotContains(t, pub.types(), shared.EventMasteryUpdated)
	assert.Contains(t, pub.types(), shared.EventXPGained)

	first, err := s.progress.Get(ctx, "dana")
	require.NoError(t, err)
	assert.Equal(t, res.Outcome.State.TotalXP, first.TotalXP)
	assert.Equal(t, 1, first.TotalSessions)

	// A later event is credited once on top of the first.
	res, err = h.Handle(ctx, RecordStudyEventCommand{UserID: "dana", MinutesStudied: 10, At: monday.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, res.MasteryPending)

	second, err := s.progress.Get(ctx, "dana")
	require.NoError(t, err)
	assert.Equal(t, 1, second.TotalSessions)
	assert.Equal(t, 70, second.TotalStudyMinutes)
	assert.Equal(t, first.TotalXP+res.Outcome.StudyXP+res.Outcome.QuestXP, second.TotalXP)
}

func TestRecordStudyEvent_NilRandKeepsDefault(t *testing.T) {
	s := newStores()
	h := newRecorder(s, nil, WithRand(nil))
	require.NotNil(t, h.rng)

	res, err := h.Handle(context.Background(), RecordStudyEventCommand{UserID: "erin", MinutesStudied: 15, At: monday})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Outcome.State.DailyQuests)
}

func TestRecordStudyEvent_ConcurrentWritesLoseNothing(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	// Two handlers over the same stores behave like two processes without a
	// distributed lock: only compare-and-swap protects the state.
	handlers := []*RecordStudyEventHandler{newRecorder(s, nil), newRecorder(s, nil)}

	const perHandler = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*perHandler)
	for _, h := range handlers {
		for i := 0; i < perHandler; i++ {
			wg.Add(1)
			go func(h *RecordStudyEventHandler, i int) {
				defer wg.Done()
				_, err := h.Handle(ctx, RecordStudyEventCommand{
					UserID:            "dave",
					MinutesStudied:    15,
					SessionsCompleted: 1,
					Subject:           "Physics",
					At:                monday.Add(time.Duration(i) * time.Second),
				})
				errs <- err
			}(h, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := s.progress.Get(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, 2*perHandler, stored.TotalSessions)
	assert.Equal(t, 2*perHandler*15, stored.TotalStudyMinutes)
	assert.EqualValues(t, 2*perHandler, stored.Version)

	set, err := s.mastery.Get(ctx, "dave")
	require.NoError(t, err)
	assert.InDelta(t, float64(2*perHandler), set.Records["Physics"].Score, 1e-9)
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYED MUTEX
// ══════════════════════════════════════════════════════════════════════════════

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "u")
	require.NoError(t, err)

	// Other keys are independent.
	unlockOther, err := km.Lock(context.Background(), "v")
	require.NoError(t, err)
	unlockOther()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "u")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, km.Len())
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNTHESIZE PLAN
// ══════════════════════════════════════════════════════════════════════════════

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) GenerateStreaming(context.Context, string, func(string)) (string, error) {
	return "", errors.New("upstream 503")
}

func newPlanHandler(s stores, provider planning.AIProvider, pub shared.EventPublisher) *SynthesizePlanHandler {
	n := 0
	synth := planning.NewSynthesizer(provider, nil, planning.DefaultConfig(), nil,
		planning.WithClock(func() time.Time { return monday }),
		planning.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	return NewSynthesizePlanHandler(synth, s.plans, s.mastery, pub, nil, DefaultSynthesizePlanConfig())
}

func TestSynthesizePlan_StoresLocalPlan(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	pub := &recordingPublisher{}
	h := newPlanHandler(s, nil, pub)

	res, err := h.Handle(ctx, SynthesizePlanCommand{
		OwnerID:     "alice",
		Period:      "Day",
		RepeatCount: 1,
		StartDate:   monday,
		Subjects:    []string{" Math ", "Physics", "Math"},
	}, planning.Callbacks{})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback())
	assert.Equal(t, plan.GeneratedByLocal, res.Plan.GeneratedBy)

	stored, err := s.plans.GetByID(ctx, "alice", res.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, len(res.Plan.Sessions), len(stored.Sessions))
	for _, sess := range stored.StudySessions() {
		assert.Contains(t, []string{"Math", "Physics"}, sess.Subject)
	}

	assert.Equal(t, []shared.EventType{shared.EventPlanSynthesized}, pub.types())
}

func TestSynthesizePlan_FallbackIsReported(t *testing.T) {
	s := newStores()
	pub := &recordingPublisher{}
	h := newPlanHandler(s, failingProvider{}, pub)

	var seen string
	res, err := h.Handle(context.Background(), SynthesizePlanCommand{
		OwnerID: "alice", Period: "week", RepeatCount: 1, StartDate: monday,
	}, planning.Callbacks{OnFallback: func(reason string) { seen = reason }})
	require.NoError(t, err)

	assert.True(t, res.UsedFallback())
	assert.Equal(t, seen, res.FallbackReason)
	assert.Equal(t, plan.GeneratedByLocal, res.Plan.GeneratedBy)
	assert.Equal(t, []shared.EventType{shared.EventPlanSynthesized, shared.EventPlanFallback}, pub.types())
}

func TestSynthesizePlan_Validation(t *testing.T) {
	h := newPlanHandler(newStores(), nil, nil)

	tests := []struct {
		name string
		cmd  SynthesizePlanCommand
	}{
		{"unknown period", SynthesizePlanCommand{OwnerID: "a", Period: "fortnight", RepeatCount: 1, StartDate: monday}},
		{"zero repeat", SynthesizePlanCommand{OwnerID: "a", Period: "day", StartDate: monday}},
		{"too many repeats", SynthesizePlanCommand{OwnerID: "a", Period: "day", RepeatCount: 99, StartDate: monday}},
		{"no start", SynthesizePlanCommand{OwnerID: "a", Period: "day", RepeatCount: 1}},
		{"no owner", SynthesizePlanCommand{Period: "day", RepeatCount: 1, StartDate: monday}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd, planning.Callbacks{})
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE SESSION STATUS
// ══════════════════════════════════════════════════════════════════════════════

func TestUpdateSessionStatus_DoneRecordsStudy(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	pub := &recordingPublisher{}

	created, err := newPlanHandler(s, nil, nil).Handle(ctx, SynthesizePlanCommand{
		OwnerID: "alice", Period: "day", RepeatCount: 1, StartDate: monday, Subjects: []string{"Math"},
	}, planning.Callbacks{})
	require.NoError(t, err)
	target := created.Plan.StudySessions()[0]

	h := NewUpdateSessionStatusHandler(s.plans, newRecorder(s, nil), pub, nil)

	res, err := h.Handle(ctx, UpdateSessionStatusCommand{
		OwnerID: "alice", PlanID: created.Plan.ID, SessionID: target.ID, Status: "in_progress", At: monday,
	})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusPlanned, res.Previous)
	assert.Nil(t, res.Study)

	res, err = h.Handle(ctx, UpdateSessionStatusCommand{
		OwnerID: "alice", PlanID: created.Plan.ID, SessionID: target.ID, Status: "done", At: monday,
	})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusDone, res.Session.Status)
	require.NotNil(t, res.Study)

	stored, err := s.progress.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalSessions)
	assert.Equal(t, int(target.Duration().Minutes()), stored.TotalStudyMinutes)

	p, err := s.plans.GetByID(ctx, "alice", created.Plan.ID)
	require.NoError(t, err)
	got, _ := p.Session(target.ID)
	assert.Equal(t, plan.StatusDone, got.Status)

	assert.Equal(t, []shared.EventType{shared.EventSessionStatusChanged, shared.EventSessionStatusChanged}, pub.types())

	// Terminal statuses do not move.
	_, err = h.Handle(ctx, UpdateSessionStatusCommand{
		OwnerID: "alice", PlanID: created.Plan.ID, SessionID: target.ID, Status: "missed",
	})
	assert.True(t, shared.IsValidation(err))
}

func TestUpdateSessionStatus_Errors(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	created, err := newPlanHandler(s, nil, nil).Handle(ctx, SynthesizePlanCommand{
		OwnerID: "alice", Period: "day", RepeatCount: 1, StartDate: monday,
	}, planning.Callbacks{})
	require.NoError(t, err)
	sessionID := created.Plan.Sessions[0].ID

	h := NewUpdateSessionStatusHandler(s.plans, nil, nil, nil)

	_, err = h.Handle(ctx, UpdateSessionStatusCommand{OwnerID: "alice", PlanID: created.Plan.ID, SessionID: sessionID, Status: "finished"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, UpdateSessionStatusCommand{OwnerID: "mallory", PlanID: created.Plan.ID, SessionID: sessionID, Status: "done"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, UpdateSessionStatusCommand{OwnerID: "alice", PlanID: created.Plan.ID, SessionID: "nope", Status: "done"})
	assert.True(t, shared.IsNotFound(err))
}
