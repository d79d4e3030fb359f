package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedProvider replays fixed chunks, then returns final (or err).
type scriptedProvider struct {
	chunks []string
	final  *string
	err    error
	// block waits for ctx cancellation before returning.
	block bool
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) GenerateStreaming(ctx context.Context, _ string, onDelta func(string)) (string, error) {
	p.calls++
	var full strings.Builder
	for _, c := range p.chunks {
		onDelta(c)
		full.WriteString(c)
	}
	if p.block {
		<-ctx.Done()
		return full.String(), ctx.Err()
	}
	if p.err != nil {
		return "", p.err
	}
	if p.final != nil {
		return *p.final, nil
	}
	return full.String(), nil
}

type recorder struct {
	mu        sync.Mutex
	sessions  []plan.Session
	fallbacks []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSession: func(s plan.Session) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.sessions = append(r.sessions, s)
		},
		OnFallback: func(reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fallbacks = append(r.fallbacks, reason)
		},
	}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func nonPause(sessions []plan.Session) []plan.Session {
	var out []plan.Session
	for _, s := range sessions {
		if s.Type != plan.TypePause {
			out = append(out, s)
		}
	}
	return out
}

var fixedNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newSynth(p AIProvider, cfg Config) *Synthesizer {
	return NewSynthesizer(p, nil, cfg, nil,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(seqIDs()),
	)
}

func dayRequest() Request {
	return Request{
		OwnerID:     "u1",
		Period:      plan.PeriodDay,
		RepeatCount: 1,
		StartDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Subjects:    []string{"Math", "Physics"},
	}
}

const twoSessions = `{"titre":"Week one","sessions":[` +
	`{"matiere":"Math","debut":"2024-01-01T09:00:00Z","fin":"2024-01-01T10:00:00Z","type":"LEARNING","method":"POMODORO","priority":"HIGH"},` +
	`{"matiere":"Physics","debut":"2024-01-01T10:15:00Z","fin":"2024-01-01T11:00:00Z","type":"review"}]}`

func TestSynthesize_StreamsSessionsAndUsesAIPlan(t *testing.T) {
	p := &scriptedProvider{chunks: []string{twoSessions[:40], twoSessions[40:170], twoSessions[170:]}}
	rec := &recorder{}

	got, err := newSynth(p, DefaultConfig()).Synthesize(context.Background(), dayRequest(), rec.callbacks())
	require.NoError(t, err)

	assert.Equal(t, plan.GeneratedByAI, got.GeneratedBy)
	assert.Equal(t, "Week one", got.Title)
	require.Len(t, got.Sessions, 2)
	assert.Equal(t, plan.TypeReview, got.Sessions[1].Type)
	assert.Empty(t, rec.fallbacks)

	require.Len(t, rec.sessions, 2)
	assert.Equal(t, "Math", rec.sessions[0].Subject)
	// The plan keeps the ids handed out while streaming.
	assert.Equal(t, rec.sessions[0].ID, got.Sessions[0].ID)
	assert.Equal(t, rec.sessions[1].ID, got.Sessions[1].ID)
	for _, s := range got.Sessions {
		assert.True(t, s.End.After(s.Start))
	}
}

func TestSynthesize_WrappedShapeIsReplayed(t *testing.T) {
	wrapped := `{"Plan de revision":{"sessions":[` +
		`{"matiere":"Math","debut":"2024-01-01T09:00:00Z","fin":"2024-01-01T10:00:00Z"}]}}`
	p := &scriptedProvider{chunks: []string{wrapped}}
	rec := &recorder{}

	got, err := newSynth(p, DefaultConfig()).Synthesize(context.Background(), dayRequest(), rec.callbacks())
	require.NoError(t, err)

	assert.Equal(t, plan.GeneratedByAI, got.GeneratedBy)
	assert.Equal(t, "Plan de revision", got.Title)
	require.Len(t, rec.sessions, 1)
	assert.Equal(t, got.Sessions[0].ID, rec.sessions[0].ID)
}

func TestSynthesize_FallsBackToLocal(t *testing.T) {
	empty := `{"titre":"x","sessions":[]}`
	inverted := `{"sessions":[{"matiere":"Math","debut":"2024-01-01T10:00:00Z","fin":"2024-01-01T09:00:00Z"}]}`

	tests := []struct {
		name string
		p    *scriptedProvider
	}{
		{"provider error", &scriptedProvider{err: errors.New("503 from upstream")}},
		{"not json", &scriptedProvider{chunks: []string{"I cannot help with that."}}},
		{"no sessions key", &scriptedProvider{chunks: []string{`{"a":1,"b":2}`}}},
		{"empty sessions", &scriptedProvider{chunks: []string{empty}}},
		{"inverted span", &scriptedProvider{chunks: []string{inverted}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			got, err := newSynth(tt.p, DefaultConfig()).Synthesize(context.Background(), dayRequest(), rec.callbacks())
			require.NoError(t, err)

			assert.Equal(t, plan.GeneratedByLocal, got.GeneratedBy)
			assert.Len(t, nonPause(got.Sessions), 5)
			require.Len(t, rec.fallbacks, 1)
		})
	}
}

func TestSynthesize_CancellationReturnsLocalPlanPromptly(t *testing.T) {
	p := &scriptedProvider{chunks: []string{`{"sessions":[`}, block: true}
	rec := &recorder{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := newSynth(p, DefaultConfig()).Synthesize(ctx, dayRequest(), rec.callbacks())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, plan.GeneratedByLocal, got.GeneratedBy)
	assert.Len(t, rec.fallbacks, 1)
}

func TestSynthesize_AITimeout(t *testing.T) {
	p := &scriptedProvider{block: true}
	cfg := DefaultConfig()
	cfg.AITimeout = 20 * time.Millisecond
	rec := &recorder{}

	got, err := newSynth(p, cfg).Synthesize(context.Background(), dayRequest(), rec.callbacks())
	require.NoError(t, err)
	assert.Equal(t, plan.GeneratedByLocal, got.GeneratedBy)
	require.Len(t, rec.fallbacks, 1)
	assert.Contains(t, rec.fallbacks[0], "exceeded 20ms")
}

func TestSynthesize_AIDisabledSkipsProvider(t *testing.T) {
	p := &scriptedProvider{chunks: []string{twoSessions}}
	cfg := DefaultConfig()
	cfg.AIEnabled = false

	got, err := newSynth(p, cfg).Synthesize(context.Background(), dayRequest(), Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, plan.GeneratedByLocal, got.GeneratedBy)
	assert.Zero(t, p.calls)
}

func TestSynthesize_DefaultSubjectsWithoutProvider(t *testing.T) {
	req := dayRequest()
	req.Subjects = nil

	got, err := newSynth(nil, DefaultConfig()).Synthesize(context.Background(), req, Callbacks{})
	require.NoError(t, err)

	study := nonPause(got.Sessions)
	require.Len(t, study, 5)
	assert.Equal(t, plan.DefaultSubjects[0], study[0].Subject)
	for _, s := range got.Sessions {
		assert.NotEmpty(t, s.ID)
		assert.Equal(t, plan.StatusPlanned, s.Status)
	}
}

func TestSynthesize_InvalidRequestIsSurfaced(t *testing.T) {
	p := &scriptedProvider{chunks: []string{twoSessions}}
	s := newSynth(p, DefaultConfig())

	req := dayRequest()
	req.RepeatCount = 0
	_, err := s.Synthesize(context.Background(), req, Callbacks{})
	assert.True(t, shared.IsValidation(err))

	req = dayRequest()
	req.Period = "fortnight"
	_, err = s.Synthesize(context.Background(), req, Callbacks{})
	assert.True(t, shared.IsValidation(err))

	req = dayRequest()
	req.OwnerID = ""
	_, err = s.Synthesize(context.Background(), req, Callbacks{})
	assert.True(t, shared.IsValidation(err))

	assert.Zero(t, p.calls)
}

func TestBuildPrompt(t *testing.T) {
	req := dayRequest()
	req.Mastery = plan.ScoreMap{"Math": 75}

	prompt := BuildPrompt(req, plan.DefaultSubjects)
	assert.Contains(t, prompt, "- Math: 75.0")
	assert.Contains(t, prompt, "- Physics: not studied yet")
	assert.Contains(t, prompt, `"matiere"`)
	assert.Contains(t, prompt, "2024-01-01")
	assert.Equal(t, prompt, BuildPrompt(req, plan.DefaultSubjects))

	req.Subjects = nil
	assert.Contains(t, BuildPrompt(req, plan.DefaultSubjects), "- General Review")
}
