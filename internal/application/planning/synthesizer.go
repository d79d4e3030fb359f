// Package planning synthesizes study plans, from a language model when one is
// available and from the local scheduler otherwise.
package planning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// AIProvider streams a completion. onDelta receives raw text deltas in
// arrival order; the returned string is the full response.
type AIProvider interface {
	GenerateStreaming(ctx context.Context, prompt string, onDelta func(delta string)) (string, error)
	Name() string
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST
// ══════════════════════════════════════════════════════════════════════════════

// Request describes the plan to synthesize.
type Request struct {
	OwnerID     shared.UserID
	Period      plan.Period
	RepeatCount int
	StartDate   time.Time
	Subjects    []string
	Mastery     plan.ScoreMap
	// Location defines wall-clock times of the plan. Defaults to StartDate's.
	Location *time.Location
}

func (r Request) location() *time.Location {
	if r.Location != nil {
		return r.Location
	}
	if loc := r.StartDate.Location(); loc != nil {
		return loc
	}
	return time.UTC
}

func (r Request) scheduleInput() plan.ScheduleInput {
	return plan.ScheduleInput{
		Period:      r.Period,
		RepeatCount: r.RepeatCount,
		StartDate:   r.StartDate,
		Subjects:    r.Subjects,
		Mastery:     r.Mastery,
		Location:    r.location(),
	}
}

// Callbacks observe a synthesis while it runs. Both are optional.
type Callbacks struct {
	// OnSession receives each session as soon as it is known: while the model
	// streams, or replayed after the response when nothing could be streamed.
	OnSession func(plan.Session)
	// OnFallback is called once when the AI path is abandoned. Sessions
	// delivered before it must be discarded by the caller.
	OnFallback func(reason string)
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNTHESIZER
// ══════════════════════════════════════════════════════════════════════════════

// Config configures the Synthesizer.
type Config struct {
	// AIEnabled switches the model path on. With it off every plan is local.
	AIEnabled bool
	// AITimeout bounds the whole model call.
	AITimeout time.Duration
	// MaxCandidateBytes bounds one streamed session object.
	MaxCandidateBytes int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AIEnabled:         true,
		AITimeout:         90 * time.Second,
		MaxCandidateBytes: plan.DefaultMaxCandidateBytes,
	}
}

// Synthesizer builds plans. It never returns provider failures: those
// degrade to a local plan. Only invalid requests are reported as errors.
type Synthesizer struct {
	provider  AIProvider
	scheduler *plan.LocalScheduler
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
}

// Option customizes a Synthesizer.
type Option func(*Synthesizer)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// WithIDGenerator sets the plan and session id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Synthesizer) { s.newID = fn }
}

// NewSynthesizer creates a Synthesizer. provider may be nil.
func NewSynthesizer(provider AIProvider, scheduler *plan.LocalScheduler, cfg Config, log *logger.Logger, opts ...Option) *Synthesizer {
	if scheduler == nil {
		scheduler = plan.NewLocalScheduler(plan.DefaultSchedulerConfig())
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = DefaultConfig().AITimeout
	}
	if cfg.MaxCandidateBytes <= 0 {
		cfg.MaxCandidateBytes = plan.DefaultMaxCandidateBytes
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Synthesizer{
		provider:  provider,
		scheduler: scheduler,
		cfg:       cfg,
		log:       log.With(logger.Component("plan_synthesizer")),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize produces a plan for req.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request, cb Callbacks) (*plan.StudyPlan, error) {
	if req.OwnerID.IsEmpty() {
		return nil, shared.NewValidationError("planning", "Synthesize", "owner id is required")
	}
	if err := s.scheduler.ValidateInput(req.scheduleInput()); err != nil {
		return nil, err
	}

	if s.provider != nil && s.cfg.AIEnabled {
		title, sessions, err := s.generate(ctx, req, cb)
		if err == nil {
			return s.build(req, title, sessions, plan.GeneratedByAI)
		}
		logFallback := s.log.Warn
		if !shared.IsRecoverableAI(err) {
			logFallback = s.log.Error
		}
		logFallback("ai generation failed, using local scheduler",
			logger.UserID(req.OwnerID.String()),
			logger.Provider(s.provider.Name()),
			logger.Err(err),
		)
		if cb.OnFallback != nil {
			cb.OnFallback(err.Error())
		}
	}

	return s.local(req)
}

func (s *Synthesizer) local(req Request) (*plan.StudyPlan, error) {
	sessions, err := s.scheduler.Schedule(req.scheduleInput())
	if err != nil {
		return nil, err
	}
	return s.build(req, "", sessions, plan.GeneratedByLocal)
}

func (s *Synthesizer) build(req Request, title string, sessions []plan.Session, by plan.GeneratedBy) (*plan.StudyPlan, error) {
	for i := range sessions {
		if sessions[i].ID == "" {
			sessions[i].ID = s.newID()
		}
	}
	return plan.NewStudyPlan(plan.NewPlanParams{
		ID:          s.newID(),
		OwnerID:     req.OwnerID,
		Title:       title,
		Period:      req.Period,
		RepeatCount: req.RepeatCount,
		StartDate:   req.StartDate,
		Sessions:    sessions,
		GeneratedBy: by,
		Now:         s.now(),
	})
}

type streamResult struct {
	text string
	err  error
}

// generate runs the model call. The returned error is always an
// AIGeneration or MalformedResponse error.
func (s *Synthesizer) generate(ctx context.Context, req Request, cb Callbacks) (string, []plan.Session, error) {
	aiCtx, cancel := context.WithTimeout(ctx, s.cfg.AITimeout)
	defer cancel()

	loc := req.location()
	extractor := plan.NewSessionExtractor(s.cfg.MaxCandidateBytes)

	// Deltas are handled under mu until the call is abandoned; after that
	// late deltas from a provider that ignores cancellation are dropped.
	var (
		mu       sync.Mutex
		closed   bool
		streamed = map[string][]string{}
		count    int
	)
	onDelta := func(delta string) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for _, ws := range extractor.Feed(delta) {
			sess, err := ws.ToSession(loc)
			if err != nil {
				continue
			}
			sess.ID = s.newID()
			k := sessionKey(sess)
			streamed[k] = append(streamed[k], sess.ID)
			count++
			if cb.OnSession != nil {
				cb.OnSession(sess)
			}
		}
	}

	done := make(chan streamResult, 1)
	prompt := SystemPrompt + "\n\n" + BuildPrompt(req, s.scheduler.Config().DefaultSubjects)
	go func() {
		text, err := s.provider.GenerateStreaming(aiCtx, prompt, onDelta)
		done <- streamResult{text: text, err: err}
	}()

	var res streamResult
	select {
	case res = <-done:
	case <-aiCtx.Done():
		res.err = aiCtx.Err()
	}

	mu.Lock()
	closed = true
	n := count
	mu.Unlock()

	if res.err == nil && aiCtx.Err() != nil {
		res.err = aiCtx.Err()
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", nil, shared.WrapError("planning", "Synthesize", shared.ErrTimeout,
				fmt.Sprintf("provider %s exceeded %s", s.provider.Name(), s.cfg.AITimeout), res.err)
		}
		return "", nil, shared.WrapError("planning", "Synthesize", shared.ErrAIGeneration,
			fmt.Sprintf("provider %s failed", s.provider.Name()), res.err)
	}

	wp, err := plan.ParseWirePlan(res.text)
	if err != nil {
		return "", nil, err
	}
	sessions, err := wp.ToSessions(loc)
	if err != nil {
		return "", nil, err
	}
	if len(sessions) == 0 {
		return "", nil, shared.NewDomainError("planning", "Synthesize", shared.ErrMalformedResponse, "response has no sessions")
	}

	if n == 0 {
		for i := range sessions {
			sessions[i].ID = s.newID()
			if cb.OnSession != nil {
				cb.OnSession(sessions[i])
			}
		}
		return wp.Title, sessions, nil
	}

	// Keep the ids the caller already saw for streamed sessions.
	for i := range sessions {
		k := sessionKey(sessions[i])
		if ids := streamed[k]; len(ids) > 0 {
			sessions[i].ID = ids[0]
			streamed[k] = ids[1:]
		}
	}
	return wp.Title, sessions, nil
}

func sessionKey(s plan.Session) string {
	return s.Subject + "|" + s.Start.UTC().Format(time.RFC3339) + "|" + s.End.UTC().Format(time.RFC3339)
}
