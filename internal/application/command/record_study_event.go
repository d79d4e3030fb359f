package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
	"github.com/studyforge/studyplanner/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD STUDY EVENT COMMAND
// Applies one study event to the user's progression and mastery. Writes for
// one user are serialized; lost updates are impossible.
// ══════════════════════════════════════════════════════════════════════════════

// RecordStudyEventCommand contains the data of one study event.
type RecordStudyEventCommand struct {
	UserID            string `validate:"required,max=128"`
	MinutesStudied    int    `validate:"gte=0,lte=1440"`
	SessionsCompleted int    `validate:"gte=0,lte=100"`
	// Subject is optional. A blank subject leaves mastery unchanged.
	Subject string `validate:"max=120"`
	// At defaults to now.
	At time.Time

	CorrelationID string
}

// RecordStudyEventResult is the outcome of the command.
type RecordStudyEventResult struct {
	Outcome progression.Outcome
	// PublishFailures counts events that could not be delivered.
	PublishFailures int
	// MasteryPending is set when progression was stored but the mastery
	// update was not. The event must not be resubmitted: its XP is already
	// credited. Outcome.Mastery then holds the last stored set.
	MasteryPending bool
}

// RecordStudyEventConfig configures the handler.
type RecordStudyEventConfig struct {
	// CASAttempts bounds optimistic-lock retries.
	CASAttempts int
	// LockTTL is the lease of the distributed lock.
	LockTTL time.Duration
}

// DefaultRecordStudyEventConfig returns default configuration.
func DefaultRecordStudyEventConfig() RecordStudyEventConfig {
	return RecordStudyEventConfig{
		CASAttempts: 5,
		LockTTL:     10 * time.Second,
	}
}

// RecordStudyEventHandler handles RecordStudyEventCommand.
type RecordStudyEventHandler struct {
	progressRepo   progression.Repository
	masteryRepo    mastery.Repository
	engine         *progression.Engine
	cache          progression.Cache
	lock           DistributedLock
	eventPublisher shared.EventPublisher
	log            *logger.Logger

	locks *KeyedMutex
	cfg   RecordStudyEventConfig
	now   func() time.Time
	rng   progression.RandSource
}

// RecordStudyEventOption customizes the handler.
type RecordStudyEventOption func(*RecordStudyEventHandler)

// WithProgressionCache invalidates cache entries after each write.
func WithProgressionCache(c progression.Cache) RecordStudyEventOption {
	return func(h *RecordStudyEventHandler) { h.cache = c }
}

// WithDistributedLock serializes writes across processes too.
func WithDistributedLock(l DistributedLock) RecordStudyEventOption {
	return func(h *RecordStudyEventHandler) { h.lock = l }
}

// WithRand sets the quest draw randomness. nil keeps the default source.
func WithRand(r progression.RandSource) RecordStudyEventOption {
	return func(h *RecordStudyEventHandler) {
		if r != nil {
			h.rng = r
		}
	}
}

// WithNow sets the clock used when a command has no time.
func WithNow(now func() time.Time) RecordStudyEventOption {
	return func(h *RecordStudyEventHandler) { h.now = now }
}

// NewRecordStudyEventHandler creates a new RecordStudyEventHandler.
// eventPublisher may be nil.
func NewRecordStudyEventHandler(
	progressRepo progression.Repository,
	masteryRepo mastery.Repository,
	engine *progression.Engine,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config RecordStudyEventConfig,
	opts ...RecordStudyEventOption,
) *RecordStudyEventHandler {
	def := DefaultRecordStudyEventConfig()
	if config.CASAttempts <= 0 {
		config.CASAttempts = def.CASAttempts
	}
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if log == nil {
		log = logger.Nop()
	}

	h := &RecordStudyEventHandler{
		progressRepo:   progressRepo,
		masteryRepo:    masteryRepo,
		engine:         engine,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("record_study_event")),
		locks:          NewKeyedMutex(),
		cfg:            config,
		now:            func() time.Time { return time.Now().UTC() },
		rng:            newLockedRand(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle executes the command.
func (h *RecordStudyEventHandler) Handle(ctx context.Context, cmd RecordStudyEventCommand) (*RecordStudyEventResult, error) {
	if err := validateCommand("progression", "RecordStudyEvent", cmd); err != nil {
		return nil, err
	}
	user, err := shared.NewUserID(cmd.UserID)
	if err != nil {
		return nil, err
	}

	at := cmd.At
	if at.IsZero() {
		at = h.now()
	}
	activity := progression.Activity{
		MinutesStudied:    cmd.MinutesStudied,
		SessionsCompleted: cmd.SessionsCompleted,
		Subject:           cmd.Subject,
		At:                at,
	}
	if err := activity.Validate(); err != nil {
		return nil, err
	}

	unlock, err := h.locks.Lock(ctx, user.String())
	if err != nil {
		return nil, fmt.Errorf("record_study_event: wait for user lock: %w", err)
	}
	defer unlock()

	if h.lock != nil {
		release, err := h.lock.Acquire(ctx, "progression:"+user.String(), h.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("record_study_event: acquire distributed lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				h.log.Warn("release distributed lock", logger.UserID(user.String()), logger.Err(err))
			}
		}()
	}

	out, stored, err := h.apply(ctx, user, activity)
	if err != nil {
		return nil, err
	}
	result := &RecordStudyEventResult{}

	// Progression is committed here; a mastery failure goes on the result.
	if out.MasteryChanged {
		if err := h.saveMastery(ctx, user, activity, &out); err != nil {
			h.log.Warn("mastery update not stored, progression kept",
				logger.UserID(user.String()),
				logger.String("subject", activity.Subject),
				logger.Err(err),
			)
			result.MasteryPending = true
			out.Mastery = stored
			out.MasteryDelta = mastery.Delta{}
			out.MasteryChanged = false
			out.Events = withoutEventType(out.Events, shared.EventMasteryUpdated)
		}
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, user, out.State.Version); err != nil {
			h.log.Warn("invalidate progression cache", logger.UserID(user.String()), logger.Err(err))
		}
	}

	result.Outcome = out
	result.PublishFailures = h.publish(user, cmd.CorrelationID, out.Events)

	h.log.Info("study event recorded",
		logger.UserID(user.String()),
		logger.XPAmount(out.StudyXP+out.QuestXP),
		logger.Int("level", out.LevelAfter),
		logger.Int("streak", out.State.StreakDays),
	)
	return result, nil
}

// apply runs the engine and stores the progression with compare-and-swap.
// On a conflict everything is reloaded and recomputed. It returns the
// outcome and the mastery set the outcome was computed from.
func (h *RecordStudyEventHandler) apply(ctx context.Context, user shared.UserID, activity progression.Activity) (progression.Outcome, mastery.Set, error) {
	var (
		out    progression.Outcome
		stored mastery.Set
	)
	retrier := retry.OptimisticLockRetrier(h.cfg.CASAttempts, retry.WithRetryIf(shared.IsConcurrency))

	err := retrier.Do(ctx, func(ctx context.Context) error {
		state, err := h.progressRepo.Get(ctx, user)
		if errors.Is(err, shared.ErrNotFound) {
			state = progression.NewState(user, activity.At)
		} else if err != nil {
			return fmt.Errorf("record_study_event: load progression: %w", err)
		}

		set, err := h.masteryRepo.Get(ctx, user)
		if err != nil {
			return fmt.Errorf("record_study_event: load mastery: %w", err)
		}

		o, err := h.engine.RecordSession(state, set, activity, h.rng)
		if err != nil {
			return retry.Permanent(err)
		}

		version, err := h.progressRepo.Save(ctx, o.State)
		if err != nil {
			return err
		}
		o.State.Version = version
		out = o
		stored = set
		return nil
	})
	if err != nil {
		return progression.Outcome{}, mastery.Set{}, err
	}
	return out, stored, nil
}

// saveMastery stores out.Mastery with compare-and-swap. A conflict re-applies
// only the mastery change on top of the fresh set.
func (h *RecordStudyEventHandler) saveMastery(ctx context.Context, user shared.UserID, activity progression.Activity, out *progression.Outcome) error {
	retrier := retry.OptimisticLockRetrier(h.cfg.CASAttempts, retry.WithRetryIf(shared.IsConcurrency))

	set := out.Mastery
	delta := out.MasteryDelta
	first := true
	err := retrier.Do(ctx, func(ctx context.Context) error {
		if !first {
			current, err := h.masteryRepo.Get(ctx, user)
			if err != nil {
				return fmt.Errorf("reload mastery: %w", err)
			}
			set, delta, _ = h.engine.Tracker().Apply(current, activity.Subject, activity.MinutesStudied, activity.At)
		}
		first = false

		version, err := h.masteryRepo.Save(ctx, set)
		if err != nil {
			return err
		}
		set.Version = version
		return nil
	})
	if err != nil {
		return fmt.Errorf("record_study_event: save mastery: %w", err)
	}
	out.Mastery = set
	out.MasteryDelta = delta
	return nil
}

func withoutEventType(events []shared.Event, t shared.EventType) []shared.Event {
	kept := events[:0:0]
	for _, e := range events {
		if e.EventType() != t {
			kept = append(kept, e)
		}
	}
	return kept
}

// publish delivers events best-effort and returns the number of failures.
func (h *RecordStudyEventHandler) publish(user shared.UserID, correlationID string, events []shared.Event) int {
	if h.eventPublisher == nil {
		return 0
	}
	failures := 0
	for _, event := range events {
		event = shared.WithCorrelationID(event, correlationID)
		if err := h.eventPublisher.Publish(event); err != nil {
			failures++
			h.log.Warn("publish event",
				logger.UserID(user.String()),
				logger.String("event_type", string(event.EventType())),
				logger.String("correlation_id", correlationID),
				logger.Err(err),
			)
		}
	}
	return failures
}

// lockedRand is a goroutine-safe progression.RandSource.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
