package command

import (
	"context"
	"fmt"
	"time"

	"github.com/studyforge/studyplanner/internal/application/planning"
	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNTHESIZE PLAN COMMAND
// Builds a study plan (AI first, local scheduler as fallback), stores it and
// announces it.
// ══════════════════════════════════════════════════════════════════════════════

// SynthesizePlanCommand contains the plan request.
type SynthesizePlanCommand struct {
	OwnerID     string    `validate:"required,max=128"`
	Period      string    `validate:"required"`
	RepeatCount int       `validate:"gte=1"`
	StartDate   time.Time `validate:"required"`
	Subjects    []string  `validate:"max=30,dive,max=120"`

	// IgnoreMastery plans as if the owner had no recorded study. By default
	// the stored mastery scores shape session type, method and priority.
	IgnoreMastery bool

	CorrelationID string
}

// SynthesizePlanResult is the stored plan plus how it was made.
type SynthesizePlanResult struct {
	Plan           *plan.StudyPlan
	FallbackReason string
}

// UsedFallback reports whether the AI path was abandoned.
func (r *SynthesizePlanResult) UsedFallback() bool {
	return r.FallbackReason != ""
}

// SynthesizePlanConfig configures the handler.
type SynthesizePlanConfig struct {
	// Location interprets the start date and the planning day.
	Location *time.Location
}

// DefaultSynthesizePlanConfig returns default configuration.
func DefaultSynthesizePlanConfig() SynthesizePlanConfig {
	return SynthesizePlanConfig{Location: time.UTC}
}

// SynthesizePlanHandler handles SynthesizePlanCommand.
type SynthesizePlanHandler struct {
	synthesizer    *planning.Synthesizer
	planRepo       plan.Repository
	masteryRepo    mastery.Repository
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	cfg            SynthesizePlanConfig
}

// NewSynthesizePlanHandler creates a new SynthesizePlanHandler. masteryRepo
// and eventPublisher may be nil.
func NewSynthesizePlanHandler(
	synthesizer *planning.Synthesizer,
	planRepo plan.Repository,
	masteryRepo mastery.Repository,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config SynthesizePlanConfig,
) *SynthesizePlanHandler {
	def := DefaultSynthesizePlanConfig()
	if config.Location == nil {
		config.Location = def.Location
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SynthesizePlanHandler{
		synthesizer:    synthesizer,
		planRepo:       planRepo,
		masteryRepo:    masteryRepo,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("synthesize_plan")),
		cfg:            config,
	}
}

// Handle executes the command. cb observes the synthesis while it streams.
func (h *SynthesizePlanHandler) Handle(ctx context.Context, cmd SynthesizePlanCommand, cb planning.Callbacks) (*SynthesizePlanResult, error) {
	if err := validateCommand("plan", "Synthesize", cmd); err != nil {
		return nil, err
	}
	period, err := plan.ParsePeriod(cmd.Period)
	if err != nil {
		return nil, err
	}
	owner, err := shared.NewUserID(cmd.OwnerID)
	if err != nil {
		return nil, err
	}

	req := planning.Request{
		OwnerID:     owner,
		Period:      period,
		RepeatCount: cmd.RepeatCount,
		StartDate:   cmd.StartDate.In(h.cfg.Location),
		Subjects:    plan.NormalizeSubjects(cmd.Subjects),
		Location:    h.cfg.Location,
	}
	if !cmd.IgnoreMastery && h.masteryRepo != nil {
		set, err := h.masteryRepo.Get(ctx, owner)
		if err != nil {
			h.log.Warn("load mastery for planning", logger.UserID(owner.String()), logger.Err(err))
		} else {
			req.Mastery = plan.ScoreMap(set.Scores())
		}
	}

	var fallbackReason string
	wrapped := planning.Callbacks{
		OnSession: cb.OnSession,
		OnFallback: func(reason string) {
			fallbackReason = reason
			if cb.OnFallback != nil {
				cb.OnFallback(reason)
			}
		},
	}

	p, err := h.synthesizer.Synthesize(ctx, req, wrapped)
	if err != nil {
		return nil, err
	}
	if err := h.planRepo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("synthesize_plan: store plan: %w", err)
	}

	h.publish(p, fallbackReason, cmd.CorrelationID)
	h.log.Info("plan synthesized",
		logger.UserID(owner.String()),
		logger.PlanID(p.ID),
		logger.String("generated_by", string(p.GeneratedBy)),
		logger.Int("sessions", len(p.Sessions)),
	)
	return &SynthesizePlanResult{Plan: p, FallbackReason: fallbackReason}, nil
}

func (h *SynthesizePlanHandler) publish(p *plan.StudyPlan, fallbackReason, correlationID string) {
	if h.eventPublisher == nil {
		return
	}
	events := []shared.Event{
		shared.NewPlanSynthesizedEvent(p.ID, p.OwnerID.String(), string(p.GeneratedBy), len(p.Sessions), p.CreatedAt),
	}
	if fallbackReason != "" {
		events = append(events, shared.NewPlanFallbackEvent(p.ID, p.OwnerID.String(), fallbackReason, p.CreatedAt))
	}
	for _, event := range events {
		if err := h.eventPublisher.Publish(shared.WithCorrelationID(event, correlationID)); err != nil {
			h.log.Warn("publish event", logger.PlanID(p.ID), logger.String("event_type", string(event.EventType())), logger.Err(err))
		}
	}
}
