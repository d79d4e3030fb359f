package command

import (
	"context"
	"fmt"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE SESSION STATUS COMMAND
// Moves a planned session through planned → in_progress → done|missed.
// Finishing a study session records it as a study event.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateSessionStatusCommand identifies the session and its new status.
type UpdateSessionStatusCommand struct {
	OwnerID   string `validate:"required,max=128"`
	PlanID    string `validate:"required"`
	SessionID string `validate:"required"`
	Status    string `validate:"required,oneof=planned in_progress done missed"`
	// At defaults to now. It is also the time of the recorded study event.
	At time.Time
}

// UpdateSessionStatusResult describes the transition.
type UpdateSessionStatusResult struct {
	Session  plan.Session
	Previous plan.SessionStatus
	// Study is set when finishing the session recorded a study event.
	Study *RecordStudyEventResult
}

// StudyRecorder records study events. *RecordStudyEventHandler implements it.
type StudyRecorder interface {
	Handle(ctx context.Context, cmd RecordStudyEventCommand) (*RecordStudyEventResult, error)
}

// UpdateSessionStatusHandler handles UpdateSessionStatusCommand.
type UpdateSessionStatusHandler struct {
	planRepo       plan.Repository
	recorder       StudyRecorder
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	now            func() time.Time
}

// NewUpdateSessionStatusHandler creates the handler. recorder and
// eventPublisher may be nil.
func NewUpdateSessionStatusHandler(
	planRepo plan.Repository,
	recorder StudyRecorder,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *UpdateSessionStatusHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &UpdateSessionStatusHandler{
		planRepo:       planRepo,
		recorder:       recorder,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("update_session_status")),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the command.
func (h *UpdateSessionStatusHandler) Handle(ctx context.Context, cmd UpdateSessionStatusCommand) (*UpdateSessionStatusResult, error) {
	if err := validateCommand("plan", "UpdateSessionStatus", cmd); err != nil {
		return nil, err
	}
	owner := shared.UserID(cmd.OwnerID)
	next := plan.SessionStatus(cmd.Status)
	at := cmd.At
	if at.IsZero() {
		at = h.now()
	}

	p, err := h.planRepo.GetByID(ctx, owner, cmd.PlanID)
	if err != nil {
		return nil, err
	}
	updated, prev, err := p.WithSessionStatus(cmd.SessionID, next, at)
	if err != nil {
		return nil, err
	}
	if err := h.planRepo.UpdateSessionStatus(ctx, owner, p.ID, cmd.SessionID, prev.Status, next); err != nil {
		return nil, fmt.Errorf("update_session_status: %w", err)
	}

	session, _ := updated.Session(cmd.SessionID)
	result := &UpdateSessionStatusResult{Session: session, Previous: prev.Status}

	if h.eventPublisher != nil {
		event := shared.NewSessionStatusChangedEvent(p.ID, owner.String(), session.ID, string(prev.Status), string(next), at)
		if err := h.eventPublisher.Publish(shared.WithCorrelationID(event, session.ID)); err != nil {
			h.log.Warn("publish event", logger.PlanID(p.ID), logger.Err(err))
		}
	}

	if next == plan.StatusDone && session.IsStudy() && h.recorder != nil {
		minutes := int(session.Duration().Minutes())
		if minutes > 24*60 {
			minutes = 24 * 60
		}
		study, err := h.recorder.Handle(ctx, RecordStudyEventCommand{
			UserID:            owner.String(),
			MinutesStudied:    minutes,
			SessionsCompleted: 1,
			Subject:           session.Subject,
			At:                at,
			CorrelationID:     session.ID,
		})
		if err != nil {
			return result, fmt.Errorf("update_session_status: record study event: %w", err)
		}
		result.Study = study
	}

	h.log.Info("session status updated",
		logger.UserID(owner.String()),
		logger.PlanID(p.ID),
		logger.String("session_id", session.ID),
		logger.String("from", string(prev.Status)),
		logger.String("to", string(next)),
	)
	return result, nil
}
