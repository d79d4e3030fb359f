package query

import (
	"context"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PLAN / LIST PLANS QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// GetPlanQuery fetches one plan of an owner.
type GetPlanQuery struct {
	OwnerID string
	PlanID  string
}

// ListPlansQuery pages through an owner's plans, newest first.
type ListPlansQuery struct {
	OwnerID string
	Limit   int
	Offset  int
}

// PlanDTO is a plan for display.
type PlanDTO struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Period      string       `json:"period"`
	RepeatCount int          `json:"repeat_count"`
	StartDate   time.Time    `json:"start_date"`
	GeneratedBy string       `json:"generated_by"`
	CreatedAt   time.Time    `json:"created_at"`
	Sessions    []SessionDTO `json:"sessions,omitempty"`

	// Summary over study sessions only.
	StudySessions int `json:"study_sessions"`
	StudyMinutes  int `json:"study_minutes"`
	DoneSessions  int `json:"done_sessions"`
}

// SessionDTO is one session for display.
type SessionDTO struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Type     string    `json:"type"`
	Method   string    `json:"method"`
	Priority string    `json:"priority"`
	Status   string    `json:"status"`
}

// PlanHandler serves plan reads.
type PlanHandler struct {
	planRepo plan.Repository
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(planRepo plan.Repository) *PlanHandler {
	return &PlanHandler{planRepo: planRepo}
}

// Get returns a plan with its sessions.
func (h *PlanHandler) Get(ctx context.Context, q GetPlanQuery) (*PlanDTO, error) {
	owner, err := shared.NewUserID(q.OwnerID)
	if err != nil {
		return nil, err
	}
	if q.PlanID == "" {
		return nil, shared.NewValidationError("plan", "Get", "plan id is required")
	}
	p, err := h.planRepo.GetByID(ctx, owner, q.PlanID)
	if err != nil {
		return nil, err
	}
	return toPlanDTO(p, true), nil
}

// List returns summaries without sessions.
func (h *PlanHandler) List(ctx context.Context, q ListPlansQuery) ([]*PlanDTO, error) {
	owner, err := shared.NewUserID(q.OwnerID)
	if err != nil {
		return nil, err
	}
	opts := plan.DefaultListOptions()
	if q.Limit > 0 {
		opts.Limit = min(q.Limit, 100)
	}
	if q.Offset > 0 {
		opts.Offset = q.Offset
	}

	plans, err := h.planRepo.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*PlanDTO, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanDTO(p, false))
	}
	return out, nil
}

func toPlanDTO(p *plan.StudyPlan, withSessions bool) *PlanDTO {
	dto := &PlanDTO{
		ID:          p.ID,
		Title:       p.Title,
		Period:      string(p.Period),
		RepeatCount: p.RepeatCount,
		StartDate:   p.StartDate,
		GeneratedBy: string(p.GeneratedBy),
		CreatedAt:   p.CreatedAt,
	}
	for _, s := range p.Sessions {
		if s.IsStudy() {
			dto.StudySessions++
			dto.StudyMinutes += int(s.Duration().Minutes())
			if s.Status == plan.StatusDone {
				dto.DoneSessions++
			}
		}
		if withSessions {
			dto.Sessions = append(dto.Sessions, SessionDTO{
				ID:       s.ID,
				Subject:  s.Subject,
				Start:    s.Start,
				End:      s.End,
				Type:     string(s.Type),
				Method:   string(s.Method),
				Priority: string(s.Priority),
				Status:   string(s.Status),
			})
		}
	}
	return dto
}
