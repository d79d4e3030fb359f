// Package memory provides in-process repositories with the same semantics as
// the Postgres ones, including optimistic-lock conflicts. They back the CLI
// when no database is configured and the application tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// PlanRepository implements plan.Repository.
type PlanRepository struct {
	mu    sync.RWMutex
	plans map[string]*plan.StudyPlan
}

var _ plan.Repository = (*PlanRepository)(nil)

// NewPlanRepository creates an empty repository.
func NewPlanRepository() *PlanRepository {
	return &PlanRepository{plans: make(map[string]*plan.StudyPlan)}
}

func copyPlan(p *plan.StudyPlan) *plan.StudyPlan {
	cp := *p
	cp.Sessions = append([]plan.Session(nil), p.Sessions...)
	return &cp
}

// Create stores a new plan.
func (r *PlanRepository) Create(_ context.Context, p *plan.StudyPlan) error {
	if p == nil || p.ID == "" {
		return shared.NewValidationError("plan", "Create", "plan id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[p.ID]; ok {
		return shared.NewDomainError("plan", "Create", shared.ErrAlreadyExists, "plan "+p.ID+" already exists")
	}
	r.plans[p.ID] = copyPlan(p)
	return nil
}

// GetByID returns a copy of the owner's plan.
func (r *PlanRepository) GetByID(_ context.Context, owner shared.UserID, id string) (*plan.StudyPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok || p.OwnerID != owner {
		return nil, shared.ErrPlanNotFound
	}
	return copyPlan(p), nil
}

// ListByOwner returns the owner's plans, newest first.
func (r *PlanRepository) ListByOwner(_ context.Context, owner shared.UserID, opts plan.ListOptions) ([]*plan.StudyPlan, error) {
	r.mu.RLock()
	var out []*plan.StudyPlan
	for _, p := range r.plans {
		if p.OwnerID == owner {
			out = append(out, copyPlan(p))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if opts.Offset >= len(out) {
		return []*plan.StudyPlan{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// UpdateSessionStatus moves a session from `from` to `to`.
func (r *PlanRepository) UpdateSessionStatus(_ context.Context, owner shared.UserID, planID, sessionID string, from, to plan.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	if !ok || p.OwnerID != owner {
		return shared.ErrPlanNotFound
	}
	for i := range p.Sessions {
		if p.Sessions[i].ID != sessionID {
			continue
		}
		if p.Sessions[i].Status != from {
			return shared.NewDomainError("plan", "UpdateSessionStatus", shared.ErrConcurrentModification,
				"session status changed concurrently")
		}
		p.Sessions[i].Status = to
		return nil
	}
	return shared.ErrSessionNotFound
}

// Delete removes a plan.
func (r *PlanRepository) Delete(_ context.Context, owner shared.UserID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok || p.OwnerID != owner {
		return shared.ErrPlanNotFound
	}
	delete(r.plans, id)
	return nil
}
