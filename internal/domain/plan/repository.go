package plan

import (
	"context"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores study plans scoped by owner.
type Repository interface {
	// Create stores a new plan together with its sessions.
	Create(ctx context.Context, p *StudyPlan) error

	// GetByID returns a plan. Returns shared.ErrPlanNotFound if it does not
	// exist or belongs to another owner.
	GetByID(ctx context.Context, owner shared.UserID, id string) (*StudyPlan, error)

	// ListByOwner returns the owner's plans, newest first.
	ListByOwner(ctx context.Context, owner shared.UserID, opts ListOptions) ([]*StudyPlan, error)

	// UpdateSessionStatus moves one session from status `from` to `to`.
	// Returns an error matching shared.ErrConcurrentModification when the
	// stored status is no longer `from`.
	UpdateSessionStatus(ctx context.Context, owner shared.UserID, planID, sessionID string, from, to SessionStatus) error

	// Delete removes a plan and its sessions.
	Delete(ctx context.Context, owner shared.UserID, id string) error
}

// ListOptions paginates plan listings.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns the default page.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20}
}
