package mastery

import (
	"context"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// Repository stores mastery sets.
type Repository interface {
	// Get returns the user's set. A user without records gets an empty set
	// with Version 0, not an error.
	Get(ctx context.Context, user shared.UserID) (Set, error)

	// Save writes the set if the stored version still equals set.Version and
	// returns the new version. A mismatch returns shared.ErrStaleMastery.
	Save(ctx context.Context, set Set) (int64, error)
}
