package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY IMPLEMENTATION
// The state is one JSONB document per user guarded by a version column.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionRepository implements progression.Repository for PostgreSQL.
type ProgressionRepository struct {
	conn *Connection
}

var _ progression.Repository = (*ProgressionRepository)(nil)

// NewProgressionRepository creates a new ProgressionRepository.
func NewProgressionRepository(conn *Connection) *ProgressionRepository {
	return &ProgressionRepository{conn: conn}
}

// Get returns the user's state or shared.ErrProgressionNotFound.
func (r *ProgressionRepository) Get(ctx context.Context, user shared.UserID) (progression.State, error) {
	var (
		version int64
		doc     []byte
	)
	err := r.conn.QueryRow(ctx,
		`SELECT version, state FROM progression_states WHERE user_id = $1`, user.String(),
	).Scan(&version, &doc)
	if err != nil {
		if IsNoRows(err) {
			return progression.State{}, shared.ErrProgressionNotFound
		}
		return progression.State{}, fmt.Errorf("failed to get progression: %w", err)
	}

	var st progression.State
	if err := json.Unmarshal(doc, &st); err != nil {
		return progression.State{}, fmt.Errorf("failed to decode progression: %w", err)
	}
	st.UserID = user
	st.Version = version
	return st, nil
}

// Save inserts (Version 0) or updates the state if the stored version still
// matches. A lost race returns shared.ErrStaleProgression.
func (r *ProgressionRepository) Save(ctx context.Context, state progression.State) (int64, error) {
	doc, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to encode progression: %w", err)
	}
	next := state.Version + 1
	now := time.Now().UTC()

	if state.Version == 0 {
		_, err := r.conn.Exec(ctx, `
			INSERT INTO progression_states (user_id, version, state, total_xp, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, state.UserID.String(), next, doc, state.TotalXP, now)
		if err != nil {
			if IsUniqueViolation(err) {
				return 0, shared.ErrStaleProgression
			}
			return 0, fmt.Errorf("failed to insert progression: %w", err)
		}
		return next, nil
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE progression_states
		SET version = $1, state = $2, total_xp = $3, updated_at = $4
		WHERE user_id = $5 AND version = $6
	`, next, doc, state.TotalXP, now, state.UserID.String(), state.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to update progression: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, shared.ErrStaleProgression
	}
	return next, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MASTERY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// MasteryRepository implements mastery.Repository for PostgreSQL.
type MasteryRepository struct {
	conn *Connection
}

var _ mastery.Repository = (*MasteryRepository)(nil)

// NewMasteryRepository creates a new MasteryRepository.
func NewMasteryRepository(conn *Connection) *MasteryRepository {
	return &MasteryRepository{conn: conn}
}

// Get returns the user's set, empty with Version 0 when none is stored.
func (r *MasteryRepository) Get(ctx context.Context, user shared.UserID) (mastery.Set, error) {
	var (
		version int64
		doc     []byte
	)
	err := r.conn.QueryRow(ctx,
		`SELECT version, records FROM mastery_sets WHERE user_id = $1`, user.String(),
	).Scan(&version, &doc)
	if err != nil {
		if IsNoRows(err) {
			return mastery.NewSet(user), nil
		}
		return mastery.Set{}, fmt.Errorf("failed to get mastery: %w", err)
	}

	set := mastery.NewSet(user)
	if err := json.Unmarshal(doc, &set.Records); err != nil {
		return mastery.Set{}, fmt.Errorf("failed to decode mastery: %w", err)
	}
	if set.Records == nil {
		set.Records = map[string]mastery.Record{}
	}
	set.Version = version
	return set, nil
}

// Save writes the set with the same compare-and-swap rules as progression.
func (r *MasteryRepository) Save(ctx context.Context, set mastery.Set) (int64, error) {
	records := set.Records
	if records == nil {
		records = map[string]mastery.Record{}
	}
	doc, err := json.Marshal(records)
	if err != nil {
		return 0, fmt.Errorf("failed to encode mastery: %w", err)
	}
	next := set.Version + 1
	now := time.Now().UTC()

	if set.Version == 0 {
		_, err := r.conn.Exec(ctx, `
			INSERT INTO mastery_sets (user_id, version, records, updated_at)
			VALUES ($1, $2, $3, $4)
		`, set.UserID.String(), next, doc, now)
		if err != nil {
			if IsUniqueViolation(err) {
				return 0, shared.ErrStaleMastery
			}
			return 0, fmt.Errorf("failed to insert mastery: %w", err)
		}
		return next, nil
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE mastery_sets SET version = $1, records = $2, updated_at = $3
		WHERE user_id = $4 AND version = $5
	`, next, doc, now, set.UserID.String(), set.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to update mastery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, shared.ErrStaleMastery
	}
	return next, nil
}
