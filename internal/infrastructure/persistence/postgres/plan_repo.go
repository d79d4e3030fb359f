package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PLAN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PlanRepository implements plan.Repository for PostgreSQL.
type PlanRepository struct {
	conn *Connection
}

var _ plan.Repository = (*PlanRepository)(nil)

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(conn *Connection) *PlanRepository {
	return &PlanRepository{conn: conn}
}

const planColumns = `id, owner_id, title, period, repeat_count, start_date, generated_by, created_at, updated_at`

const sessionColumns = `plan_id, id, subject, starts_at, ends_at, session_type, method, priority, status, notes`

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts the plan and its sessions in one transaction.
func (r *PlanRepository) Create(ctx context.Context, p *plan.StudyPlan) error {
	if p == nil || p.ID == "" {
		return shared.NewValidationError("plan", "Create", "plan id is required")
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO study_plans (`+planColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			p.ID,
			p.OwnerID.String(),
			p.Title,
			string(p.Period),
			p.RepeatCount,
			p.StartDate,
			string(p.GeneratedBy),
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.NewDomainError("plan", "Create", shared.ErrAlreadyExists, "plan "+p.ID+" already exists")
			}
			return fmt.Errorf("failed to insert plan: %w", err)
		}

		batch := &pgx.Batch{}
		for i, s := range p.Sessions {
			batch.Queue(`
				INSERT INTO study_sessions (plan_id, id, position, subject, starts_at, ends_at,
					session_type, method, priority, status, notes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`,
				p.ID, s.ID, i, s.Subject, s.Start, s.End,
				string(s.Type), string(s.Method), string(s.Priority), string(s.Status), s.Notes,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert sessions: %w", err)
		}
		return nil
	})
}

// UpdateSessionStatus moves one session from `from` to `to` with a
// conditional UPDATE. Zero affected rows is disambiguated by a follow-up read.
func (r *PlanRepository) UpdateSessionStatus(ctx context.Context, owner shared.UserID, planID, sessionID string, from, to plan.SessionStatus) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE study_sessions s SET status = $1
			FROM study_plans p
			WHERE s.plan_id = p.id AND p.owner_id = $2
			  AND s.plan_id = $3 AND s.id = $4 AND s.status = $5
		`, string(to), owner.String(), planID, sessionID, string(from))
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return r.explainMiss(ctx, tx, owner, planID, sessionID)
		}

		_, err = tx.Exec(ctx, `UPDATE study_plans SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), planID)
		return err
	})
}

func (r *PlanRepository) explainMiss(ctx context.Context, q Querier, owner shared.UserID, planID, sessionID string) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM study_plans WHERE id = $1 AND owner_id = $2)`,
		planID, owner.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check plan: %w", err)
	}
	if !exists {
		return shared.ErrPlanNotFound
	}

	var status string
	err = q.QueryRow(ctx, `SELECT status FROM study_sessions WHERE plan_id = $1 AND id = $2`,
		planID, sessionID).Scan(&status)
	if IsNoRows(err) {
		return shared.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	return shared.NewDomainError("plan", "UpdateSessionStatus", shared.ErrConcurrentModification,
		"session status changed concurrently")
}

// Delete removes a plan; sessions go with it via ON DELETE CASCADE.
func (r *PlanRepository) Delete(ctx context.Context, owner shared.UserID, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM study_plans WHERE id = $1 AND owner_id = $2`, id, owner.String())
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPlanNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns the owner's plan with its sessions.
func (r *PlanRepository) GetByID(ctx context.Context, owner shared.UserID, id string) (*plan.StudyPlan, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+planColumns+`
		FROM study_plans
		WHERE id = $1 AND owner_id = $2
	`, id, owner.String())

	p, err := scanPlan(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	sessions, err := r.loadSessions(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Sessions = sessions[p.ID]
	return p, nil
}

// ListByOwner returns the owner's plans, newest first, with sessions.
func (r *PlanRepository) ListByOwner(ctx context.Context, owner shared.UserID, opts plan.ListOptions) ([]*plan.StudyPlan, error) {
	if opts.Limit <= 0 {
		opts.Limit = plan.DefaultListOptions().Limit
	}

	rows, err := r.conn.Query(ctx, `
		SELECT `+planColumns+`
		FROM study_plans
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, owner.String(), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]*plan.StudyPlan, 0, opts.Limit)
	ids := make([]string, 0, opts.Limit)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return plans, nil
	}

	sessions, err := r.loadSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		p.Sessions = sessions[p.ID]
	}
	return plans, nil
}

func (r *PlanRepository) loadSessions(ctx context.Context, planIDs []string) (map[string][]plan.Session, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM study_sessions
		WHERE plan_id = ANY($1)
		ORDER BY plan_id, position
	`, planIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]plan.Session, len(planIDs))
	for rows.Next() {
		var (
			planID                                string
			s                                     plan.Session
			sessionType, method, priority, status string
		)
		if err := rows.Scan(&planID, &s.ID, &s.Subject, &s.Start, &s.End,
			&sessionType, &method, &priority, &status, &s.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Type = plan.SessionType(sessionType)
		s.Method = plan.Method(method)
		s.Priority = plan.Priority(priority)
		s.Status = plan.SessionStatus(status)
		out[planID] = append(out[planID], s)
	}
	return out, rows.Err()
}

func scanPlan(row pgx.Row) (*plan.StudyPlan, error) {
	var (
		p                          plan.StudyPlan
		owner, period, generatedBy string
	)
	err := row.Scan(&p.ID, &owner, &p.Title, &period, &p.RepeatCount, &p.StartDate,
		&generatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.OwnerID = shared.UserID(owner)
	p.Period = plan.Period(period)
	p.GeneratedBy = plan.GeneratedBy(generatedBy)
	return &p, nil
}
