package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-rt-workflow/internal/database"
	"github.com/pesio-ai/be-rt-workflow/internal/errors"
)

// PhaseRepository handles phase instances, their timeline and manual overrides.
type PhaseRepository struct {
	db *database.DB
}

// NewPhaseRepository creates a new PhaseRepository.
func NewPhaseRepository(db *database.DB) *PhaseRepository {
	return &PhaseRepository{db: db}
}

const phaseColumns = `
	id, report_id, cycle_id, phase_key, state,
	planned_start, planned_end, actual_start, actual_end,
	state_override, status_override, override_reason, override_by, override_at,
	created_at, updated_at`

// Create inserts a phase instance.
func (r *PhaseRepository) Create(ctx context.Context, p *PhaseInstance) error {
	query := `
		INSERT INTO phase_instances
		    (report_id, cycle_id, phase_key, state, planned_start, planned_end)
		VALUES ($1, $2, $3, $4::phase_state, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		p.ReportID,
		p.CycleID,
		p.PhaseKey,
		p.State,
		p.PlannedStart,
		p.PlannedEnd,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if database.IsUniqueViolation(err) {
		return errors.Newf(errors.ErrCodeConflict,
			"phase %s already exists for report %s cycle %s", p.PhaseKey, p.ReportID, p.CycleID)
	}
	return err
}

// GetByID retrieves a phase instance by primary key.
func (r *PhaseRepository) GetByID(ctx context.Context, id string) (*PhaseInstance, error) {
	query := `SELECT ` + phaseColumns + ` FROM phase_instances WHERE id = $1`

	p, err := r.scanPhase(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("phase_instance", id)
	}
	return p, err
}

// GetByKey retrieves a phase instance by its natural key.
func (r *PhaseRepository) GetByKey(ctx context.Context, reportID, cycleID, phaseKey string) (*PhaseInstance, error) {
	query := `
		SELECT ` + phaseColumns + `
		FROM phase_instances
		WHERE report_id = $1 AND cycle_id = $2 AND phase_key = $3
	`

	p, err := r.scanPhase(r.db.QueryRow(ctx, query, reportID, cycleID, phaseKey))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("phase_instance", phaseKey)
	}
	return p, err
}

// ListByReport returns all phase instances for a report/cycle.
func (r *PhaseRepository) ListByReport(ctx context.Context, reportID, cycleID string) ([]*PhaseInstance, error) {
	query := `
		SELECT ` + phaseColumns + `
		FROM phase_instances
		WHERE report_id = $1 AND cycle_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, reportID, cycleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list phases")
	}
	defer rows.Close()

	var phases []*PhaseInstance
	for rows.Next() {
		p, err := r.scanPhase(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan phase")
		}
		phases = append(phases, p)
	}
	return phases, nil
}

// UpdateState sets the computed state, stamping actual start/end when given.
func (r *PhaseRepository) UpdateState(ctx context.Context, id string, state PhaseState, actualStart, actualEnd *time.Time) error {
	query := `
		UPDATE phase_instances
		SET state        = $2::phase_state,
		    actual_start = COALESCE($3, actual_start),
		    actual_end   = COALESCE($4, actual_end),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, state, actualStart, actualEnd).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("phase_instance", id)
	}
	return err
}

// UpdatePlannedDates sets the planned timeline used by schedule status.
func (r *PhaseRepository) UpdatePlannedDates(ctx context.Context, id string, plannedStart, plannedEnd *time.Time) error {
	query := `
		UPDATE phase_instances
		SET planned_start = $2,
		    planned_end   = $3,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, plannedStart, plannedEnd).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("phase_instance", id)
	}
	return err
}

// SetOverride records a manual state and/or status override.
func (r *PhaseRepository) SetOverride(ctx context.Context, id string, state *PhaseState, status *ScheduleStatus, reason, actor string) error {
	query := `
		UPDATE phase_instances
		SET state_override  = $2::phase_state,
		    status_override = $3::schedule_status,
		    override_reason = $4,
		    override_by     = $5,
		    override_at     = NOW(),
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, state, status, reason, actor).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("phase_instance", id)
	}
	return err
}

// ClearOverride removes any manual override, restoring computed values.
func (r *PhaseRepository) ClearOverride(ctx context.Context, id string) error {
	query := `
		UPDATE phase_instances
		SET state_override  = NULL,
		    status_override = NULL,
		    override_reason = NULL,
		    override_by     = NULL,
		    override_at     = NULL,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("phase_instance", id)
	}
	return err
}

// ── scan helper ──────────────────────────────────────────────────────────────

type phaseScanner interface {
	Scan(dest ...any) error
}

func (r *PhaseRepository) scanPhase(sc phaseScanner) (*PhaseInstance, error) {
	p := &PhaseInstance{}
	err := sc.Scan(
		&p.ID,
		&p.ReportID,
		&p.CycleID,
		&p.PhaseKey,
		&p.State,
		&p.PlannedStart,
		&p.PlannedEnd,
		&p.ActualStart,
		&p.ActualEnd,
		&p.StateOverride,
		&p.StatusOverride,
		&p.OverrideReason,
		&p.OverrideBy,
		&p.OverrideAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
