package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-rt-workflow/internal/database"
	"github.com/pesio-ai/be-rt-workflow/internal/errors"
)

// VersionRepository manages version snapshots and their carried items.
// Version + carried-item creation is always done in a single transaction so
// the working-version uniqueness check and the item copies commit atomically.
type VersionRepository struct {
	db *database.DB
}

// NewVersionRepository creates a new VersionRepository.
func NewVersionRepository(db *database.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

const versionColumns = `
	id, phase_id, version_number, state, parent_version_id,
	created_by, submitted_by, submitted_at,
	resolved_by, resolved_at, rejection_reason,
	created_at, updated_at`

// Create inserts a version and its carried-forward items in one transaction.
// The version number is assigned inside the transaction (MAX+1 per phase);
// the partial unique index on working versions turns a concurrent create
// into a CONCURRENCY_CONFLICT.
func (r *VersionRepository) Create(ctx context.Context, v *Version, items []*Item) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		vQuery := `
			INSERT INTO versions
			    (phase_id, version_number, state, parent_version_id, created_by)
			SELECT $1,
			       COALESCE(MAX(version_number), 0) + 1,
			       $2::version_state, $3, $4
			FROM versions
			WHERE phase_id = $1
			RETURNING id, version_number, created_at, updated_at
		`

		err := tx.QueryRow(ctx, vQuery,
			v.PhaseID,
			v.State,
			v.ParentVersionID,
			v.CreatedBy,
		).Scan(&v.ID, &v.VersionNumber, &v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return err
		}

		itemQuery := `
			INSERT INTO items
			    (version_id, item_type, payload, is_critical_data_element,
			     carried_from_item_id, evidence_ref, created_by)
			VALUES ($1, $2::item_type, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`

		for _, item := range items {
			item.VersionID = v.ID

			payloadJSON, err := json.Marshal(item.Payload)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal item payload")
			}

			err = tx.QueryRow(ctx, itemQuery,
				item.VersionID,
				item.ItemType,
				payloadJSON,
				item.IsCriticalDataElement,
				item.CarriedFromItemID,
				item.EvidenceRef,
				item.CreatedBy,
			).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create carried item")
			}
		}

		return nil
	})

	if database.IsUniqueViolation(err) {
		return errors.Wrap(err, errors.ErrCodeConcurrencyConflict,
			"a working version already exists for this phase")
	}
	return err
}

// GetByID retrieves a version by its primary key.
func (r *VersionRepository) GetByID(ctx context.Context, id string) (*Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE id = $1`

	v, err := r.scanVersion(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("version", id)
	}
	return v, err
}

// GetCurrentByPhase returns the working (draft or pending_approval) version
// for a phase. Returns nil when no working version exists.
func (r *VersionRepository) GetCurrentByPhase(ctx context.Context, phaseID string) (*Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE phase_id = $1
		  AND state IN ('draft', 'pending_approval')
	`

	v, err := r.scanVersion(r.db.QueryRow(ctx, query, phaseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// GetLatestResolvedByPhase returns the highest-numbered version in a
// terminal-ish state (approved or rejected) for a phase, or nil.
func (r *VersionRepository) GetLatestResolvedByPhase(ctx context.Context, phaseID string) (*Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE phase_id = $1
		  AND state IN ('approved', 'rejected')
		ORDER BY version_number DESC
		LIMIT 1
	`

	v, err := r.scanVersion(r.db.QueryRow(ctx, query, phaseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// GetSuccessor returns the version forked from parentID, or nil.
func (r *VersionRepository) GetSuccessor(ctx context.Context, parentID string) (*Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE parent_version_id = $1
	`

	v, err := r.scanVersion(r.db.QueryRow(ctx, query, parentID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// ListByPhase returns all versions for a phase ordered by version number.
func (r *VersionRepository) ListByPhase(ctx context.Context, phaseID string) ([]*Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE phase_id = $1
		ORDER BY version_number ASC
	`

	rows, err := r.db.Query(ctx, query, phaseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list versions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListPendingApproval returns every version awaiting review, oldest first.
func (r *VersionRepository) ListPendingApproval(ctx context.Context) ([]*Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE state = 'pending_approval'
		ORDER BY submitted_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending versions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// MarkSubmitted transitions a version to pending_approval.
func (r *VersionRepository) MarkSubmitted(ctx context.Context, id, actor string) error {
	query := `
		UPDATE versions
		SET state        = 'pending_approval'::version_state,
		    submitted_by = $2,
		    submitted_at = NOW(),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, actor).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("version", id)
	}
	return err
}

// MarkResolved stamps a reviewer outcome (approved or rejected).
func (r *VersionRepository) MarkResolved(ctx context.Context, id string, state VersionState, actor string, reason *string) error {
	query := `
		UPDATE versions
		SET state            = $2::version_state,
		    resolved_by      = $3,
		    resolved_at      = NOW(),
		    rejection_reason = $4,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, state, actor, reason).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("version", id)
	}
	return err
}

// MarkSuperseded makes a version permanently read-only. Triggered when its
// fork successor is approved.
func (r *VersionRepository) MarkSuperseded(ctx context.Context, id string) error {
	query := `
		UPDATE versions
		SET state      = 'superseded'::version_state,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("version", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type versionScanner interface {
	Scan(dest ...any) error
}

func (r *VersionRepository) scanVersion(row versionScanner) (*Version, error) {
	v := &Version{}
	err := row.Scan(
		&v.ID,
		&v.PhaseID,
		&v.VersionNumber,
		&v.State,
		&v.ParentVersionID,
		&v.CreatedBy,
		&v.SubmittedBy,
		&v.SubmittedAt,
		&v.ResolvedBy,
		&v.ResolvedAt,
		&v.RejectionReason,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *VersionRepository) scanRows(rows pgx.Rows) ([]*Version, error) {
	var versions []*Version
	for rows.Next() {
		v, err := r.scanVersion(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan version")
		}
		versions = append(versions, v)
	}
	return versions, nil
}
