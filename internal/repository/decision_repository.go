package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-rt-workflow/internal/database"
	"github.com/pesio-ai/be-rt-workflow/internal/errors"
)

// DecisionRepository appends and reads the immutable decision ledger. The
// table has an append-only trigger, so Append is the only mutation exposed.
type DecisionRepository struct {
	db *database.DB
}

// NewDecisionRepository creates a new DecisionRepository.
func NewDecisionRepository(db *database.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

const decisionColumns = `
	id, item_id, version_id, role, verdict, notes, actor_id, created_at`

// Append inserts one ledger entry.
func (r *DecisionRepository) Append(ctx context.Context, d *Decision) error {
	query := `
		INSERT INTO decisions
		    (item_id, version_id, role, verdict, notes, actor_id)
		VALUES ($1, $2, $3::decision_role, $4::decision_verdict, $5, $6)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		d.ItemID,
		d.VersionID,
		d.Role,
		d.Verdict,
		d.Notes,
		d.ActorID,
	).Scan(&d.ID, &d.CreatedAt)
}

// ListByItem returns the full ledger for one item in append order.
func (r *DecisionRepository) ListByItem(ctx context.Context, itemID string) ([]*Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decisions
		WHERE item_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Query(ctx, query, itemID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list item decisions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListByVersion returns every ledger entry recorded against a version's
// items (plus version-scoped escalations) in append order. One query feeds
// whole-version reconciliation.
func (r *DecisionRepository) ListByVersion(ctx context.Context, versionID string) ([]*Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decisions
		WHERE version_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Query(ctx, query, versionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list version decisions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func (r *DecisionRepository) scanRows(rows pgx.Rows) ([]*Decision, error) {
	var decisions []*Decision
	for rows.Next() {
		d := &Decision{}
		err := rows.Scan(
			&d.ID,
			&d.ItemID,
			&d.VersionID,
			&d.Role,
			&d.Verdict,
			&d.Notes,
			&d.ActorID,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan decision")
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
