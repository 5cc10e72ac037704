package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-rt-workflow/internal/database"
	"github.com/pesio-ai/be-rt-workflow/internal/errors"
)

// ItemRepository handles reads and writes on version items. Carried items are
// inserted by VersionRepository.Create (transactionally with their version).
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new ItemRepository.
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `
	id, version_id, item_type, payload, is_critical_data_element,
	carried_from_item_id, evidence_ref, created_by, created_at, updated_at`

// Create inserts a new item into a version. The service layer guarantees the
// version is still a draft.
func (r *ItemRepository) Create(ctx context.Context, item *Item) error {
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal item payload")
	}

	query := `
		INSERT INTO items
		    (version_id, item_type, payload, is_critical_data_element,
		     carried_from_item_id, evidence_ref, created_by)
		VALUES ($1, $2::item_type, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		item.VersionID,
		item.ItemType,
		payloadJSON,
		item.IsCriticalDataElement,
		item.CarriedFromItemID,
		item.EvidenceRef,
		item.CreatedBy,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
}

// GetByID retrieves an item by primary key.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`

	item, err := r.scanItem(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("item", id)
	}
	return item, err
}

// ListByVersion returns all items of a version ordered by creation.
func (r *ItemRepository) ListByVersion(ctx context.Context, versionID string) ([]*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE version_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, versionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list items")
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan item")
		}
		items = append(items, item)
	}
	return items, nil
}

// UpdatePayload replaces an item's business payload. Draft-only; the service
// layer enforces the freeze.
func (r *ItemRepository) UpdatePayload(ctx context.Context, id string, payload map[string]interface{}, critical bool) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal item payload")
	}

	query := `
		UPDATE items
		SET payload                  = $2,
		    is_critical_data_element = $3,
		    updated_at               = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err = r.db.QueryRow(ctx, query, id, payloadJSON, critical).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("item", id)
	}
	return err
}

// SetEvidenceRef records the document-store reference for an item.
func (r *ItemRepository) SetEvidenceRef(ctx context.Context, id, ref string) error {
	query := `
		UPDATE items
		SET evidence_ref = $2,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, ref).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("item", id)
	}
	return err
}

// ── scan helper ──────────────────────────────────────────────────────────────

type itemScanner interface {
	Scan(dest ...any) error
}

func (r *ItemRepository) scanItem(sc itemScanner) (*Item, error) {
	item := &Item{}
	var payloadJSON []byte

	err := sc.Scan(
		&item.ID,
		&item.VersionID,
		&item.ItemType,
		&payloadJSON,
		&item.IsCriticalDataElement,
		&item.CarriedFromItemID,
		&item.EvidenceRef,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &item.Payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal item payload")
		}
	}
	return item, nil
}
