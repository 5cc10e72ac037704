package service

import (
	"context"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

// LedgerService records reviewer decisions on items. Every write is an
// append; corrections go through ResetItem followed by a fresh decision so
// the full history stays auditable.
type LedgerService struct {
	versions  VersionStore
	items     ItemStore
	decisions DecisionStore
	identity  IdentityClientInterface
	log       *logger.Logger
}

// NewLedgerService creates a LedgerService. identity may be nil, in which
// case the claimed role is trusted (local development).
func NewLedgerService(
	versions VersionStore,
	items ItemStore,
	decisions DecisionStore,
	identity IdentityClientInterface,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		versions:  versions,
		items:     items,
		decisions: decisions,
		identity:  identity,
		log:       log,
	}
}

// BulkResult reports per-item outcomes of a bulk decision. One bad item
// never blocks the rest of the batch.
type BulkResult struct {
	Succeeded []string    `json:"succeeded"`
	Failed    []BulkError `json:"failed"`
}

// BulkError is one per-item failure within a bulk decision.
type BulkError struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// RecordDecision appends one decision to an item's ledger.
func (s *LedgerService) RecordDecision(
	ctx context.Context,
	itemID string,
	role repository.DecisionRole,
	verdict repository.Verdict,
	notes *string,
	actorID string,
) (*repository.Decision, error) {
	switch verdict {
	case repository.VerdictApprove, repository.VerdictReject, repository.VerdictRequestChanges:
	default:
		return nil, errors.InvalidInput("verdict", "must be approve, reject or request_changes")
	}

	item, version, err := s.decidableItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if !roleRequired(item.ItemType, role) {
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"role %s has no decision authority over %s items", role, item.ItemType)
	}
	if err := s.assertActorRole(ctx, actorID, role); err != nil {
		return nil, err
	}

	d := &repository.Decision{
		ItemID:    &item.ID,
		VersionID: version.ID,
		Role:      &role,
		Verdict:   verdict,
		Notes:     notes,
		ActorID:   actorID,
	}
	if err := s.decisions.Append(ctx, d); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("item_id", item.ID).
		Str("role", string(role)).
		Str("verdict", string(verdict)).
		Msg("decision recorded")

	return d, nil
}

// RecordBulkDecision applies RecordDecision per item, isolating failures.
func (s *LedgerService) RecordBulkDecision(
	ctx context.Context,
	itemIDs []string,
	role repository.DecisionRole,
	verdict repository.Verdict,
	notes *string,
	actorID string,
) (*BulkResult, error) {
	if len(itemIDs) == 0 {
		return nil, errors.InvalidInput("item_ids", "at least one item is required")
	}

	result := &BulkResult{}
	for _, itemID := range itemIDs {
		if _, err := s.RecordDecision(ctx, itemID, role, verdict, notes, actorID); err != nil {
			result.Failed = append(result.Failed, BulkError{ItemID: itemID, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, itemID)
	}

	s.log.Info().
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Str("verdict", string(verdict)).
		Msg("bulk decision recorded")

	return result, nil
}

// ResetItem clears an item's derived status back to pending by appending a
// reset marker. History is never deleted.
func (s *LedgerService) ResetItem(ctx context.Context, itemID, actorID string) error {
	item, version, err := s.decidableItem(ctx, itemID)
	if err != nil {
		return err
	}

	return s.decisions.Append(ctx, &repository.Decision{
		ItemID:    &item.ID,
		VersionID: version.ID,
		Verdict:   repository.VerdictReset,
		ActorID:   actorID,
	})
}

// GetLatestDecision returns the latest effective decision for an (item, role)
// pair, or nil when none exists after the newest reset.
func (s *LedgerService) GetLatestDecision(ctx context.Context, itemID string, role repository.DecisionRole) (*repository.Decision, error) {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return nil, err
	}
	ledger, err := s.decisions.ListByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return effectiveDecisions(ledger)[role], nil
}

// GetHistory returns the full append-only ledger for an item.
func (s *LedgerService) GetHistory(ctx context.Context, itemID string) ([]*repository.Decision, error) {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return nil, err
	}
	return s.decisions.ListByItem(ctx, itemID)
}

// ── internals ────────────────────────────────────────────────────────────────

// decidableItem loads an item and asserts its version still accepts
// decisions. Items freeze once the version leaves draft/pending_approval.
func (s *LedgerService) decidableItem(ctx context.Context, itemID string) (*repository.Item, *repository.Version, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	version, err := s.versions.GetByID(ctx, item.VersionID)
	if err != nil {
		return nil, nil, err
	}
	if !version.State.IsWorking() {
		return nil, nil, errors.Newf(errors.ErrCodeConflict,
			"item %s is frozen: version is %s", itemID, version.State)
	}
	return item, version, nil
}

// assertActorRole cross-checks the claimed role against the identity
// provider when one is configured.
func (s *LedgerService) assertActorRole(ctx context.Context, actorID string, role repository.DecisionRole) error {
	if s.identity == nil {
		return nil
	}
	actual, err := s.identity.GetActorRole(ctx, actorID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve actor role")
	}
	if actual != role {
		return errors.Newf(errors.ErrCodeUnauthorized,
			"actor %s holds role %s, not %s", actorID, actual, role)
	}
	return nil
}
