package service

import (
	"context"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

// VersionService owns the version lifecycle: draft creation, submission,
// reviewer resolution and the fork that carries approved work forward after
// a rejection.
type VersionService struct {
	versions  VersionStore
	items     ItemStore
	decisions DecisionStore
	phases    PhaseStore
	engine    *ReconciliationEngine
	identity  IdentityClientInterface
	evidence  EvidenceClientInterface
	notify    NotificationPublisherInterface
	log       *logger.Logger
}

// NewVersionService creates a VersionService. identity, evidence and notify
// may be nil.
func NewVersionService(
	versions VersionStore,
	items ItemStore,
	decisions DecisionStore,
	phases PhaseStore,
	engine *ReconciliationEngine,
	identity IdentityClientInterface,
	evidence EvidenceClientInterface,
	notify NotificationPublisherInterface,
	log *logger.Logger,
) *VersionService {
	return &VersionService{
		versions:  versions,
		items:     items,
		decisions: decisions,
		phases:    phases,
		engine:    engine,
		identity:  identity,
		evidence:  evidence,
		notify:    notify,
		log:       log,
	}
}

// ── Version lifecycle ────────────────────────────────────────────────────────

// CreateVersion opens a new draft for a phase. With a parent it carries
// forward every item, preserving the effective approve decisions of approved
// items and resetting everything else to pending. Carry-forward is additive:
// no item is ever dropped.
func (s *VersionService) CreateVersion(ctx context.Context, phaseID string, parentVersionID *string, actorID string) (*repository.Version, error) {
	if _, err := s.phases.GetByID(ctx, phaseID); err != nil {
		return nil, err
	}

	current, err := s.versions.GetCurrentByPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, errors.Newf(errors.ErrCodeConflict,
			"phase already has a working version (v%d, %s)", current.VersionNumber, current.State)
	}

	var carried []*repository.Item
	var approvals []carriedApproval

	if parentVersionID != nil {
		parent, err := s.versions.GetByID(ctx, *parentVersionID)
		if err != nil {
			return nil, err
		}
		if parent.PhaseID != phaseID {
			return nil, errors.InvalidInput("parent_version_id", "parent belongs to a different phase")
		}
		carried, approvals, err = s.carryForward(ctx, parent)
		if err != nil {
			return nil, err
		}
	}

	v := &repository.Version{
		PhaseID:         phaseID,
		State:           repository.VersionDraft,
		ParentVersionID: parentVersionID,
		CreatedBy:       actorID,
	}
	if err := s.versions.Create(ctx, v, carried); err != nil {
		return nil, err
	}

	// Re-point the preserved approvals at the freshly created items.
	for _, a := range approvals {
		a.decision.VersionID = v.ID
		a.decision.ItemID = &carried[a.itemIndex].ID
		if err := s.decisions.Append(ctx, a.decision); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("phase_id", phaseID).
		Str("version_id", v.ID).
		Int("version_number", v.VersionNumber).
		Int("carried_items", len(carried)).
		Msg("version created")

	s.publish(ctx, "version_created", v.ID, actorID, map[string]interface{}{
		"phase_id":       phaseID,
		"version_number": v.VersionNumber,
	})

	return v, nil
}

// Submit freezes a draft and hands it to review. Fails when any item lacks
// its pre-submission decisions; a draft containing rejected items can only
// be submitted with an explicit escalation note, which is itself recorded in
// the ledger.
func (s *VersionService) Submit(ctx context.Context, versionID, actorID string, escalationNote *string) error {
	v, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return err
	}
	if v.State != repository.VersionDraft {
		return errors.Newf(errors.ErrCodeConflict, "version is %s, only drafts can be submitted", v.State)
	}

	ok, missing, err := s.engine.CanSubmit(ctx, versionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.IncompleteDecisions(missing)
	}

	summary, err := s.engine.ComputeVersionSummary(ctx, versionID)
	if err != nil {
		return err
	}
	if summary.Rejected > 0 {
		if escalationNote == nil || *escalationNote == "" {
			return errors.Newf(errors.ErrCodeConflict,
				"version has %d rejected item(s); submission requires an escalation note", summary.Rejected)
		}
		err := s.decisions.Append(ctx, &repository.Decision{
			VersionID: versionID,
			Verdict:   repository.VerdictEscalate,
			Notes:     escalationNote,
			ActorID:   actorID,
		})
		if err != nil {
			return err
		}
	}

	if err := s.versions.MarkSubmitted(ctx, versionID, actorID); err != nil {
		return err
	}

	s.log.Info().Str("version_id", versionID).Msg("version submitted for approval")
	s.publish(ctx, "version_submitted", versionID, actorID, map[string]interface{}{
		"phase_id": v.PhaseID,
		"summary":  summary,
	})
	return nil
}

// Approve resolves a pending version as approved. Requires unanimous item
// approval and a report-owner actor. Approval supersedes the rejected parent
// (if this version is a fork) and any earlier approved version of the phase.
func (s *VersionService) Approve(ctx context.Context, versionID, actorID string, notes *string) error {
	v, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return err
	}
	if v.State != repository.VersionPendingApproval {
		return errors.Newf(errors.ErrCodeConflict, "version is %s, not pending_approval", v.State)
	}
	if err := s.assertReviewer(ctx, actorID); err != nil {
		return err
	}

	ok, err := s.engine.CanApprove(ctx, versionID)
	if err != nil {
		return err
	}
	if !ok {
		summary, sErr := s.engine.ComputeVersionSummary(ctx, versionID)
		if sErr != nil {
			return sErr
		}
		return errors.Newf(errors.ErrCodeConflict,
			"version is not approvable: %d rejected, %d pending of %d items",
			summary.Rejected, summary.Pending, summary.Total)
	}

	if err := s.versions.MarkResolved(ctx, versionID, repository.VersionApproved, actorID, notes); err != nil {
		return err
	}
	if err := s.supersedePredecessors(ctx, v); err != nil {
		return err
	}

	s.log.Info().Str("version_id", versionID).Msg("version approved")
	s.publish(ctx, "version_approved", versionID, actorID, map[string]interface{}{
		"phase_id": v.PhaseID,
	})
	return nil
}

// Reject resolves a pending version as rejected. A non-empty reason is
// mandatory; the rejected version stays the reference point until its fork
// successor is approved.
func (s *VersionService) Reject(ctx context.Context, versionID, actorID, reason string) error {
	if reason == "" {
		return errors.InvalidInput("reason", "rejection reason is required")
	}

	v, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return err
	}
	if v.State != repository.VersionPendingApproval {
		return errors.Newf(errors.ErrCodeConflict, "version is %s, not pending_approval", v.State)
	}
	if err := s.assertReviewer(ctx, actorID); err != nil {
		return err
	}

	if err := s.versions.MarkResolved(ctx, versionID, repository.VersionRejected, actorID, &reason); err != nil {
		return err
	}

	s.log.Info().Str("version_id", versionID).Str("reason", reason).Msg("version rejected")
	s.publish(ctx, "version_rejected", versionID, actorID, map[string]interface{}{
		"phase_id": v.PhaseID,
		"reason":   reason,
	})
	return nil
}

// Fork spawns the single remediation draft from a rejected version.
func (s *VersionService) Fork(ctx context.Context, versionID, actorID string) (*repository.Version, error) {
	v, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.State != repository.VersionRejected {
		return nil, errors.Newf(errors.ErrCodeConflict, "only rejected versions can be forked (state: %s)", v.State)
	}

	successor, err := s.versions.GetSuccessor(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if successor != nil {
		return nil, errors.Newf(errors.ErrCodeConflict,
			"version already forked into v%d", successor.VersionNumber)
	}

	forked, err := s.CreateVersion(ctx, v.PhaseID, &versionID, actorID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "version_forked", forked.ID, actorID, map[string]interface{}{
		"phase_id":          v.PhaseID,
		"parent_version_id": versionID,
	})
	return forked, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetVersion returns a version with its aggregate item counts.
func (s *VersionService) GetVersion(ctx context.Context, versionID string) (*repository.Version, *repository.VersionSummary, error) {
	v, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	summary, err := s.engine.ComputeVersionSummary(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	return v, summary, nil
}

// GetCurrentVersion is the single source of truth for "current": the working
// version when one exists, otherwise the latest resolved version. Callers
// must never infer currency by sorting timestamps themselves.
func (s *VersionService) GetCurrentVersion(ctx context.Context, phaseID string) (*repository.Version, error) {
	current, err := s.versions.GetCurrentByPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return current, nil
	}
	return s.versions.GetLatestResolvedByPhase(ctx, phaseID)
}

// ListVersions returns a phase's versions in numbering order.
func (s *VersionService) ListVersions(ctx context.Context, phaseID string) ([]*repository.Version, error) {
	return s.versions.ListByPhase(ctx, phaseID)
}

// ListPendingApproval returns the review queue, oldest submission first.
func (s *VersionService) ListPendingApproval(ctx context.Context) ([]*repository.Version, error) {
	return s.versions.ListPendingApproval(ctx)
}

// ── Items ────────────────────────────────────────────────────────────────────

// CreateItem adds an item to a draft version.
func (s *VersionService) CreateItem(ctx context.Context, versionID string, itemType repository.ItemType, payload map[string]interface{}, critical bool, actorID string) (*repository.Item, error) {
	if _, ok := requiredRolesByType[itemType]; !ok {
		return nil, errors.InvalidInput("item_type", "unknown item type")
	}
	if err := s.assertDraft(ctx, versionID); err != nil {
		return nil, err
	}

	item := &repository.Item{
		VersionID:             versionID,
		ItemType:              itemType,
		Payload:               payload,
		IsCriticalDataElement: critical,
		CreatedBy:             actorID,
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem mutates an item's payload. Legal only while the version is a
// draft; any later change requires a new version.
func (s *VersionService) UpdateItem(ctx context.Context, itemID string, payload map[string]interface{}, critical bool) error {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if err := s.assertDraft(ctx, item.VersionID); err != nil {
		return err
	}
	return s.items.UpdatePayload(ctx, itemID, payload, critical)
}

// ItemWithStatus pairs an item with its reconciled net status.
type ItemWithStatus struct {
	*repository.Item
	Status repository.ItemStatus `json:"status"`
}

// ListItems returns a version's items with their net statuses.
func (s *VersionService) ListItems(ctx context.Context, versionID string) ([]*ItemWithStatus, error) {
	if _, err := s.versions.GetByID(ctx, versionID); err != nil {
		return nil, err
	}
	items, err := s.items.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	statuses, err := s.engine.itemStatuses(ctx, versionID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]repository.ItemStatus, len(statuses))
	for _, st := range statuses {
		byID[st.itemID] = st.status
	}

	out := make([]*ItemWithStatus, 0, len(items))
	for _, item := range items {
		out = append(out, &ItemWithStatus{Item: item, Status: byID[item.ID]})
	}
	return out, nil
}

// AttachEvidence stores a document with the evidence collaborator and records
// the returned reference on the item. Draft/pending only.
func (s *VersionService) AttachEvidence(ctx context.Context, itemID string, payload []byte) (string, error) {
	if s.evidence == nil {
		return "", errors.New(errors.ErrCodeInternal, "evidence store is not configured")
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return "", err
	}
	v, err := s.versions.GetByID(ctx, item.VersionID)
	if err != nil {
		return "", err
	}
	if !v.State.IsWorking() {
		return "", errors.Newf(errors.ErrCodeConflict, "item %s is frozen: version is %s", itemID, v.State)
	}

	ref, err := s.evidence.PutEvidence(ctx, itemID, payload)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to store evidence")
	}
	if err := s.items.SetEvidenceRef(ctx, itemID, ref); err != nil {
		return "", err
	}
	return ref, nil
}

// ── internals ────────────────────────────────────────────────────────────────

// carriedApproval pairs a preserved approve decision with the index of the
// carried item it belongs to. The item IDs only exist after the create
// transaction commits.
type carriedApproval struct {
	itemIndex int
	decision  *repository.Decision
}

// carryForward builds the successor's item copies and the approve decisions
// to preserve. Approved items keep their effective approvals; rejected and
// pending items come back as pending so they can be re-decided.
func (s *VersionService) carryForward(ctx context.Context, parent *repository.Version) ([]*repository.Item, []carriedApproval, error) {
	parentItems, err := s.items.ListByVersion(ctx, parent.ID)
	if err != nil {
		return nil, nil, err
	}

	carried := make([]*repository.Item, 0, len(parentItems))
	var approvals []carriedApproval

	for i, old := range parentItems {
		oldID := old.ID
		carried = append(carried, &repository.Item{
			ItemType:              old.ItemType,
			Payload:               old.Payload,
			IsCriticalDataElement: old.IsCriticalDataElement,
			CarriedFromItemID:     &oldID,
			EvidenceRef:           old.EvidenceRef,
			CreatedBy:             old.CreatedBy,
		})

		ledger, err := s.decisions.ListByItem(ctx, old.ID)
		if err != nil {
			return nil, nil, err
		}
		if itemStatusFromLedger(old.ItemType, ledger) != repository.ItemApproved {
			continue
		}
		for _, d := range effectiveDecisions(ledger) {
			role := *d.Role
			approvals = append(approvals, carriedApproval{
				itemIndex: i,
				decision: &repository.Decision{
					Role:    &role,
					Verdict: d.Verdict,
					Notes:   d.Notes,
					ActorID: d.ActorID,
				},
			})
		}
	}

	return carried, approvals, nil
}

// supersedePredecessors retires the rejected parent of a fork and any
// earlier approved version once this version is approved.
func (s *VersionService) supersedePredecessors(ctx context.Context, v *repository.Version) error {
	all, err := s.versions.ListByPhase(ctx, v.PhaseID)
	if err != nil {
		return err
	}
	for _, prev := range all {
		if prev.ID == v.ID || prev.VersionNumber >= v.VersionNumber {
			continue
		}
		retire := prev.State == repository.VersionApproved ||
			(prev.State == repository.VersionRejected && v.ParentVersionID != nil && prev.ID == *v.ParentVersionID)
		if !retire {
			continue
		}
		if err := s.versions.MarkSuperseded(ctx, prev.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *VersionService) assertDraft(ctx context.Context, versionID string) error {
	v, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		return err
	}
	if v.State != repository.VersionDraft {
		return errors.Newf(errors.ErrCodeConflict, "version is %s, items are frozen", v.State)
	}
	return nil
}

// assertReviewer requires the actor to hold the report-owner role when an
// identity provider is configured.
func (s *VersionService) assertReviewer(ctx context.Context, actorID string) error {
	if s.identity == nil {
		return nil
	}
	role, err := s.identity.GetActorRole(ctx, actorID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve actor role")
	}
	if role != repository.RoleReportOwner {
		return errors.Newf(errors.ErrCodeUnauthorized, "actor %s is not a reviewer", actorID)
	}
	return nil
}

// publish sends a workflow event; failures are the publisher's problem.
func (s *VersionService) publish(ctx context.Context, eventType, resourceID, actorID string, payload map[string]interface{}) {
	if s.notify == nil {
		return
	}
	s.notify.PublishWorkflowEvent(ctx, eventType, resourceID, actorID, payload)
}
