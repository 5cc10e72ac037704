package service

import (
	"context"

	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

// requiredRolesByType lists the reviewer roles whose approval an item type
// needs before it counts as approved. Attributes and profiling rules need
// both sides; sample records and evidence are tester-only; data-owner
// assignments are report-owner-only.
var requiredRolesByType = map[repository.ItemType][]repository.DecisionRole{
	repository.ItemAttribute:     {repository.RoleTester, repository.RoleReportOwner},
	repository.ItemProfilingRule: {repository.RoleTester, repository.RoleReportOwner},
	repository.ItemSampleRecord:  {repository.RoleTester},
	repository.ItemEvidence:      {repository.RoleTester},
	repository.ItemAssignment:    {repository.RoleReportOwner},
}

// RequiredRoles returns the decision roles an item type requires.
func RequiredRoles(t repository.ItemType) []repository.DecisionRole {
	return requiredRolesByType[t]
}

// roleRequired reports whether role has decision authority over item type t.
func roleRequired(t repository.ItemType, role repository.DecisionRole) bool {
	for _, r := range requiredRolesByType[t] {
		if r == role {
			return true
		}
	}
	return false
}

// submitRoles returns the roles that must have decided before submission.
// The report owner reviews after submission, so only the tester side gates
// the submit transition; report-owner-only items carry no pre-submission
// requirement.
func submitRoles(t repository.ItemType) []repository.DecisionRole {
	if roleRequired(t, repository.RoleTester) {
		return []repository.DecisionRole{repository.RoleTester}
	}
	return nil
}

// effectiveDecisions walks an item's ledger in append order and returns the
// latest decision per role recorded after the newest reset marker. Resets
// clear the working set without touching history, which is what makes
// re-decisions auditable.
func effectiveDecisions(ledger []*repository.Decision) map[repository.DecisionRole]*repository.Decision {
	eff := make(map[repository.DecisionRole]*repository.Decision)
	for _, d := range ledger {
		switch d.Verdict {
		case repository.VerdictReset:
			eff = make(map[repository.DecisionRole]*repository.Decision)
		case repository.VerdictApprove, repository.VerdictReject, repository.VerdictRequestChanges:
			if d.Role != nil {
				eff[*d.Role] = d
			}
		}
	}
	return eff
}

// itemStatusFromLedger computes an item's net status. Reject is absorbing:
// a single reject from either role wins regardless of order, so concurrent
// decisions are commutative. Approved requires an approve from every
// required role. Anything else is pending.
func itemStatusFromLedger(t repository.ItemType, ledger []*repository.Decision) repository.ItemStatus {
	eff := effectiveDecisions(ledger)

	for _, d := range eff {
		if d.Verdict == repository.VerdictReject {
			return repository.ItemRejected
		}
	}

	required := requiredRolesByType[t]
	if len(required) == 0 {
		return repository.ItemPending
	}
	for _, role := range required {
		d, ok := eff[role]
		if !ok || d.Verdict != repository.VerdictApprove {
			return repository.ItemPending
		}
	}
	return repository.ItemApproved
}

// ReconciliationEngine computes net item and version approval state from the
// decision ledger.
type ReconciliationEngine struct {
	items     ItemStore
	decisions DecisionStore
}

// NewReconciliationEngine creates a ReconciliationEngine.
func NewReconciliationEngine(items ItemStore, decisions DecisionStore) *ReconciliationEngine {
	return &ReconciliationEngine{items: items, decisions: decisions}
}

// ComputeItemStatus returns the net status of one item.
func (e *ReconciliationEngine) ComputeItemStatus(ctx context.Context, itemID string) (repository.ItemStatus, error) {
	item, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return "", err
	}
	ledger, err := e.decisions.ListByItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	return itemStatusFromLedger(item.ItemType, ledger), nil
}

// ComputeVersionSummary aggregates net item statuses for a version.
func (e *ReconciliationEngine) ComputeVersionSummary(ctx context.Context, versionID string) (*repository.VersionSummary, error) {
	statuses, err := e.itemStatuses(ctx, versionID)
	if err != nil {
		return nil, err
	}

	summary := &repository.VersionSummary{}
	for _, st := range statuses {
		summary.Total++
		switch st.status {
		case repository.ItemApproved:
			summary.Approved++
		case repository.ItemRejected:
			summary.Rejected++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

// CanSubmit reports whether every item carries the decisions required before
// submission, returning the offending item IDs otherwise.
func (e *ReconciliationEngine) CanSubmit(ctx context.Context, versionID string) (bool, []string, error) {
	items, err := e.items.ListByVersion(ctx, versionID)
	if err != nil {
		return false, nil, err
	}
	byItem, err := e.ledgerByItem(ctx, versionID)
	if err != nil {
		return false, nil, err
	}

	var missing []string
	for _, item := range items {
		eff := effectiveDecisions(byItem[item.ID])
		for _, role := range submitRoles(item.ItemType) {
			if _, ok := eff[role]; !ok {
				missing = append(missing, item.ID)
				break
			}
		}
	}
	return len(missing) == 0, missing, nil
}

// CanApprove reports whether every item's net status is approved.
func (e *ReconciliationEngine) CanApprove(ctx context.Context, versionID string) (bool, error) {
	summary, err := e.ComputeVersionSummary(ctx, versionID)
	if err != nil {
		return false, err
	}
	return summary.Total == summary.Approved, nil
}

// ── internals ────────────────────────────────────────────────────────────────

type itemStatusPair struct {
	itemID string
	status repository.ItemStatus
}

// itemStatuses computes net statuses for all items of a version using one
// ledger query.
func (e *ReconciliationEngine) itemStatuses(ctx context.Context, versionID string) ([]itemStatusPair, error) {
	items, err := e.items.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	byItem, err := e.ledgerByItem(ctx, versionID)
	if err != nil {
		return nil, err
	}

	statuses := make([]itemStatusPair, 0, len(items))
	for _, item := range items {
		statuses = append(statuses, itemStatusPair{
			itemID: item.ID,
			status: itemStatusFromLedger(item.ItemType, byItem[item.ID]),
		})
	}
	return statuses, nil
}

func (e *ReconciliationEngine) ledgerByItem(ctx context.Context, versionID string) (map[string][]*repository.Decision, error) {
	ledger, err := e.decisions.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	byItem := make(map[string][]*repository.Decision)
	for _, d := range ledger {
		if d.ItemID == nil {
			continue // version-scoped escalations don't affect item status
		}
		byItem[*d.ItemID] = append(byItem[*d.ItemID], d)
	}
	return byItem, nil
}
