package repository

import "time"

// ── Domain types for the versioned approval workflow ─────────────────────────

// VersionState is the lifecycle state of a version.
type VersionState string

const (
	VersionDraft           VersionState = "draft"
	VersionPendingApproval VersionState = "pending_approval"
	VersionApproved        VersionState = "approved"
	VersionRejected        VersionState = "rejected"
	VersionSuperseded      VersionState = "superseded"
)

// IsWorking reports whether the state counts against the one-working-version
// invariant.
func (s VersionState) IsWorking() bool {
	return s == VersionDraft || s == VersionPendingApproval
}

// ItemType classifies the decidable units a version can hold.
type ItemType string

const (
	ItemAttribute     ItemType = "attribute"
	ItemProfilingRule ItemType = "profiling_rule"
	ItemSampleRecord  ItemType = "sample_record"
	ItemAssignment    ItemType = "assignment"
	ItemEvidence      ItemType = "evidence"
)

// ItemStatus is the net status derived from the decision ledger.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemApproved ItemStatus = "approved"
	ItemRejected ItemStatus = "rejected"
)

// DecisionRole identifies which reviewer side issued a decision.
type DecisionRole string

const (
	RoleTester      DecisionRole = "tester"
	RoleReportOwner DecisionRole = "report_owner"
)

// Verdict is the outcome recorded by one decision.
type Verdict string

const (
	VerdictApprove        Verdict = "approve"
	VerdictReject         Verdict = "reject"
	VerdictRequestChanges Verdict = "request_changes"

	// VerdictReset marks the point after which earlier decisions stop
	// counting toward an item's net status. Appended by ResetItem.
	VerdictReset Verdict = "reset"

	// VerdictEscalate records an explicit submitter override of rejected
	// items at submission time. Version-scoped, item_id is null.
	VerdictEscalate Verdict = "escalate"
)

// PhaseState is the effective lifecycle state of a phase instance.
type PhaseState string

const (
	PhaseNotStarted PhaseState = "not_started"
	PhaseInProgress PhaseState = "in_progress"
	PhaseComplete   PhaseState = "complete"
)

// ScheduleStatus classifies a phase's timeliness.
type ScheduleStatus string

const (
	ScheduleOnTrack ScheduleStatus = "on_track"
	ScheduleAtRisk  ScheduleStatus = "at_risk"
	SchedulePastDue ScheduleStatus = "past_due"
)

// Version is a snapshot of a phase's working items. Immutable once it leaves
// draft, permanently read-only once superseded.
type Version struct {
	ID              string
	PhaseID         string
	VersionNumber   int
	State           VersionState
	ParentVersionID *string
	CreatedBy       string
	SubmittedBy     *string
	SubmittedAt     *time.Time
	ResolvedBy      *string // approver or rejecter
	ResolvedAt      *time.Time
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is one decidable unit within a version.
type Item struct {
	ID                    string
	VersionID             string
	ItemType              ItemType
	Payload               map[string]interface{} // type-specific business fields
	IsCriticalDataElement bool
	CarriedFromItemID     *string // counterpart in the parent version
	EvidenceRef           *string
	CreatedBy             string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Decision is one immutable ledger entry. Role is null for reset markers and
// escalations; ItemID is null for version-scoped escalations.
type Decision struct {
	ID        string
	ItemID    *string
	VersionID string
	Role      *DecisionRole
	Verdict   Verdict
	Notes     *string
	ActorID   string
	CreatedAt time.Time
}

// PhaseInstance is one occurrence of a workflow stage for a report/cycle.
type PhaseInstance struct {
	ID           string
	ReportID     string
	CycleID      string
	PhaseKey     string
	State        PhaseState
	PlannedStart *time.Time
	PlannedEnd   *time.Time
	ActualStart  *time.Time
	ActualEnd    *time.Time

	// Manual overrides; authoritative over computed values until cleared.
	StateOverride  *PhaseState
	StatusOverride *ScheduleStatus
	OverrideReason *string
	OverrideBy     *string
	OverrideAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveState resolves the manual state override, falling back to the
// computed state. Callers never read State directly when an override exists.
func (p *PhaseInstance) EffectiveState() PhaseState {
	if p.StateOverride != nil {
		return *p.StateOverride
	}
	return p.State
}

// VersionSummary is the aggregate decision state of a version's items.
type VersionSummary struct {
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
	Total    int `json:"total"`
}
