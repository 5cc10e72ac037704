package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

// The engines depend on store interfaces rather than the concrete pgx
// repositories so they can be exercised against in-memory fakes. The
// repository package satisfies all of them.

// VersionStore persists version snapshots.
type VersionStore interface {
	Create(ctx context.Context, v *repository.Version, items []*repository.Item) error
	GetByID(ctx context.Context, id string) (*repository.Version, error)
	GetCurrentByPhase(ctx context.Context, phaseID string) (*repository.Version, error)
	GetLatestResolvedByPhase(ctx context.Context, phaseID string) (*repository.Version, error)
	GetSuccessor(ctx context.Context, parentID string) (*repository.Version, error)
	ListByPhase(ctx context.Context, phaseID string) ([]*repository.Version, error)
	ListPendingApproval(ctx context.Context) ([]*repository.Version, error)
	MarkSubmitted(ctx context.Context, id, actor string) error
	MarkResolved(ctx context.Context, id string, state repository.VersionState, actor string, reason *string) error
	MarkSuperseded(ctx context.Context, id string) error
}

// ItemStore persists version items.
type ItemStore interface {
	Create(ctx context.Context, item *repository.Item) error
	GetByID(ctx context.Context, id string) (*repository.Item, error)
	ListByVersion(ctx context.Context, versionID string) ([]*repository.Item, error)
	UpdatePayload(ctx context.Context, id string, payload map[string]interface{}, critical bool) error
	SetEvidenceRef(ctx context.Context, id, ref string) error
}

// DecisionStore persists the append-only decision ledger.
type DecisionStore interface {
	Append(ctx context.Context, d *repository.Decision) error
	ListByItem(ctx context.Context, itemID string) ([]*repository.Decision, error)
	ListByVersion(ctx context.Context, versionID string) ([]*repository.Decision, error)
}

// PhaseStore persists phase instances.
type PhaseStore interface {
	Create(ctx context.Context, p *repository.PhaseInstance) error
	GetByID(ctx context.Context, id string) (*repository.PhaseInstance, error)
	GetByKey(ctx context.Context, reportID, cycleID, phaseKey string) (*repository.PhaseInstance, error)
	ListByReport(ctx context.Context, reportID, cycleID string) ([]*repository.PhaseInstance, error)
	UpdateState(ctx context.Context, id string, state repository.PhaseState, actualStart, actualEnd *time.Time) error
	UpdatePlannedDates(ctx context.Context, id string, plannedStart, plannedEnd *time.Time) error
	SetOverride(ctx context.Context, id string, state *repository.PhaseState, status *repository.ScheduleStatus, reason, actor string) error
	ClearOverride(ctx context.Context, id string) error
}

// IdentityClientInterface resolves an actor's reviewer role. Consulted by the
// ledger service for authorization.
type IdentityClientInterface interface {
	GetActorRole(ctx context.Context, actorID string) (repository.DecisionRole, error)
}

// EvidenceClientInterface stores and retrieves evidence documents.
type EvidenceClientInterface interface {
	PutEvidence(ctx context.Context, itemID string, payload []byte) (string, error)
	GetEvidence(ctx context.Context, ref string) ([]byte, error)
}

// SuggestionClientInterface generates advisory suggestions for an item
// payload. Purely advisory; never mutates decision state.
type SuggestionClientInterface interface {
	Suggest(ctx context.Context, payload map[string]interface{}) (*Suggestion, error)
}

// Suggestion is one advisory result from the suggestion gateway.
type Suggestion struct {
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// NotificationPublisherInterface publishes workflow events. All publishes are
// fire-and-forget.
type NotificationPublisherInterface interface {
	PublishWorkflowEvent(ctx context.Context, eventType, resourceID, actorID string, payload map[string]interface{})
}
