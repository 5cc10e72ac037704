package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

// memStore is an in-memory stand-in for the pgx repositories. It mirrors the
// database-level invariants the engines rely on: the working-version
// uniqueness constraint, per-phase version numbering and ledger append order.
type memStore struct {
	mu        sync.Mutex
	versions  map[string]*repository.Version
	items     map[string]*repository.Item
	itemOrder []string
	decisions []*repository.Decision
	phases    map[string]*repository.PhaseInstance
}

func newMemStore() *memStore {
	return &memStore{
		versions: make(map[string]*repository.Version),
		items:    make(map[string]*repository.Item),
		phases:   make(map[string]*repository.PhaseInstance),
	}
}

// ── VersionStore ─────────────────────────────────────────────────────────────

func (m *memStore) Create(ctx context.Context, v *repository.Version, items []*repository.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	max := 0
	for _, existing := range m.versions {
		if existing.PhaseID != v.PhaseID {
			continue
		}
		if existing.State.IsWorking() {
			return errors.New(errors.ErrCodeConcurrencyConflict,
				"a working version already exists for this phase")
		}
		if existing.VersionNumber > max {
			max = existing.VersionNumber
		}
	}

	v.ID = uuid.NewString()
	v.VersionNumber = max + 1
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	m.versions[v.ID] = v

	for _, item := range items {
		item.ID = uuid.NewString()
		item.VersionID = v.ID
		item.CreatedAt = time.Now()
		m.items[item.ID] = item
		m.itemOrder = append(m.itemOrder, item.ID)
	}
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*repository.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, errors.NotFound("version", id)
	}
	copied := *v
	return &copied, nil
}

func (m *memStore) GetCurrentByPhase(ctx context.Context, phaseID string) (*repository.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.PhaseID == phaseID && v.State.IsWorking() {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetLatestResolvedByPhase(ctx context.Context, phaseID string) (*repository.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *repository.Version
	for _, v := range m.versions {
		if v.PhaseID != phaseID {
			continue
		}
		if v.State != repository.VersionApproved && v.State != repository.VersionRejected {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) GetSuccessor(ctx context.Context, parentID string) (*repository.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ParentVersionID != nil && *v.ParentVersionID == parentID {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListByPhase(ctx context.Context, phaseID string) ([]*repository.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Version
	for _, v := range m.versions {
		if v.PhaseID == phaseID {
			copied := *v
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (m *memStore) ListPendingApproval(ctx context.Context) ([]*repository.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Version
	for _, v := range m.versions {
		if v.State == repository.VersionPendingApproval {
			copied := *v
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) MarkSubmitted(ctx context.Context, id, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return errors.NotFound("version", id)
	}
	now := time.Now()
	v.State = repository.VersionPendingApproval
	v.SubmittedBy = &actor
	v.SubmittedAt = &now
	return nil
}

func (m *memStore) MarkResolved(ctx context.Context, id string, state repository.VersionState, actor string, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return errors.NotFound("version", id)
	}
	now := time.Now()
	v.State = state
	v.ResolvedBy = &actor
	v.ResolvedAt = &now
	v.RejectionReason = reason
	return nil
}

func (m *memStore) MarkSuperseded(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return errors.NotFound("version", id)
	}
	v.State = repository.VersionSuperseded
	return nil
}

// ── ItemStore ────────────────────────────────────────────────────────────────

type memItemStore struct{ *memStore }

func (m *memStore) itemStore() *memItemStore { return &memItemStore{m} }

func (m *memItemStore) Create(ctx context.Context, item *repository.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = uuid.NewString()
	item.CreatedAt = time.Now()
	m.items[item.ID] = item
	m.itemOrder = append(m.itemOrder, item.ID)
	return nil
}

func (m *memItemStore) GetByID(ctx context.Context, id string) (*repository.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, errors.NotFound("item", id)
	}
	copied := *item
	return &copied, nil
}

func (m *memItemStore) ListByVersion(ctx context.Context, versionID string) ([]*repository.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Item
	for _, id := range m.itemOrder {
		if item := m.items[id]; item.VersionID == versionID {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memItemStore) UpdatePayload(ctx context.Context, id string, payload map[string]interface{}, critical bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return errors.NotFound("item", id)
	}
	item.Payload = payload
	item.IsCriticalDataElement = critical
	return nil
}

func (m *memItemStore) SetEvidenceRef(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return errors.NotFound("item", id)
	}
	item.EvidenceRef = &ref
	return nil
}

// ── DecisionStore ────────────────────────────────────────────────────────────

type memDecisionStore struct{ *memStore }

func (m *memStore) decisionStore() *memDecisionStore { return &memDecisionStore{m} }

func (m *memDecisionStore) Append(ctx context.Context, d *repository.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.NewString()
	d.CreatedAt = time.Now()
	copied := *d
	m.decisions = append(m.decisions, &copied)
	return nil
}

func (m *memDecisionStore) ListByItem(ctx context.Context, itemID string) ([]*repository.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Decision
	for _, d := range m.decisions {
		if d.ItemID != nil && *d.ItemID == itemID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memDecisionStore) ListByVersion(ctx context.Context, versionID string) ([]*repository.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Decision
	for _, d := range m.decisions {
		if d.VersionID == versionID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

// ── PhaseStore ───────────────────────────────────────────────────────────────

type memPhaseStore struct{ *memStore }

func (m *memStore) phaseStore() *memPhaseStore { return &memPhaseStore{m} }

func (m *memPhaseStore) Create(ctx context.Context, p *repository.PhaseInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.phases {
		if existing.ReportID == p.ReportID && existing.CycleID == p.CycleID && existing.PhaseKey == p.PhaseKey {
			return errors.Newf(errors.ErrCodeConflict, "phase %s already exists", p.PhaseKey)
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now()
	m.phases[p.ID] = p
	return nil
}

func (m *memPhaseStore) GetByID(ctx context.Context, id string) (*repository.PhaseInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phases[id]
	if !ok {
		return nil, errors.NotFound("phase_instance", id)
	}
	copied := *p
	return &copied, nil
}

func (m *memPhaseStore) GetByKey(ctx context.Context, reportID, cycleID, phaseKey string) (*repository.PhaseInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.phases {
		if p.ReportID == reportID && p.CycleID == cycleID && p.PhaseKey == phaseKey {
			copied := *p
			return &copied, nil
		}
	}
	return nil, errors.NotFound("phase_instance", phaseKey)
}

func (m *memPhaseStore) ListByReport(ctx context.Context, reportID, cycleID string) ([]*repository.PhaseInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.PhaseInstance
	for _, p := range m.phases {
		if p.ReportID == reportID && p.CycleID == cycleID {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memPhaseStore) UpdateState(ctx context.Context, id string, state repository.PhaseState, actualStart, actualEnd *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phases[id]
	if !ok {
		return errors.NotFound("phase_instance", id)
	}
	p.State = state
	if actualStart != nil {
		p.ActualStart = actualStart
	}
	if actualEnd != nil {
		p.ActualEnd = actualEnd
	}
	return nil
}

func (m *memPhaseStore) UpdatePlannedDates(ctx context.Context, id string, plannedStart, plannedEnd *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phases[id]
	if !ok {
		return errors.NotFound("phase_instance", id)
	}
	p.PlannedStart = plannedStart
	p.PlannedEnd = plannedEnd
	return nil
}

func (m *memPhaseStore) SetOverride(ctx context.Context, id string, state *repository.PhaseState, status *repository.ScheduleStatus, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phases[id]
	if !ok {
		return errors.NotFound("phase_instance", id)
	}
	now := time.Now()
	p.StateOverride = state
	p.StatusOverride = status
	p.OverrideReason = &reason
	p.OverrideBy = &actor
	p.OverrideAt = &now
	return nil
}

func (m *memPhaseStore) ClearOverride(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phases[id]
	if !ok {
		return errors.NotFound("phase_instance", id)
	}
	p.StateOverride = nil
	p.StatusOverride = nil
	p.OverrideReason = nil
	p.OverrideBy = nil
	p.OverrideAt = nil
	return nil
}

// ── Fake collaborators ───────────────────────────────────────────────────────

// fakeIdentity maps actor IDs to roles.
type fakeIdentity struct {
	roles map[string]repository.DecisionRole
}

func (f *fakeIdentity) GetActorRole(ctx context.Context, actorID string) (repository.DecisionRole, error) {
	role, ok := f.roles[actorID]
	if !ok {
		return "", errors.NotFound("actor", actorID)
	}
	return role, nil
}

// fakeEvidence returns deterministic refs.
type fakeEvidence struct {
	stored map[string][]byte
}

func (f *fakeEvidence) PutEvidence(ctx context.Context, itemID string, payload []byte) (string, error) {
	if f.stored == nil {
		f.stored = make(map[string][]byte)
	}
	ref := "ev-" + itemID
	f.stored[ref] = payload
	return ref, nil
}

func (f *fakeEvidence) GetEvidence(ctx context.Context, ref string) ([]byte, error) {
	data, ok := f.stored[ref]
	if !ok {
		return nil, errors.NotFound("evidence", ref)
	}
	return data, nil
}
