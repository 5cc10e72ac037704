package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

type phaseFixture struct {
	svc      *PhaseService
	versions *VersionService
	ledger   *LedgerService
	engine   *ReconciliationEngine
	store    *memStore
}

func newPhaseFixture(t *testing.T) *phaseFixture {
	t.Helper()
	store := newMemStore()
	log := logger.Nop()
	engine := NewReconciliationEngine(store.itemStore(), store.decisionStore())
	return &phaseFixture{
		svc:      NewPhaseService(store.phaseStore(), store, nil, log, 3),
		versions: NewVersionService(store, store.itemStore(), store.decisionStore(), store.phaseStore(), engine, nil, nil, nil, log),
		ledger:   NewLedgerService(store, store.itemStore(), store.decisionStore(), nil, log),
		engine:   engine,
		store:    store,
	}
}

func (f *phaseFixture) initReport(t *testing.T) map[string]*repository.PhaseInstance {
	t.Helper()
	phases, err := f.svc.InitReport(context.Background(), "r1", "c1")
	require.NoError(t, err)
	byKey := make(map[string]*repository.PhaseInstance, len(phases))
	for _, p := range phases {
		byKey[p.PhaseKey] = p
	}
	return byKey
}

// approveCurrentVersion drives a phase's version through draft → approved so
// the phase can complete.
func (f *phaseFixture) approveCurrentVersion(t *testing.T, phaseID string) {
	t.Helper()
	ctx := context.Background()
	v, err := f.versions.CreateVersion(ctx, phaseID, nil, "tester-1")
	require.NoError(t, err)
	item, err := f.versions.CreateItem(ctx, v.ID, repository.ItemSampleRecord, nil, false, "tester-1")
	require.NoError(t, err)
	_, err = f.ledger.RecordDecision(ctx, item.ID, repository.RoleTester, repository.VerdictApprove, nil, "tester-1")
	require.NoError(t, err)
	require.NoError(t, f.versions.Submit(ctx, v.ID, "tester-1", nil))
	require.NoError(t, f.versions.Approve(ctx, v.ID, "owner-1", nil))
}

func TestInitReport(t *testing.T) {
	f := newPhaseFixture(t)
	phases, err := f.svc.InitReport(context.Background(), "r1", "c1")
	require.NoError(t, err)
	require.Len(t, phases, 9)
	for i, key := range PhaseKeys {
		assert.Equal(t, key, phases[i].PhaseKey)
		assert.Equal(t, repository.PhaseNotStarted, phases[i].State)
	}

	// re-initializing the same report/cycle collides
	_, err = f.svc.InitReport(context.Background(), "r1", "c1")
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	_, err = f.svc.InitReport(context.Background(), "", "c1")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
}

func TestStartPhaseDependencyGate(t *testing.T) {
	ctx := context.Background()
	f := newPhaseFixture(t)
	phases := f.initReport(t)

	// profiling cannot start before planning completes
	err := f.svc.StartPhase(ctx, phases["profiling"].ID, "tester-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeDependencyUnmet))
	assert.Equal(t, []string{"planning"}, errors.Details(err))

	// planning has no upstream
	require.NoError(t, f.svc.StartPhase(ctx, phases["planning"].ID, "tester-1"))

	got, err := f.store.phaseStore().GetByID(ctx, phases["planning"].ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PhaseInProgress, got.State)
	assert.NotNil(t, got.ActualStart)

	// starting twice conflicts
	err = f.svc.StartPhase(ctx, phases["planning"].ID, "tester-1")
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	// profiling is still blocked until planning is complete, not just started
	err = f.svc.StartPhase(ctx, phases["profiling"].ID, "tester-1")
	assert.True(t, errors.Is(err, errors.ErrCodeDependencyUnmet))
}

func TestCompletePhaseRequiresApprovedVersion(t *testing.T) {
	ctx := context.Background()
	f := newPhaseFixture(t)
	phases := f.initReport(t)
	planning := phases["planning"]

	require.NoError(t, f.svc.StartPhase(ctx, planning.ID, "tester-1"))

	// no version at all
	_, err := f.svc.CompletePhase(ctx, planning.ID, "tester-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	assert.Contains(t, err.Error(), "no approved version")

	// an unresolved working version also blocks completion
	v, err := f.versions.CreateVersion(ctx, planning.ID, nil, "tester-1")
	require.NoError(t, err)
	_, err = f.svc.CompletePhase(ctx, planning.ID, "tester-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved version")

	item, err := f.versions.CreateItem(ctx, v.ID, repository.ItemSampleRecord, nil, false, "tester-1")
	require.NoError(t, err)
	_, err = f.ledger.RecordDecision(ctx, item.ID, repository.RoleTester, repository.VerdictApprove, nil, "tester-1")
	require.NoError(t, err)
	require.NoError(t, f.versions.Submit(ctx, v.ID, "tester-1", nil))
	require.NoError(t, f.versions.Approve(ctx, v.ID, "owner-1", nil))

	enabled, err := f.svc.CompletePhase(ctx, planning.ID, "tester-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"profiling"}, enabled)

	got, err := f.store.phaseStore().GetByID(ctx, planning.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PhaseComplete, got.State)
	assert.NotNil(t, got.ActualEnd)
}

func TestCompletePhaseUnblocksDownstream(t *testing.T) {
	ctx := context.Background()
	f := newPhaseFixture(t)
	phases := f.initReport(t)

	// walk planning → profiling → scoping, then verify sample_selection opens
	for _, key := range []string{"planning", "profiling", "scoping"} {
		require.NoError(t, f.svc.StartPhase(ctx, phases[key].ID, "tester-1"))
		f.approveCurrentVersion(t, phases[key].ID)
		enabled, err := f.svc.CompletePhase(ctx, phases[key].ID, "tester-1")
		require.NoError(t, err)
		require.Len(t, enabled, 1)
	}

	check, err := f.svc.CheckDependencies(ctx, phases["sample_selection"].ID)
	require.NoError(t, err)
	assert.True(t, check.CanStart)
	assert.Empty(t, check.BlockingPhases)

	check, err = f.svc.CheckDependencies(ctx, phases["data_owner_assignment"].ID)
	require.NoError(t, err)
	assert.False(t, check.CanStart)
	assert.Equal(t, []string{"sample_selection"}, check.BlockingPhases)
}

func TestScheduleStatus(t *testing.T) {
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	dayPtr := func(d int) *time.Time {
		ts := base.AddDate(0, 0, d)
		return &ts
	}

	tests := []struct {
		name  string
		phase *repository.PhaseInstance
		want  repository.ScheduleStatus
	}{
		{
			name:  "no planned end is on track",
			phase: &repository.PhaseInstance{State: repository.PhaseInProgress},
			want:  repository.ScheduleOnTrack,
		},
		{
			name:  "complete is on track even past due",
			phase: &repository.PhaseInstance{State: repository.PhaseComplete, PlannedEnd: dayPtr(-5)},
			want:  repository.ScheduleOnTrack,
		},
		{
			name:  "in progress well before deadline",
			phase: &repository.PhaseInstance{State: repository.PhaseInProgress, PlannedEnd: dayPtr(10)},
			want:  repository.ScheduleOnTrack,
		},
		{
			name:  "in progress inside the at-risk window",
			phase: &repository.PhaseInstance{State: repository.PhaseInProgress, PlannedEnd: dayPtr(2)},
			want:  repository.ScheduleAtRisk,
		},
		{
			name:  "in progress past the deadline",
			phase: &repository.PhaseInstance{State: repository.PhaseInProgress, PlannedEnd: dayPtr(-1)},
			want:  repository.SchedulePastDue,
		},
		{
			name:  "not started past deadline stays on track",
			phase: &repository.PhaseInstance{State: repository.PhaseNotStarted, PlannedEnd: dayPtr(-1)},
			want:  repository.ScheduleOnTrack,
		},
		{
			name: "status override is authoritative",
			phase: &repository.PhaseInstance{
				State:          repository.PhaseInProgress,
				PlannedEnd:     dayPtr(-10),
				StatusOverride: schedulePtr(repository.ScheduleOnTrack),
			},
			want: repository.ScheduleOnTrack,
		},
		{
			name: "state override feeds the computation",
			phase: &repository.PhaseInstance{
				State:         repository.PhaseInProgress,
				PlannedEnd:    dayPtr(-10),
				StateOverride: statePtr(repository.PhaseComplete),
			},
			want: repository.ScheduleOnTrack,
		},
	}

	f := newPhaseFixture(t)
	f.svc.now = func() time.Time { return base }

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.svc.scheduleStatus(tt.phase))
		})
	}
}

func statePtr(s repository.PhaseState) *repository.PhaseState { return &s }

func schedulePtr(s repository.ScheduleStatus) *repository.ScheduleStatus { return &s }

func TestSetOverride(t *testing.T) {
	ctx := context.Background()
	f := newPhaseFixture(t)
	phases := f.initReport(t)
	scoping := phases["scoping"]

	err := f.svc.SetOverride(ctx, scoping.ID, nil, nil, "reason", "admin-1")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	err = f.svc.SetOverride(ctx, scoping.ID, statePtr(repository.PhaseComplete), nil, "", "admin-1")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	require.NoError(t, f.svc.SetOverride(ctx, scoping.ID, statePtr(repository.PhaseComplete), nil, "waived for pilot cycle", "admin-1"))

	// the override satisfies downstream dependency checks
	check, err := f.svc.CheckDependencies(ctx, phases["sample_selection"].ID)
	require.NoError(t, err)
	assert.True(t, check.CanStart)

	require.NoError(t, f.svc.ClearOverride(ctx, scoping.ID))
	check, err = f.svc.CheckDependencies(ctx, phases["sample_selection"].ID)
	require.NoError(t, err)
	assert.False(t, check.CanStart)
}

func TestSetPlannedDatesValidation(t *testing.T) {
	ctx := context.Background()
	f := newPhaseFixture(t)
	phases := f.initReport(t)

	start := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	err := f.svc.SetPlannedDates(ctx, phases["planning"].ID, &start, &end)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	end = start.AddDate(0, 0, 14)
	require.NoError(t, f.svc.SetPlannedDates(ctx, phases["planning"].ID, &start, &end))

	got, err := f.store.phaseStore().GetByID(ctx, phases["planning"].ID)
	require.NoError(t, err)
	require.NotNil(t, got.PlannedEnd)
	assert.True(t, got.PlannedEnd.Equal(end))
}

func TestReportStatus(t *testing.T) {
	ctx := context.Background()
	f := newPhaseFixture(t)
	phases := f.initReport(t)

	require.NoError(t, f.svc.StartPhase(ctx, phases["planning"].ID, "tester-1"))
	v, err := f.versions.CreateVersion(ctx, phases["planning"].ID, nil, "tester-1")
	require.NoError(t, err)
	item, err := f.versions.CreateItem(ctx, v.ID, repository.ItemSampleRecord, nil, false, "tester-1")
	require.NoError(t, err)
	_, err = f.ledger.RecordDecision(ctx, item.ID, repository.RoleTester, repository.VerdictApprove, nil, "tester-1")
	require.NoError(t, err)

	statuses, err := f.svc.ReportStatus(ctx, "r1", "c1", f.engine, f.versions)
	require.NoError(t, err)
	require.Len(t, statuses, 9)

	byKey := make(map[string]*PhaseStatus, len(statuses))
	for _, ps := range statuses {
		byKey[ps.Phase.PhaseKey] = ps
	}

	planning := byKey["planning"]
	assert.Equal(t, repository.PhaseInProgress, planning.EffectiveState)
	require.NotNil(t, planning.CurrentVersion)
	assert.Equal(t, v.ID, planning.CurrentVersion.ID)
	require.NotNil(t, planning.Summary)
	assert.Equal(t, &repository.VersionSummary{Approved: 1, Total: 1}, planning.Summary)

	profiling := byKey["profiling"]
	assert.Equal(t, repository.PhaseNotStarted, profiling.EffectiveState)
	assert.Nil(t, profiling.CurrentVersion)
	assert.Nil(t, profiling.Summary)

	_, err = f.svc.ReportStatus(ctx, "no-such-report", "c1", f.engine, f.versions)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}
