package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
)

// PhaseKeys lists the nine workflow stages in canonical order.
var PhaseKeys = []string{
	"planning",
	"profiling",
	"scoping",
	"sample_selection",
	"data_owner_assignment",
	"request_info",
	"test_execution",
	"observation_mgmt",
	"reporting",
}

// phaseDependencies is the static upstream DAG: a phase cannot start until
// every listed phase is complete.
var phaseDependencies = map[string][]string{
	"planning":              {},
	"profiling":             {"planning"},
	"scoping":               {"profiling"},
	"sample_selection":      {"scoping"},
	"data_owner_assignment": {"sample_selection"},
	"request_info":          {"data_owner_assignment"},
	"test_execution":        {"request_info"},
	"observation_mgmt":      {"test_execution"},
	"reporting":             {"observation_mgmt"},
}

// PhaseService gates the nine-stage workflow on the dependency DAG and on
// version approval, and computes schedule status with manual override
// support.
type PhaseService struct {
	phases     PhaseStore
	versions   VersionStore
	notify     NotificationPublisherInterface
	log        *logger.Logger
	atRiskDays int
	now        func() time.Time
}

// NewPhaseService creates a PhaseService. atRiskDays is the remaining-days
// threshold below which an in-progress phase is flagged at risk.
func NewPhaseService(
	phases PhaseStore,
	versions VersionStore,
	notify NotificationPublisherInterface,
	log *logger.Logger,
	atRiskDays int,
) *PhaseService {
	return &PhaseService{
		phases:     phases,
		versions:   versions,
		notify:     notify,
		log:        log,
		atRiskDays: atRiskDays,
		now:        time.Now,
	}
}

// ── Report setup ─────────────────────────────────────────────────────────────

// InitReport creates the nine phase instances for a report/cycle.
func (s *PhaseService) InitReport(ctx context.Context, reportID, cycleID string) ([]*repository.PhaseInstance, error) {
	if reportID == "" || cycleID == "" {
		return nil, errors.InvalidInput("report_id", "report_id and cycle_id are required")
	}

	phases := make([]*repository.PhaseInstance, 0, len(PhaseKeys))
	for _, key := range PhaseKeys {
		p := &repository.PhaseInstance{
			ReportID: reportID,
			CycleID:  cycleID,
			PhaseKey: key,
			State:    repository.PhaseNotStarted,
		}
		if err := s.phases.Create(ctx, p); err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}

	s.log.Info().Str("report_id", reportID).Str("cycle_id", cycleID).Msg("report phases initialized")
	return phases, nil
}

// SetPlannedDates records the planned timeline driving schedule status.
func (s *PhaseService) SetPlannedDates(ctx context.Context, phaseID string, plannedStart, plannedEnd *time.Time) error {
	if plannedStart != nil && plannedEnd != nil && plannedEnd.Before(*plannedStart) {
		return errors.InvalidInput("planned_end", "planned end cannot precede planned start")
	}
	return s.phases.UpdatePlannedDates(ctx, phaseID, plannedStart, plannedEnd)
}

// ── Transitions ──────────────────────────────────────────────────────────────

// DependencyCheck is the result of walking a phase's upstream DAG.
type DependencyCheck struct {
	CanStart       bool     `json:"can_start"`
	BlockingPhases []string `json:"blocking_phases"`
}

// CheckDependencies walks the static dependency graph for a phase.
func (s *PhaseService) CheckDependencies(ctx context.Context, phaseID string) (*DependencyCheck, error) {
	phase, err := s.phases.GetByID(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	return s.checkDependencies(ctx, phase)
}

func (s *PhaseService) checkDependencies(ctx context.Context, phase *repository.PhaseInstance) (*DependencyCheck, error) {
	check := &DependencyCheck{CanStart: true}
	for _, depKey := range phaseDependencies[phase.PhaseKey] {
		dep, err := s.phases.GetByKey(ctx, phase.ReportID, phase.CycleID, depKey)
		if err != nil {
			return nil, err
		}
		if dep.EffectiveState() != repository.PhaseComplete {
			check.CanStart = false
			check.BlockingPhases = append(check.BlockingPhases, depKey)
		}
	}
	return check, nil
}

// StartPhase transitions not_started → in_progress, gated on upstream
// completion.
func (s *PhaseService) StartPhase(ctx context.Context, phaseID, actorID string) error {
	phase, err := s.phases.GetByID(ctx, phaseID)
	if err != nil {
		return err
	}
	if phase.EffectiveState() != repository.PhaseNotStarted {
		return errors.Newf(errors.ErrCodeConflict, "phase %s is %s", phase.PhaseKey, phase.EffectiveState())
	}

	check, err := s.checkDependencies(ctx, phase)
	if err != nil {
		return err
	}
	if !check.CanStart {
		return errors.DependencyUnmet(check.BlockingPhases)
	}

	now := s.now()
	if err := s.phases.UpdateState(ctx, phaseID, repository.PhaseInProgress, &now, nil); err != nil {
		return err
	}

	s.log.Info().Str("phase_id", phaseID).Str("phase_key", phase.PhaseKey).Msg("phase started")
	s.publish(ctx, "phase_started", phaseID, actorID, map[string]interface{}{
		"phase_key": phase.PhaseKey,
	})
	return nil
}

// CompletePhase transitions in_progress → complete. Requires the phase's
// current version to be approved. Returns the downstream phases the
// completion newly unblocked.
func (s *PhaseService) CompletePhase(ctx context.Context, phaseID, actorID string) ([]string, error) {
	phase, err := s.phases.GetByID(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if phase.EffectiveState() != repository.PhaseInProgress {
		return nil, errors.Newf(errors.ErrCodeConflict, "phase %s is %s, not in_progress", phase.PhaseKey, phase.EffectiveState())
	}

	check, err := s.checkDependencies(ctx, phase)
	if err != nil {
		return nil, err
	}
	if !check.CanStart {
		return nil, errors.DependencyUnmet(check.BlockingPhases)
	}

	if err := s.assertCurrentVersionApproved(ctx, phase); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.phases.UpdateState(ctx, phaseID, repository.PhaseComplete, nil, &now); err != nil {
		return nil, err
	}

	enabled, err := s.newlyUnblocked(ctx, phase)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("phase_id", phaseID).
		Str("phase_key", phase.PhaseKey).
		Strs("enabled_phases", enabled).
		Msg("phase completed")
	s.publish(ctx, "phase_completed", phaseID, actorID, map[string]interface{}{
		"phase_key":      phase.PhaseKey,
		"enabled_phases": enabled,
	})
	return enabled, nil
}

// ── Schedule status ──────────────────────────────────────────────────────────

// ComputeScheduleStatus classifies a phase's timeliness. A manual status
// override, once set, is authoritative and the computed value is ignored
// entirely.
func (s *PhaseService) ComputeScheduleStatus(ctx context.Context, phaseID string) (repository.ScheduleStatus, error) {
	phase, err := s.phases.GetByID(ctx, phaseID)
	if err != nil {
		return "", err
	}
	return s.scheduleStatus(phase), nil
}

func (s *PhaseService) scheduleStatus(phase *repository.PhaseInstance) repository.ScheduleStatus {
	if phase.StatusOverride != nil {
		return *phase.StatusOverride
	}

	if phase.EffectiveState() == repository.PhaseComplete || phase.PlannedEnd == nil {
		return repository.ScheduleOnTrack
	}

	now := s.now()
	if phase.EffectiveState() == repository.PhaseInProgress && now.After(*phase.PlannedEnd) {
		return repository.SchedulePastDue
	}
	remaining := phase.PlannedEnd.Sub(now)
	if phase.EffectiveState() == repository.PhaseInProgress && remaining < time.Duration(s.atRiskDays)*24*time.Hour {
		return repository.ScheduleAtRisk
	}
	return repository.ScheduleOnTrack
}

// ── Overrides ────────────────────────────────────────────────────────────────

// SetOverride records a manual state and/or status override with its reason.
func (s *PhaseService) SetOverride(ctx context.Context, phaseID string, state *repository.PhaseState, status *repository.ScheduleStatus, reason, actorID string) error {
	if state == nil && status == nil {
		return errors.InvalidInput("override", "state or status override is required")
	}
	if reason == "" {
		return errors.InvalidInput("reason", "override reason is required")
	}
	if err := s.phases.SetOverride(ctx, phaseID, state, status, reason, actorID); err != nil {
		return err
	}

	s.log.Info().Str("phase_id", phaseID).Str("reason", reason).Msg("phase override set")
	return nil
}

// ClearOverride restores computed state and status.
func (s *PhaseService) ClearOverride(ctx context.Context, phaseID string) error {
	return s.phases.ClearOverride(ctx, phaseID)
}

// ── Report-wide status ───────────────────────────────────────────────────────

// PhaseStatus is the aggregate view of one phase for the report status query.
type PhaseStatus struct {
	Phase          *repository.PhaseInstance  `json:"phase"`
	EffectiveState repository.PhaseState      `json:"effective_state"`
	ScheduleStatus repository.ScheduleStatus  `json:"schedule_status"`
	CurrentVersion *repository.Version        `json:"current_version,omitempty"`
	Summary        *repository.VersionSummary `json:"summary,omitempty"`
}

// ReportStatus aggregates state across all nine phases of a report/cycle.
func (s *PhaseService) ReportStatus(ctx context.Context, reportID, cycleID string, engine *ReconciliationEngine, versionSvc *VersionService) ([]*PhaseStatus, error) {
	phases, err := s.phases.ListByReport(ctx, reportID, cycleID)
	if err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		return nil, errors.NotFound("report", reportID)
	}

	statuses := make([]*PhaseStatus, 0, len(phases))
	for _, phase := range phases {
		ps := &PhaseStatus{
			Phase:          phase,
			EffectiveState: phase.EffectiveState(),
			ScheduleStatus: s.scheduleStatus(phase),
		}

		current, err := versionSvc.GetCurrentVersion(ctx, phase.ID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			ps.CurrentVersion = current
			summary, err := engine.ComputeVersionSummary(ctx, current.ID)
			if err != nil {
				return nil, err
			}
			ps.Summary = summary
		}
		statuses = append(statuses, ps)
	}
	return statuses, nil
}

// ── internals ────────────────────────────────────────────────────────────────

// assertCurrentVersionApproved enforces the completion gate: no working
// version outstanding and the latest resolved version approved.
func (s *PhaseService) assertCurrentVersionApproved(ctx context.Context, phase *repository.PhaseInstance) error {
	working, err := s.versions.GetCurrentByPhase(ctx, phase.ID)
	if err != nil {
		return err
	}
	if working != nil {
		return errors.Newf(errors.ErrCodeConflict,
			"phase %s has an unresolved version (v%d, %s)", phase.PhaseKey, working.VersionNumber, working.State)
	}

	latest, err := s.versions.GetLatestResolvedByPhase(ctx, phase.ID)
	if err != nil {
		return err
	}
	if latest == nil || latest.State != repository.VersionApproved {
		return errors.Newf(errors.ErrCodeConflict,
			"phase %s has no approved version", phase.PhaseKey)
	}
	return nil
}

// newlyUnblocked re-evaluates every dependent of the completed phase and
// returns the keys that can now start.
func (s *PhaseService) newlyUnblocked(ctx context.Context, completed *repository.PhaseInstance) ([]string, error) {
	var enabled []string
	for key, deps := range phaseDependencies {
		dependsOnCompleted := false
		for _, dep := range deps {
			if dep == completed.PhaseKey {
				dependsOnCompleted = true
				break
			}
		}
		if !dependsOnCompleted {
			continue
		}

		dependent, err := s.phases.GetByKey(ctx, completed.ReportID, completed.CycleID, key)
		if err != nil {
			if errors.Is(err, errors.ErrCodeNotFound) {
				continue
			}
			return nil, err
		}
		if dependent.EffectiveState() != repository.PhaseNotStarted {
			continue
		}
		check, err := s.checkDependencies(ctx, dependent)
		if err != nil {
			return nil, err
		}
		if check.CanStart {
			enabled = append(enabled, key)
		}
	}
	return enabled, nil
}

func (s *PhaseService) publish(ctx context.Context, eventType, resourceID, actorID string, payload map[string]interface{}) {
	if s.notify == nil {
		return
	}
	s.notify.PublishWorkflowEvent(ctx, eventType, resourceID, actorID, payload)
}
