package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
	"github.com/pesio-ai/be-rt-workflow/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	versions    *service.VersionService
	ledger      *service.LedgerService
	phases      *service.PhaseService
	engine      *service.ReconciliationEngine
	suggestions *service.SuggestionService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	versions *service.VersionService,
	ledger *service.LedgerService,
	phases *service.PhaseService,
	engine *service.ReconciliationEngine,
	suggestions *service.SuggestionService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		versions:    versions,
		ledger:      ledger,
		phases:      phases,
		engine:      engine,
		suggestions: suggestions,
		log:         log,
	}
}

// actorID extracts the acting user from the request.
// TODO: derive from the JWT subject once platform auth middleware lands.
func actorID(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}

// ── Versions ─────────────────────────────────────────────────────────────────

// CreateVersion handles create version HTTP requests
func (h *HTTPHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhaseID         string  `json:"phase_id"`
		ParentVersionID *string `json:"parent_version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	v, err := h.versions.CreateVersion(r.Context(), req.PhaseID, req.ParentVersionID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, v)
}

// GetVersion handles get version HTTP requests
func (h *HTTPHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Version ID is required", http.StatusBadRequest)
		return
	}

	v, summary, err := h.versions.GetVersion(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": v,
		"summary": summary,
	})
}

// ListVersions handles list versions HTTP requests
func (h *HTTPHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	phaseID := r.URL.Query().Get("phase_id")
	if phaseID == "" {
		http.Error(w, "Phase ID is required", http.StatusBadRequest)
		return
	}

	versions, err := h.versions.ListVersions(r.Context(), phaseID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// SubmitVersion handles submit version HTTP requests
func (h *HTTPHandler) SubmitVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             string  `json:"id"`
		EscalationNote *string `json:"escalation_note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.versions.Submit(r.Context(), req.ID, actorID(r), req.EscalationNote); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// ApproveVersion handles approve version HTTP requests
func (h *HTTPHandler) ApproveVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string  `json:"id"`
		Notes *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.versions.Approve(r.Context(), req.ID, actorID(r), req.Notes); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectVersion handles reject version HTTP requests
func (h *HTTPHandler) RejectVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.versions.Reject(r.Context(), req.ID, actorID(r), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ForkVersion handles fork version HTTP requests
func (h *HTTPHandler) ForkVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	v, err := h.versions.Fork(r.Context(), req.ID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, v)
}

// ListPendingVersions handles pending-review queue HTTP requests
func (h *HTTPHandler) ListPendingVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.versions.ListPendingApproval(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// ── Items ────────────────────────────────────────────────────────────────────

// CreateItem handles create item HTTP requests
func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID             string                 `json:"version_id"`
		ItemType              string                 `json:"item_type"`
		Payload               map[string]interface{} `json:"payload"`
		IsCriticalDataElement bool                   `json:"is_critical_data_element"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := h.versions.CreateItem(r.Context(), req.VersionID,
		repository.ItemType(req.ItemType), req.Payload, req.IsCriticalDataElement, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, item)
}

// ListItems handles list items HTTP requests
func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	versionID := r.URL.Query().Get("version_id")
	if versionID == "" {
		http.Error(w, "Version ID is required", http.StatusBadRequest)
		return
	}

	items, err := h.versions.ListItems(r.Context(), versionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// AttachEvidence handles attach evidence HTTP requests
func (h *HTTPHandler) AttachEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID  string `json:"item_id"`
		Payload string `json:"payload"` // base64
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		http.Error(w, "Payload must be base64 encoded", http.StatusBadRequest)
		return
	}

	ref, err := h.versions.AttachEvidence(r.Context(), req.ItemID, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"ref": ref})
}

// GetItemHistory handles decision history HTTP requests
func (h *HTTPHandler) GetItemHistory(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		http.Error(w, "Item ID is required", http.StatusBadRequest)
		return
	}

	history, err := h.ledger.GetHistory(r.Context(), itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": history})
}

// ── Decisions ────────────────────────────────────────────────────────────────

// RecordDecision handles record decision HTTP requests
func (h *HTTPHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID  string  `json:"item_id"`
		Role    string  `json:"role"`
		Verdict string  `json:"verdict"`
		Notes   *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.ledger.RecordDecision(r.Context(), req.ItemID,
		repository.DecisionRole(req.Role), repository.Verdict(req.Verdict), req.Notes, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

// RecordBulkDecision handles bulk decision HTTP requests
func (h *HTTPHandler) RecordBulkDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"item_ids"`
		Role    string   `json:"role"`
		Verdict string   `json:"verdict"`
		Notes   *string  `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.ledger.RecordBulkDecision(r.Context(), req.ItemIDs,
		repository.DecisionRole(req.Role), repository.Verdict(req.Verdict), req.Notes, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ResetItem handles reset item HTTP requests
func (h *HTTPHandler) ResetItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.ledger.ResetItem(r.Context(), req.ItemID, actorID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ── Phases ───────────────────────────────────────────────────────────────────

// InitReport handles report initialization HTTP requests
func (h *HTTPHandler) InitReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReportID string `json:"report_id"`
		CycleID  string `json:"cycle_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	phases, err := h.phases.InitReport(r.Context(), req.ReportID, req.CycleID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"phases": phases})
}

// StartPhase handles start phase HTTP requests
func (h *HTTPHandler) StartPhase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhaseID string `json:"phase_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.phases.StartPhase(r.Context(), req.PhaseID, actorID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// CompletePhase handles complete phase HTTP requests
func (h *HTTPHandler) CompletePhase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhaseID string `json:"phase_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	enabled, err := h.phases.CompletePhase(r.Context(), req.PhaseID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "complete",
		"enabled_phases": enabled,
	})
}

// CheckDependencies handles dependency check HTTP requests
func (h *HTTPHandler) CheckDependencies(w http.ResponseWriter, r *http.Request) {
	phaseID := r.URL.Query().Get("phase_id")
	if phaseID == "" {
		http.Error(w, "Phase ID is required", http.StatusBadRequest)
		return
	}

	check, err := h.phases.CheckDependencies(r.Context(), phaseID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, check)
}

// SetPlannedDates handles planned dates HTTP requests
func (h *HTTPHandler) SetPlannedDates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhaseID      string     `json:"phase_id"`
		PlannedStart *time.Time `json:"planned_start"`
		PlannedEnd   *time.Time `json:"planned_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.phases.SetPlannedDates(r.Context(), req.PhaseID, req.PlannedStart, req.PlannedEnd); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// OverridePhase handles phase override HTTP requests
func (h *HTTPHandler) OverridePhase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhaseID string  `json:"phase_id"`
		State   *string `json:"state"`
		Status  *string `json:"status"`
		Reason  string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var state *repository.PhaseState
	if req.State != nil {
		s := repository.PhaseState(*req.State)
		state = &s
	}
	var status *repository.ScheduleStatus
	if req.Status != nil {
		s := repository.ScheduleStatus(*req.Status)
		status = &s
	}

	if err := h.phases.SetOverride(r.Context(), req.PhaseID, state, status, req.Reason, actorID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "overridden"})
}

// ClearPhaseOverride handles clear override HTTP requests
func (h *HTTPHandler) ClearPhaseOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhaseID string `json:"phase_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.phases.ClearOverride(r.Context(), req.PhaseID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ReportStatus handles report status HTTP requests
func (h *HTTPHandler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	reportID := r.URL.Query().Get("report_id")
	cycleID := r.URL.Query().Get("cycle_id")
	if reportID == "" || cycleID == "" {
		http.Error(w, "Report ID and Cycle ID are required", http.StatusBadRequest)
		return
	}

	statuses, err := h.phases.ReportStatus(r.Context(), reportID, cycleID, h.engine, h.versions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"phases": statuses})
}

// ── Suggestions ──────────────────────────────────────────────────────────────

// EnqueueSuggestions handles suggestion enqueue HTTP requests
func (h *HTTPHandler) EnqueueSuggestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID string `json:"version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.suggestions.Enqueue(r.Context(), req.VersionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, job)
}

// GetSuggestionJob handles suggestion polling HTTP requests
func (h *HTTPHandler) GetSuggestionJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	job, err := h.suggestions.Get(jobID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// CancelSuggestionJob handles suggestion cancellation HTTP requests
func (h *HTTPHandler) CancelSuggestionJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.suggestions.Cancel(req.ID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response")
	}
}

// writeError maps application error codes to HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrCodeValidation:
		status = http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict, errors.ErrCodeConcurrencyConflict:
		status = http.StatusConflict
	case errors.ErrCodeIncompleteDecisions, errors.ErrCodeDependencyUnmet:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("internal error")
	}

	h.writeJSON(w, status, map[string]interface{}{
		"error":   string(errors.Code(err)),
		"message": err.Error(),
		"details": errors.Details(err),
	})
}
