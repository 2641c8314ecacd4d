package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	repopg "github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

type validationResponse struct {
	ValidationID string          `json:"validation_id"`
	Workflow     string          `json:"workflow"`
	StageKey     string          `json:"stage_key"`
	Direction    string          `json:"direction"`
	Kind         string          `json:"kind"`
	Config       domain.Metadata `json:"config"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
}

func validationFromDomain(v domain.StageValidation) validationResponse {
	return validationResponse{
		ValidationID: v.ValidationID,
		Workflow:     string(v.Workflow),
		StageKey:     v.StageKey,
		Direction:    string(v.Direction),
		Kind:         string(v.Kind),
		Config:       v.Config.Clone(),
		ErrorMessage: v.ErrorMessage,
		Active:       v.Active,
		CreatedAt:    v.CreatedAt,
	}
}

type createValidationRequest struct {
	Workflow     string         `json:"workflow"`
	StageKey     string         `json:"stage_key"`
	Direction    string         `json:"direction"`
	Kind         string         `json:"kind"`
	Config       map[string]any `json:"config,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

func (api *pipelineAPI) handleCreateValidation(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	if !api.requireAdmin(w, r, scope, "validation_admin_required") {
		return
	}

	var req createValidationRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	v := domain.StageValidation{
		ValidationID: uuid.NewString(),
		TenantID:     scope.TenantID,
		Workflow:     domain.Workflow(strings.TrimSpace(req.Workflow)),
		StageKey:     strings.TrimSpace(req.StageKey),
		Direction:    domain.ValidationDirection(strings.TrimSpace(req.Direction)),
		Kind:         domain.ValidationKind(strings.TrimSpace(req.Kind)),
		Config:       domain.Metadata(req.Config),
		ErrorMessage: strings.TrimSpace(req.ErrorMessage),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := v.Validate(); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_validation")
		return
	}
	if !api.stageExists(r, scope.TenantID, v.Workflow, v.StageKey) {
		api.writeError(w, r, http.StatusBadRequest, "unknown_stage")
		return
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := repopg.NewValidationStore(tx).Create(r.Context(), v); err != nil {
		api.logger.Error("create validation failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   v.CreatedAt,
		Actor:        scope.Identity.Subject,
		Action:       "validation.create",
		ResourceType: "stage_validation",
		ResourceID:   v.ValidationID,
		RequestID:    scope.Audit.RequestID,
		IP:           scope.Audit.IP,
		UserAgent:    scope.Audit.UserAgent,
		Payload: map[string]any{
			"service":   "pipeline",
			"tenant_id": scope.TenantID,
			"workflow":  string(v.Workflow),
			"stage_key": v.StageKey,
			"direction": string(v.Direction),
			"kind":      string(v.Kind),
		},
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}

	if err := tx.Commit(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", "/validations/"+v.ValidationID)
	api.writeJSON(w, http.StatusCreated, validationFromDomain(v))
}

func (api *pipelineAPI) handleListValidations(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}

	filter := repo.ValidationFilter{
		StageKey: strings.TrimSpace(r.URL.Query().Get("stage_key")),
		Limit:    clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	if workflow := strings.TrimSpace(r.URL.Query().Get("workflow")); workflow != "" {
		parsed := domain.Workflow(workflow)
		if !parsed.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_workflow")
			return
		}
		filter.Workflow = parsed
	}
	if active := strings.TrimSpace(r.URL.Query().Get("active")); active != "" {
		switch active {
		case "true":
			v := true
			filter.Active = &v
		case "false":
			v := false
			filter.Active = &v
		default:
			api.writeError(w, r, http.StatusBadRequest, "invalid_active")
			return
		}
	}

	validations, err := api.validations.List(r.Context(), scope.TenantID, filter)
	if err != nil {
		api.logger.Error("list validations failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]validationResponse, 0, len(validations))
	for _, v := range validations {
		out = append(out, validationFromDomain(v))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"validations": out})
}

func (api *pipelineAPI) handleGetValidation(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	validationID := strings.TrimSpace(r.PathValue("validation_id"))
	if validationID == "" {
		api.writeError(w, r, http.StatusBadRequest, "validation_id_required")
		return
	}

	v, err := api.validations.Get(r.Context(), scope.TenantID, validationID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, validationFromDomain(v))
}

func (api *pipelineAPI) handleDeactivateValidation(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	if !api.requireAdmin(w, r, scope, "validation_admin_required") {
		return
	}
	validationID := strings.TrimSpace(r.PathValue("validation_id"))
	if validationID == "" {
		api.writeError(w, r, http.StatusBadRequest, "validation_id_required")
		return
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := repopg.NewValidationStore(tx).Deactivate(r.Context(), scope.TenantID, validationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("deactivate validation failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        scope.Identity.Subject,
		Action:       "validation.deactivate",
		ResourceType: "stage_validation",
		ResourceID:   validationID,
		RequestID:    scope.Audit.RequestID,
		IP:           scope.Audit.IP,
		UserAgent:    scope.Audit.UserAgent,
		Payload: map[string]any{
			"service":   "pipeline",
			"tenant_id": scope.TenantID,
		},
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}

	if err := tx.Commit(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
