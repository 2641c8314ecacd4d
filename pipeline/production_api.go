package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	"github.com/sunpath-crm/sunpath-go/internal/service/transitions"
)

type workflowResponse struct {
	WorkflowID     string          `json:"workflow_id"`
	EntryID        string          `json:"entry_id"`
	ProjectID      string          `json:"project_id"`
	CurrentStage   string          `json:"current_stage"`
	StageEnteredAt time.Time       `json:"stage_entered_at"`
	Flags          domain.Flags    `json:"flags"`
	Metadata       domain.Metadata `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	CreatedBy      string          `json:"created_by"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func workflowFromDomain(wf domain.ProductionWorkflow) workflowResponse {
	return workflowResponse{
		WorkflowID:     wf.WorkflowID,
		EntryID:        wf.EntryID,
		ProjectID:      wf.ProjectID,
		CurrentStage:   wf.CurrentStage,
		StageEnteredAt: wf.StageEnteredAt,
		Flags:          wf.Flags.Clone(),
		Metadata:       wf.Metadata.Clone(),
		CreatedAt:      wf.CreatedAt,
		CreatedBy:      wf.CreatedBy,
		UpdatedAt:      wf.UpdatedAt,
	}
}

func (api *pipelineAPI) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}

	filter := repo.WorkflowFilter{
		EntryID: strings.TrimSpace(r.URL.Query().Get("entry_id")),
		Stage:   strings.TrimSpace(r.URL.Query().Get("stage")),
		Limit:   clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}

	workflows, err := api.production.List(r.Context(), scope.TenantID, filter)
	if err != nil {
		api.logger.Error("list workflows failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]workflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, workflowFromDomain(wf))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"workflows": out})
}

func (api *pipelineAPI) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	workflowID := strings.TrimSpace(r.PathValue("workflow_id"))
	if workflowID == "" {
		api.writeError(w, r, http.StatusBadRequest, "workflow_id_required")
		return
	}

	wf, err := api.production.Get(r.Context(), scope.TenantID, workflowID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, workflowFromDomain(wf))
}

func (api *pipelineAPI) handleWorkflowTransition(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	workflowID := strings.TrimSpace(r.PathValue("workflow_id"))
	if workflowID == "" {
		api.writeError(w, r, http.StatusBadRequest, "workflow_id_required")
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.TargetStage) == "" {
		api.writeError(w, r, http.StatusBadRequest, "target_stage_required")
		return
	}

	result, err := api.transitions.AttemptProduction(r.Context(), transitions.AttemptInput{
		TenantID:    scope.TenantID,
		EntityID:    workflowID,
		TargetStage: strings.TrimSpace(req.TargetStage),
		FromStage:   strings.TrimSpace(req.FromStage),
		Reason:      strings.TrimSpace(req.Reason),
		Actor:       scope.Actor,
		Audit:       scope.Audit,
	})
	if err != nil {
		api.writeTransitionError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, decisionFromResult(result))
}

func (api *pipelineAPI) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	api.listHistory(w, r, domain.EntityKindProduction, strings.TrimSpace(r.PathValue("workflow_id")))
}

func (api *pipelineAPI) handleWorkflowAttempts(w http.ResponseWriter, r *http.Request) {
	api.listAttempts(w, r, domain.EntityKindProduction, strings.TrimSpace(r.PathValue("workflow_id")))
}
