package main

import (
	"net/http"
	"strings"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
)

type stageResponse struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Ord      int    `json:"ord"`
	Terminal bool   `json:"terminal,omitempty"`
	Workflow string `json:"workflow"`
}

func (api *pipelineAPI) handleListStages(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}

	workflow := domain.Workflow(strings.TrimSpace(r.URL.Query().Get("workflow")))
	if workflow == "" {
		workflow = domain.WorkflowPipeline
	}
	if !workflow.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "invalid_workflow")
		return
	}

	stages, err := api.stages.Stages(r.Context(), scope.TenantID, workflow)
	if err != nil {
		api.logger.Error("list stages failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]stageResponse, 0, len(stages))
	for _, s := range stages {
		out = append(out, stageResponse{
			Key:      s.Key,
			Name:     s.Name,
			Ord:      s.Ord,
			Terminal: s.Terminal,
			Workflow: string(s.Workflow),
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"stages": out})
}
