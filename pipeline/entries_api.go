package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	"github.com/sunpath-crm/sunpath-go/internal/service/transitions"
)

type entryResponse struct {
	EntryID        string          `json:"entry_id"`
	Name           string          `json:"name"`
	Category       string          `json:"category,omitempty"`
	ValueCents     int64           `json:"value_cents"`
	CurrentStage   string          `json:"current_stage"`
	StageEnteredAt time.Time       `json:"stage_entered_at"`
	Flags          domain.Flags    `json:"flags"`
	Metadata       domain.Metadata `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	CreatedBy      string          `json:"created_by"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func entryFromDomain(e domain.PipelineEntry) entryResponse {
	return entryResponse{
		EntryID:        e.EntryID,
		Name:           e.Name,
		Category:       e.Category,
		ValueCents:     e.ValueCents,
		CurrentStage:   e.CurrentStage,
		StageEnteredAt: e.StageEnteredAt,
		Flags:          e.Flags.Clone(),
		Metadata:       e.Metadata.Clone(),
		CreatedAt:      e.CreatedAt,
		CreatedBy:      e.CreatedBy,
		UpdatedAt:      e.UpdatedAt,
	}
}

type createEntryRequest struct {
	Name       string         `json:"name"`
	Category   string         `json:"category,omitempty"`
	ValueCents int64          `json:"value_cents,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (api *pipelineAPI) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}

	var req createEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.writeError(w, r, http.StatusBadRequest, "name_required")
		return
	}
	if req.ValueCents < 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_value_cents")
		return
	}

	entry, err := api.transitions.CreateEntry(r.Context(), transitions.CreateEntryInput{
		TenantID:   scope.TenantID,
		Name:       strings.TrimSpace(req.Name),
		Category:   strings.TrimSpace(req.Category),
		ValueCents: req.ValueCents,
		Metadata:   domain.Metadata(req.Metadata),
		Actor:      scope.Actor,
		Audit:      scope.Audit,
	})
	if err != nil {
		api.writeTransitionError(w, r, err)
		return
	}

	w.Header().Set("Location", "/entries/"+entry.EntryID)
	api.writeJSON(w, http.StatusCreated, entryFromDomain(entry))
}

func (api *pipelineAPI) handleListEntries(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}

	filter := repo.EntryFilter{
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Stage:    strings.TrimSpace(r.URL.Query().Get("stage")),
		Limit:    clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}

	entries, err := api.entries.List(r.Context(), scope.TenantID, filter)
	if err != nil {
		api.logger.Error("list entries failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryFromDomain(e))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (api *pipelineAPI) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	entryID := strings.TrimSpace(r.PathValue("entry_id"))
	if entryID == "" {
		api.writeError(w, r, http.StatusBadRequest, "entry_id_required")
		return
	}

	entry, err := api.entries.Get(r.Context(), scope.TenantID, entryID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, entryFromDomain(entry))
}

type transitionRequest struct {
	TargetStage string `json:"target_stage"`
	// FromStage, when present, must match the entity's current stage or the
	// attempt fails with stage_conflict.
	FromStage string `json:"from_stage,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (api *pipelineAPI) handleEntryTransition(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	entryID := strings.TrimSpace(r.PathValue("entry_id"))
	if entryID == "" {
		api.writeError(w, r, http.StatusBadRequest, "entry_id_required")
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

	result, err := api.transitions.AttemptEntry(r.Context(), transitions.AttemptInput{
		TenantID:    scope.TenantID,
		EntityID:    entryID,
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

func (api *pipelineAPI) handleEntryHistory(w http.ResponseWriter, r *http.Request) {
	api.listHistory(w, r, domain.EntityKindEntry, strings.TrimSpace(r.PathValue("entry_id")))
}

func (api *pipelineAPI) handleEntryAttempts(w http.ResponseWriter, r *http.Request) {
	api.listAttempts(w, r, domain.EntityKindEntry, strings.TrimSpace(r.PathValue("entry_id")))
}
