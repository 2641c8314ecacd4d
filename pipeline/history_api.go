package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type transitionRecordResponse struct {
	TransitionID    int64           `json:"transition_id"`
	EntityKind      string          `json:"entity_kind"`
	EntityID        string          `json:"entity_id"`
	FromStage       string          `json:"from_stage"`
	ToStage         string          `json:"to_stage"`
	Actor           string          `json:"actor"`
	OccurredAt      time.Time       `json:"occurred_at"`
	IsBackward      bool            `json:"is_backward"`
	ViaApprovalID   string          `json:"via_approval_id,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Metadata        domain.Metadata `json:"metadata"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

type attemptRecordResponse struct {
	AttemptID       int64     `json:"attempt_id"`
	EntityKind      string    `json:"entity_kind"`
	EntityID        string    `json:"entity_id"`
	FromStage       string    `json:"from_stage"`
	ToStage         string    `json:"to_stage"`
	Actor           string    `json:"actor"`
	AttemptedAt     time.Time `json:"attempted_at"`
	Outcome         string    `json:"outcome"`
	RejectKind      string    `json:"reject_kind,omitempty"`
	RejectMessage   string    `json:"reject_message,omitempty"`
	RuleID          string    `json:"rule_id,omitempty"`
	IntegritySHA256 string    `json:"integrity_sha256"`
}

func (api *pipelineAPI) listHistory(w http.ResponseWriter, r *http.Request, kind domain.EntityKind, entityID string) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	if entityID == "" {
		api.writeError(w, r, http.StatusBadRequest, "entity_id_required")
		return
	}

	records, err := api.history.ListTransitions(r.Context(), scope.TenantID, repo.TransitionFilter{
		EntityKind: kind,
		EntityID:   entityID,
		Limit:      clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.logger.Error("list transitions failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]transitionRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, transitionRecordResponse{
			TransitionID:    rec.TransitionID,
			EntityKind:      string(rec.EntityKind),
			EntityID:        rec.EntityID,
			FromStage:       rec.FromStage,
			ToStage:         rec.ToStage,
			Actor:           rec.Actor,
			OccurredAt:      rec.OccurredAt,
			IsBackward:      rec.IsBackward,
			ViaApprovalID:   rec.ViaApprovalID,
			Reason:          rec.Reason,
			Metadata:        rec.Metadata,
			IntegritySHA256: rec.IntegritySHA256,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"transitions": out})
}

func (api *pipelineAPI) listAttempts(w http.ResponseWriter, r *http.Request, kind domain.EntityKind, entityID string) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	if entityID == "" {
		api.writeError(w, r, http.StatusBadRequest, "entity_id_required")
		return
	}

	records, err := api.history.ListAttempts(r.Context(), scope.TenantID, repo.TransitionFilter{
		EntityKind: kind,
		EntityID:   entityID,
		Limit:      clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.logger.Error("list attempts failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]attemptRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, attemptRecordResponse{
			AttemptID:       rec.AttemptID,
			EntityKind:      string(rec.EntityKind),
			EntityID:        rec.EntityID,
			FromStage:       rec.FromStage,
			ToStage:         rec.ToStage,
			Actor:           rec.Actor,
			AttemptedAt:     rec.AttemptedAt,
			Outcome:         rec.Outcome,
			RejectKind:      rec.RejectKind,
			RejectMessage:   rec.RejectMessage,
			RuleID:          rec.RuleID,
			IntegritySHA256: rec.IntegritySHA256,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}

func (api *pipelineAPI) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.logger.Error("store read failed", "error", err)
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}
