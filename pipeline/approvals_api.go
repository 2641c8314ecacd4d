package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	"github.com/sunpath-crm/sunpath-go/internal/service/transitions"
)

type approvalResponse struct {
	ApprovalID      string     `json:"approval_id"`
	EntityKind      string     `json:"entity_kind"`
	EntityID        string     `json:"entity_id"`
	FromStage       string     `json:"from_stage"`
	ToStage         string     `json:"to_stage"`
	Reason          string     `json:"reason,omitempty"`
	RequestedBy     string     `json:"requested_by"`
	RequestedAt     time.Time  `json:"requested_at"`
	Status          string     `json:"status"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	IntegritySHA256 string     `json:"integrity_sha256"`
}

func approvalFromDomain(a domain.ApprovalRequest) approvalResponse {
	return approvalResponse{
		ApprovalID:      a.ApprovalID,
		EntityKind:      string(a.EntityKind),
		EntityID:        a.EntityID,
		FromStage:       a.FromStage,
		ToStage:         a.ToStage,
		Reason:          a.Reason,
		RequestedBy:     a.RequestedBy,
		RequestedAt:     a.RequestedAt,
		Status:          string(a.Status),
		DecidedBy:       a.DecidedBy,
		DecidedAt:       a.DecidedAt,
		Notes:           a.Notes,
		IntegritySHA256: a.IntegritySHA256,
	}
}

func (api *pipelineAPI) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}

	filter := repo.ApprovalFilter{
		EntityID: strings.TrimSpace(r.URL.Query().Get("entity_id")),
		Limit:    clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		parsed := domain.ApprovalStatus(status)
		if !parsed.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Status = parsed
	}
	if kind := strings.TrimSpace(r.URL.Query().Get("entity_kind")); kind != "" {
		parsed := domain.EntityKind(kind)
		if !parsed.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "invalid_entity_kind")
			return
		}
		filter.EntityKind = parsed
	}

	approvals, err := api.approvals.List(r.Context(), scope.TenantID, filter)
	if err != nil {
		api.logger.Error("list approvals failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]approvalResponse, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, approvalFromDomain(a))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"approvals": out})
}

func (api *pipelineAPI) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	approvalID := strings.TrimSpace(r.PathValue("approval_id"))
	if approvalID == "" {
		api.writeError(w, r, http.StatusBadRequest, "approval_id_required")
		return
	}

	approval, err := api.approvals.Get(r.Context(), scope.TenantID, approvalID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, approvalFromDomain(approval))
}

type approvalActionRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (api *pipelineAPI) handleApprove(w http.ResponseWriter, r *http.Request) {
	api.resolveApproval(w, r, true)
}

func (api *pipelineAPI) handleReject(w http.ResponseWriter, r *http.Request) {
	api.resolveApproval(w, r, false)
}

func (api *pipelineAPI) resolveApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	if !api.requireAdmin(w, r, scope, "approval_requires_admin") {
		return
	}

	approvalID := strings.TrimSpace(r.PathValue("approval_id"))
	if approvalID == "" {
		api.writeError(w, r, http.StatusBadRequest, "approval_id_required")
		return
	}

	var req approvalActionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	result, err := api.transitions.ResolveApproval(r.Context(), transitions.ResolveInput{
		TenantID:   scope.TenantID,
		ApprovalID: approvalID,
		Approve:    approve,
		Notes:      strings.TrimSpace(req.Notes),
		Actor:      scope.Actor,
		Audit:      scope.Audit,
	})
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, domain.ErrApprovalNotPending):
			api.writeError(w, r, http.StatusConflict, "approval_not_pending")
		case errors.Is(err, domain.ErrSelfReview):
			api.writeError(w, r, http.StatusForbidden, "approval_requires_second_reviewer")
		default:
			api.writeTransitionError(w, r, err)
		}
		return
	}

	resp := map[string]any{"approval": approvalFromDomain(result.Approval)}
	if result.Transition != nil {
		resp["transition"] = decisionFromResult(*result.Transition)
	}
	api.writeJSON(w, http.StatusOK, resp)
}
