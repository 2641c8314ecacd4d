package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/platform/predicate"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	repopg "github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

type ruleResponse struct {
	RuleID           string          `json:"rule_id"`
	Workflow         string          `json:"workflow"`
	FromStage        string          `json:"from_stage"`
	ToStage          string          `json:"to_stage"`
	RequiredRoles    []string        `json:"required_roles,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	RequiresReason   bool            `json:"requires_reason"`
	MinDwellSeconds  int64           `json:"min_dwell_seconds,omitempty"`
	MinValueCents    *int64          `json:"min_value_cents,omitempty"`
	MaxValueCents    *int64          `json:"max_value_cents,omitempty"`
	CategoryFilter   []string        `json:"category_filter,omitempty"`
	Conditions       predicate.Group `json:"conditions"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	CreatedBy        string          `json:"created_by"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func ruleFromDomain(rule domain.TransitionRule) ruleResponse {
	return ruleResponse{
		RuleID:           rule.RuleID,
		Workflow:         string(rule.Workflow),
		FromStage:        rule.FromStage,
		ToStage:          rule.ToStage,
		RequiredRoles:    rule.RequiredRoles,
		RequiresApproval: rule.RequiresApproval,
		RequiresReason:   rule.RequiresReason,
		MinDwellSeconds:  rule.MinDwellSeconds,
		MinValueCents:    rule.MinValueCents,
		MaxValueCents:    rule.MaxValueCents,
		CategoryFilter:   rule.CategoryFilter,
		Conditions:       rule.Conditions,
		Active:           rule.Active,
		CreatedAt:        rule.CreatedAt,
		CreatedBy:        rule.CreatedBy,
		UpdatedAt:        rule.UpdatedAt,
	}
}

type createRuleRequest struct {
	Workflow         string          `json:"workflow"`
	FromStage        string          `json:"from_stage"`
	ToStage          string          `json:"to_stage"`
	RequiredRoles    []string        `json:"required_roles,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
	RequiresReason   bool            `json:"requires_reason,omitempty"`
	MinDwellSeconds  int64           `json:"min_dwell_seconds,omitempty"`
	MinValueCents    *int64          `json:"min_value_cents,omitempty"`
	MaxValueCents    *int64          `json:"max_value_cents,omitempty"`
	CategoryFilter   []string        `json:"category_filter,omitempty"`
	Conditions       predicate.Group `json:"conditions,omitempty"`
}

func (api *pipelineAPI) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	if !api.requireAdmin(w, r, scope, "rule_admin_required") {
		return
	}

	var req createRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	now := time.Now().UTC()
	rule := domain.TransitionRule{
		RuleID:           uuid.NewString(),
		TenantID:         scope.TenantID,
		Workflow:         domain.Workflow(strings.TrimSpace(req.Workflow)),
		FromStage:        strings.TrimSpace(req.FromStage),
		ToStage:          strings.TrimSpace(req.ToStage),
		RequiredRoles:    req.RequiredRoles,
		RequiresApproval: req.RequiresApproval,
		RequiresReason:   req.RequiresReason,
		MinDwellSeconds:  req.MinDwellSeconds,
		MinValueCents:    req.MinValueCents,
		MaxValueCents:    req.MaxValueCents,
		CategoryFilter:   req.CategoryFilter,
		Conditions:       req.Conditions,
		Active:           true,
		CreatedAt:        now,
		CreatedBy:        scope.Identity.Subject,
		UpdatedAt:        now,
	}
	if err := rule.Validate(); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_rule")
		return
	}
	if !api.stageExists(r, scope.TenantID, rule.Workflow, rule.FromStage) ||
		!api.stageExists(r, scope.TenantID, rule.Workflow, rule.ToStage) {
		api.writeError(w, r, http.StatusBadRequest, "unknown_stage")
		return
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := repopg.NewRuleStore(tx).Create(r.Context(), rule); err != nil {
		api.logger.Error("create rule failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        scope.Identity.Subject,
		Action:       "rule.create",
		ResourceType: "transition_rule",
		ResourceID:   rule.RuleID,
		RequestID:    scope.Audit.RequestID,
		IP:           scope.Audit.IP,
		UserAgent:    scope.Audit.UserAgent,
		Payload: map[string]any{
			"service":    "pipeline",
			"tenant_id":  scope.TenantID,
			"workflow":   string(rule.Workflow),
			"from_stage": rule.FromStage,
			"to_stage":   rule.ToStage,
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

	w.Header().Set("Location", "/rules/"+rule.RuleID)
	api.writeJSON(w, http.StatusCreated, ruleFromDomain(rule))
}

func (api *pipelineAPI) stageExists(r *http.Request, tenantID string, workflow domain.Workflow, key string) bool {
	_, err := api.stages.Stage(r.Context(), tenantID, workflow, key)
	return err == nil
}

func (api *pipelineAPI) handleListRules(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}

	filter := repo.RuleFilter{
		FromStage: strings.TrimSpace(r.URL.Query().Get("from_stage")),
		ToStage:   strings.TrimSpace(r.URL.Query().Get("to_stage")),
		Limit:     clampInt(parseIntQuery(r, "limit", 100), 1, 500),
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

	rules, err := api.rules.List(r.Context(), scope.TenantID, filter)
	if err != nil {
		api.logger.Error("list rules failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleFromDomain(rule))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (api *pipelineAPI) handleGetRule(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	ruleID := strings.TrimSpace(r.PathValue("rule_id"))
	if ruleID == "" {
		api.writeError(w, r, http.StatusBadRequest, "rule_id_required")
		return
	}

	rule, err := api.rules.Get(r.Context(), scope.TenantID, ruleID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, ruleFromDomain(rule))
}

func (api *pipelineAPI) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	if !api.requireAdmin(w, r, scope, "rule_admin_required") {
		return
	}
	ruleID := strings.TrimSpace(r.PathValue("rule_id"))
	if ruleID == "" {
		api.writeError(w, r, http.StatusBadRequest, "rule_id_required")
		return
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := repopg.NewRuleStore(tx).Deactivate(r.Context(), scope.TenantID, ruleID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("deactivate rule failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        scope.Identity.Subject,
		Action:       "rule.deactivate",
		ResourceType: "transition_rule",
		ResourceID:   ruleID,
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
