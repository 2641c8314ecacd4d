package transitions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/engine"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

// ResolveInput decides a pending approval request. Role checks happen at the
// HTTP layer; the service enforces pending status and the second-reviewer
// rule.
type ResolveInput struct {
	TenantID   string
	ApprovalID string
	Approve    bool
	Notes      string
	Actor      engine.Actor
	Audit      AuditInfo
}

// ResolveResult reports the terminalized request and, when it was approved,
// the fresh evaluation's outcome.
type ResolveResult struct {
	Approval domain.ApprovalRequest
	// Transition is set only on approve: the re-evaluated decision,
	// committed when allowed or recorded as a rejected attempt.
	Transition *Result
}

// ResolveApproval locks the approval row, then the entity row, re-evaluates
// on approve with the approval gate lifted, and terminalizes the request.
// The approval is decided even when the re-evaluation rejects; the rejection
// lands in transition_attempts for the caller to inspect.
func (s *Service) ResolveApproval(ctx context.Context, in ResolveInput) (ResolveResult, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return ResolveResult{}, errors.New("tenant id is required")
	}
	if strings.TrimSpace(in.ApprovalID) == "" {
		return ResolveResult{}, errors.New("approval id is required")
	}
	if strings.TrimSpace(in.Actor.Subject) == "" {
		return ResolveResult{}, errors.New("actor subject is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("begin approval resolve: %w", err)
	}
	defer tx.Rollback()

	approvals := postgres.NewApprovalStore(tx)
	approval, err := approvals.GetForUpdate(ctx, in.TenantID, in.ApprovalID)
	if err != nil {
		return ResolveResult{}, err
	}
	if err := approval.CanResolve(in.Actor.Subject); err != nil {
		return ResolveResult{}, err
	}
	now := s.now().UTC()

	result := ResolveResult{}
	status := domain.ApprovalStatusRejected
	action := "approval.rejected"
	if in.Approve {
		status = domain.ApprovalStatusApproved
		action = "approval.approved"

		entity, err := s.lockEntity(ctx, tx, approval.EntityKind, approval.TenantID, approval.EntityID)
		if err != nil {
			return ResolveResult{}, fmt.Errorf("lock %s %s: %w", approval.EntityKind, approval.EntityID, err)
		}
		transition, err := s.evaluateAndApply(ctx, tx, entity, applyInput{
			targetStage:      approval.ToStage,
			actor:            in.Actor,
			reason:           approval.Reason,
			audit:            in.Audit,
			viaApprovalID:    approval.ApprovalID,
			skipApprovalGate: true,
		})
		if err != nil {
			return ResolveResult{}, err
		}
		result.Transition = &transition
	}

	resolved, err := approvals.Resolve(ctx, approval, status, in.Actor.Subject, now, in.Notes)
	if err != nil {
		return ResolveResult{}, err
	}
	result.Approval = resolved

	payload := map[string]any{
		"service":     "pipeline",
		"tenant_id":   approval.TenantID,
		"entity_kind": string(approval.EntityKind),
		"entity_id":   approval.EntityID,
		"from_stage":  approval.FromStage,
		"to_stage":    approval.ToStage,
		"notes":       strings.TrimSpace(in.Notes),
	}
	if result.Transition != nil {
		payload["outcome"] = string(result.Transition.Outcome)
	}
	if _, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        in.Actor.Subject,
		Action:       action,
		ResourceType: "approval_request",
		ResourceID:   approval.ApprovalID,
		RequestID:    in.Audit.RequestID,
		IP:           in.Audit.IP,
		UserAgent:    in.Audit.UserAgent,
		Payload:      payload,
	}); err != nil {
		return ResolveResult{}, fmt.Errorf("audit approval resolve: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ResolveResult{}, fmt.Errorf("commit approval resolve: %w", err)
	}
	return result, nil
}
