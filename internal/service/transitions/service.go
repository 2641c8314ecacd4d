// Package transitions commits stage changes. Every attempt runs as one
// transaction: lock the entity row, evaluate, then either update the stage
// and append to stage_transitions, park the move behind an approval request,
// or record the rejection in transition_attempts. Audit events ride the same
// transaction.
package transitions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/engine"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/platform/transitionlog"
	"github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

var (
	// ErrStageConflict is returned when the caller's observed from-stage
	// lost a race with a concurrent transition.
	ErrStageConflict = errors.New("entity stage changed concurrently")
	// ErrEmptyCatalog is returned when a tenant has no stages seeded for
	// the workflow an operation needs.
	ErrEmptyCatalog = errors.New("stage catalog is empty")
)

// StageSource supplies ordered stage catalogs, normally the catalog cache.
type StageSource interface {
	Stages(ctx context.Context, tenantID string, workflow domain.Workflow) ([]domain.Stage, error)
}

// RuleSource supplies the active rules for one transition edge.
type RuleSource interface {
	FindRules(ctx context.Context, tenantID string, workflow domain.Workflow, fromStage, toStage string) ([]domain.TransitionRule, error)
}

// ValidationSource supplies the active validations for one stage boundary.
type ValidationSource interface {
	FindValidations(ctx context.Context, tenantID string, workflow domain.Workflow, stageKey string, direction domain.ValidationDirection) ([]domain.StageValidation, error)
}

type Service struct {
	db          *sql.DB
	stages      StageSource
	rules       RuleSource
	validations ValidationSource
	now         func() time.Time
}

func New(db *sql.DB, stages StageSource, rules RuleSource, validations ValidationSource) *Service {
	return &Service{
		db:          db,
		stages:      stages,
		rules:       rules,
		validations: validations,
		now:         time.Now,
	}
}

// AuditInfo carries request-scoped fields copied onto audit events.
type AuditInfo struct {
	RequestID string
	IP        net.IP
	UserAgent string
}

// AttemptInput describes one proposed transition.
type AttemptInput struct {
	TenantID    string
	EntityID    string
	TargetStage string
	// FromStage, when set, is the caller's observed stage; a mismatch with
	// the locked row fails with ErrStageConflict.
	FromStage string
	Reason    string
	Actor     engine.Actor
	Audit     AuditInfo
}

func (in AttemptInput) validate() error {
	if strings.TrimSpace(in.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(in.EntityID) == "" {
		return errors.New("entity id is required")
	}
	if strings.TrimSpace(in.TargetStage) == "" {
		return errors.New("target stage is required")
	}
	if strings.TrimSpace(in.Actor.Subject) == "" {
		return errors.New("actor subject is required")
	}
	return nil
}

// Result is the outcome of one attempt, mirroring the evaluator's decision
// plus the rows it produced.
type Result struct {
	Outcome      engine.Outcome
	RejectKind   engine.RejectKind
	Message      string
	RuleID       string
	IsBackward   bool
	EntityKind   domain.EntityKind
	EntityID     string
	FromStage    string
	ToStage      string
	TransitionID int64
	ApprovalID   string
}

// AttemptEntry evaluates and, when allowed, commits a pipeline entry
// transition.
func (s *Service) AttemptEntry(ctx context.Context, in AttemptInput) (Result, error) {
	return s.attempt(ctx, domain.EntityKindEntry, in)
}

// AttemptProduction evaluates and, when allowed, commits a production
// workflow transition.
func (s *Service) AttemptProduction(ctx context.Context, in AttemptInput) (Result, error) {
	return s.attempt(ctx, domain.EntityKindProduction, in)
}

func (s *Service) attempt(ctx context.Context, kind domain.EntityKind, in AttemptInput) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	entity, err := s.lockEntity(ctx, tx, kind, in.TenantID, in.EntityID)
	if err != nil {
		return Result{}, err
	}
	if from := strings.TrimSpace(in.FromStage); from != "" && from != entity.snapshot.CurrentStage {
		return Result{}, ErrStageConflict
	}

	res, err := s.evaluateAndApply(ctx, tx, entity, applyInput{
		targetStage: strings.TrimSpace(in.TargetStage),
		actor:       in.Actor,
		reason:      strings.TrimSpace(in.Reason),
		audit:       in.Audit,
	})
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit transition: %w", err)
	}
	return res, nil
}

// lockedEntity is the FOR UPDATE snapshot the evaluation runs against.
type lockedEntity struct {
	kind     domain.EntityKind
	workflow domain.Workflow
	tenantID string
	snapshot engine.Entity
	entry    *domain.PipelineEntry
}

func (s *Service) lockEntity(ctx context.Context, tx *sql.Tx, kind domain.EntityKind, tenantID, entityID string) (lockedEntity, error) {
	switch kind {
	case domain.EntityKindEntry:
		entry, err := postgres.NewEntryStore(tx).GetForUpdate(ctx, tenantID, entityID)
		if err != nil {
			return lockedEntity{}, err
		}
		return lockedEntity{
			kind:     kind,
			workflow: domain.WorkflowPipeline,
			tenantID: entry.TenantID,
			entry:    &entry,
			snapshot: engine.Entity{
				Kind:           kind,
				ID:             entry.EntryID,
				Name:           entry.Name,
				Category:       entry.Category,
				ValueCents:     entry.ValueCents,
				CurrentStage:   entry.CurrentStage,
				StageEnteredAt: entry.StageEnteredAt,
				Flags:          entry.Flags,
				Metadata:       entry.Metadata,
			},
		}, nil
	case domain.EntityKindProduction:
		w, err := postgres.NewProductionStore(tx).GetForUpdate(ctx, tenantID, entityID)
		if err != nil {
			return lockedEntity{}, err
		}
		return lockedEntity{
			kind:     kind,
			workflow: domain.WorkflowProduction,
			tenantID: w.TenantID,
			snapshot: engine.Entity{
				Kind:           kind,
				ID:             w.WorkflowID,
				CurrentStage:   w.CurrentStage,
				StageEnteredAt: w.StageEnteredAt,
				Flags:          w.Flags,
				Metadata:       w.Metadata,
			},
		}, nil
	default:
		return lockedEntity{}, fmt.Errorf("unknown entity kind %q", kind)
	}
}

type applyInput struct {
	targetStage string
	actor       engine.Actor
	reason      string
	audit       AuditInfo
	// viaApprovalID marks commits that resulted from an approved request.
	viaApprovalID string
	// skipApprovalGate re-runs an approved evaluation without re-gating.
	skipApprovalGate bool
}

// evaluateAndApply loads the configuration, evaluates the transition against
// the locked snapshot, and writes the outcome. The caller owns the
// transaction.
func (s *Service) evaluateAndApply(ctx context.Context, tx *sql.Tx, entity lockedEntity, in applyInput) (Result, error) {
	stages, err := s.stages.Stages(ctx, entity.tenantID, entity.workflow)
	if err != nil {
		return Result{}, fmt.Errorf("load stage catalog: %w", err)
	}
	if len(stages) == 0 {
		return Result{}, ErrEmptyCatalog
	}
	rules, err := s.rules.FindRules(ctx, entity.tenantID, entity.workflow, entity.snapshot.CurrentStage, in.targetStage)
	if err != nil {
		return Result{}, fmt.Errorf("load rules: %w", err)
	}
	exitValidations, err := s.validations.FindValidations(ctx, entity.tenantID, entity.workflow, entity.snapshot.CurrentStage, domain.ValidationDirectionExit)
	if err != nil {
		return Result{}, fmt.Errorf("load exit validations: %w", err)
	}
	enterValidations, err := s.validations.FindValidations(ctx, entity.tenantID, entity.workflow, in.targetStage, domain.ValidationDirectionEnter)
	if err != nil {
		return Result{}, fmt.Errorf("load enter validations: %w", err)
	}

	now := s.now().UTC()
	decision := engine.Evaluate(engine.Input{
		Workflow:         entity.workflow,
		Entity:           entity.snapshot,
		TargetStage:      in.targetStage,
		Stages:           stages,
		Rules:            rules,
		ExitValidations:  exitValidations,
		EnterValidations: enterValidations,
		Actor:            in.actor,
		Reason:           in.reason,
		Now:              now,
		SkipApprovalGate: in.skipApprovalGate,
	})

	result := Result{
		Outcome:    decision.Outcome,
		RejectKind: decision.RejectKind,
		Message:    decision.Message,
		RuleID:     decision.RuleID,
		IsBackward: decision.IsBackward,
		EntityKind: entity.kind,
		EntityID:   entity.snapshot.ID,
		FromStage:  entity.snapshot.CurrentStage,
		ToStage:    in.targetStage,
	}

	switch decision.Outcome {
	case engine.OutcomeAllowed:
		if err := s.commit(ctx, tx, entity, in, &result, stages, now); err != nil {
			return Result{}, err
		}
	case engine.OutcomeRequiresApproval:
		if err := s.park(ctx, tx, entity, in, &result, now); err != nil {
			return Result{}, err
		}
	case engine.OutcomeRejected:
		if err := s.reject(ctx, tx, entity, in, &result, now); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("unknown decision outcome %q", decision.Outcome)
	}
	return result, nil
}

func (s *Service) commit(ctx context.Context, tx *sql.Tx, entity lockedEntity, in applyInput, result *Result, stages []domain.Stage, now time.Time) error {
	switch entity.kind {
	case domain.EntityKindEntry:
		if err := postgres.NewEntryStore(tx).UpdateStage(ctx, entity.tenantID, entity.snapshot.ID, in.targetStage, now); err != nil {
			return fmt.Errorf("update entry stage: %w", err)
		}
	case domain.EntityKindProduction:
		if err := postgres.NewProductionStore(tx).UpdateStage(ctx, entity.tenantID, entity.snapshot.ID, in.targetStage, now); err != nil {
			return fmt.Errorf("update workflow stage: %w", err)
		}
	}

	transitionID, err := transitionlog.InsertTransition(ctx, tx, transitionlog.Transition{
		TenantID:      entity.tenantID,
		EntityKind:    string(entity.kind),
		EntityID:      entity.snapshot.ID,
		FromStage:     entity.snapshot.CurrentStage,
		ToStage:       in.targetStage,
		Actor:         in.actor.Subject,
		OccurredAt:    now,
		IsBackward:    result.IsBackward,
		ViaApprovalID: in.viaApprovalID,
		Reason:        in.reason,
	})
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	result.TransitionID = transitionID

	if entity.kind == domain.EntityKindEntry && in.targetStage == domain.StageProject {
		if err := s.provision(ctx, tx, *entity.entry, in.actor, in.audit, now); err != nil {
			return err
		}
	}

	payload := map[string]any{
		"service":     "pipeline",
		"tenant_id":   entity.tenantID,
		"entity_kind": string(entity.kind),
		"from_stage":  entity.snapshot.CurrentStage,
		"to_stage":    in.targetStage,
		"is_backward": result.IsBackward,
	}
	if in.viaApprovalID != "" {
		payload["via_approval_id"] = in.viaApprovalID
	}
	if _, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        in.actor.Subject,
		Action:       "transition.commit",
		ResourceType: resourceType(entity.kind),
		ResourceID:   entity.snapshot.ID,
		RequestID:    in.audit.RequestID,
		IP:           in.audit.IP,
		UserAgent:    in.audit.UserAgent,
		Payload:      payload,
	}); err != nil {
		return fmt.Errorf("audit transition: %w", err)
	}
	return nil
}

func (s *Service) park(ctx context.Context, tx *sql.Tx, entity lockedEntity, in applyInput, result *Result, now time.Time) error {
	approval, created, err := postgres.NewApprovalStore(tx).CreatePending(ctx, domain.ApprovalRequest{
		ApprovalID:  uuid.NewString(),
		TenantID:    entity.tenantID,
		EntityKind:  entity.kind,
		EntityID:    entity.snapshot.ID,
		FromStage:   entity.snapshot.CurrentStage,
		ToStage:     in.targetStage,
		Reason:      in.reason,
		RequestedBy: in.actor.Subject,
		RequestedAt: now,
	})
	if err != nil {
		return fmt.Errorf("request approval: %w", err)
	}
	result.ApprovalID = approval.ApprovalID

	if _, err := transitionlog.InsertAttempt(ctx, tx, transitionlog.Attempt{
		TenantID:      entity.tenantID,
		EntityKind:    string(entity.kind),
		EntityID:      entity.snapshot.ID,
		FromStage:     entity.snapshot.CurrentStage,
		ToStage:       in.targetStage,
		Actor:         in.actor.Subject,
		AttemptedAt:   now,
		Outcome:       transitionlog.OutcomeRequiresApproval,
		RejectMessage: result.Message,
		RuleID:        result.RuleID,
	}); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}

	if _, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        in.actor.Subject,
		Action:       "approval.request",
		ResourceType: "approval_request",
		ResourceID:   approval.ApprovalID,
		RequestID:    in.audit.RequestID,
		IP:           in.audit.IP,
		UserAgent:    in.audit.UserAgent,
		Payload: map[string]any{
			"service":     "pipeline",
			"tenant_id":   entity.tenantID,
			"entity_kind": string(entity.kind),
			"entity_id":   entity.snapshot.ID,
			"from_stage":  entity.snapshot.CurrentStage,
			"to_stage":    in.targetStage,
			"rule_id":     result.RuleID,
			"created":     created,
		},
	}); err != nil {
		return fmt.Errorf("audit approval request: %w", err)
	}
	return nil
}

func (s *Service) reject(ctx context.Context, tx *sql.Tx, entity lockedEntity, in applyInput, result *Result, now time.Time) error {
	if _, err := transitionlog.InsertAttempt(ctx, tx, transitionlog.Attempt{
		TenantID:      entity.tenantID,
		EntityKind:    string(entity.kind),
		EntityID:      entity.snapshot.ID,
		FromStage:     entity.snapshot.CurrentStage,
		ToStage:       in.targetStage,
		Actor:         in.actor.Subject,
		AttemptedAt:   now,
		Outcome:       transitionlog.OutcomeRejected,
		RejectKind:    string(result.RejectKind),
		RejectMessage: result.Message,
		RuleID:        result.RuleID,
	}); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}

	if _, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        in.actor.Subject,
		Action:       "transition.reject",
		ResourceType: resourceType(entity.kind),
		ResourceID:   entity.snapshot.ID,
		RequestID:    in.audit.RequestID,
		IP:           in.audit.IP,
		UserAgent:    in.audit.UserAgent,
		Payload: map[string]any{
			"service":     "pipeline",
			"tenant_id":   entity.tenantID,
			"entity_kind": string(entity.kind),
			"from_stage":  entity.snapshot.CurrentStage,
			"to_stage":    in.targetStage,
			"reject_kind": string(result.RejectKind),
			"message":     result.Message,
			"rule_id":     result.RuleID,
		},
	}); err != nil {
		return fmt.Errorf("audit rejection: %w", err)
	}
	return nil
}

func resourceType(kind domain.EntityKind) string {
	if kind == domain.EntityKindProduction {
		return "production_workflow"
	}
	return "pipeline_entry"
}
