package repo

import (
	"context"
	"errors"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist for the tenant.
var ErrNotFound = errors.New("not found")

type EntryFilter struct {
	Category string
	Stage    string
	Limit    int
}

type WorkflowFilter struct {
	EntryID string
	Stage   string
	Limit   int
}

type RuleFilter struct {
	Workflow  domain.Workflow
	FromStage string
	ToStage   string
	Active    *bool
	Limit     int
}

type ValidationFilter struct {
	Workflow domain.Workflow
	StageKey string
	Active   *bool
	Limit    int
}

type ApprovalFilter struct {
	Status     domain.ApprovalStatus
	EntityKind domain.EntityKind
	EntityID   string
	Limit      int
}

type TransitionFilter struct {
	EntityKind domain.EntityKind
	EntityID   string
	Limit      int
}

type DocumentFilter struct {
	EntryID string
	Kind    string
	Limit   int
}

// StageRepository manages tenant stage catalogs. Upsert exists for seeding;
// transitions only read.
type StageRepository interface {
	Upsert(ctx context.Context, stage domain.Stage) error
	List(ctx context.Context, tenantID string, workflow domain.Workflow) ([]domain.Stage, error)
	Get(ctx context.Context, tenantID string, workflow domain.Workflow, key string) (domain.Stage, error)
}

// RuleRepository manages transition rules.
type RuleRepository interface {
	Create(ctx context.Context, rule domain.TransitionRule) error
	Get(ctx context.Context, tenantID, id string) (domain.TransitionRule, error)
	List(ctx context.Context, tenantID string, filter RuleFilter) ([]domain.TransitionRule, error)
	FindRules(ctx context.Context, tenantID string, workflow domain.Workflow, fromStage, toStage string) ([]domain.TransitionRule, error)
	Deactivate(ctx context.Context, tenantID, id string) error
}

// ValidationRepository manages stage validations.
type ValidationRepository interface {
	Create(ctx context.Context, v domain.StageValidation) error
	Get(ctx context.Context, tenantID, id string) (domain.StageValidation, error)
	List(ctx context.Context, tenantID string, filter ValidationFilter) ([]domain.StageValidation, error)
	FindValidations(ctx context.Context, tenantID string, workflow domain.Workflow, stageKey string, direction domain.ValidationDirection) ([]domain.StageValidation, error)
	Deactivate(ctx context.Context, tenantID, id string) error
}

// EntryRepository reads pipeline entries. Creation and every stage mutation
// go through the transition service's transaction.
type EntryRepository interface {
	Get(ctx context.Context, tenantID, id string) (domain.PipelineEntry, error)
	List(ctx context.Context, tenantID string, filter EntryFilter) ([]domain.PipelineEntry, error)
}

// ProductionRepository reads production workflows.
type ProductionRepository interface {
	Get(ctx context.Context, tenantID, id string) (domain.ProductionWorkflow, error)
	GetByEntry(ctx context.Context, tenantID, entryID string) (domain.ProductionWorkflow, error)
	List(ctx context.Context, tenantID string, filter WorkflowFilter) ([]domain.ProductionWorkflow, error)
}

// ApprovalRepository reads approval requests; creation and resolution go
// through the transition service.
type ApprovalRepository interface {
	Get(ctx context.Context, tenantID, id string) (domain.ApprovalRequest, error)
	List(ctx context.Context, tenantID string, filter ApprovalFilter) ([]domain.ApprovalRequest, error)
}

// HistoryRepository reads the append-only transition streams.
type HistoryRepository interface {
	ListTransitions(ctx context.Context, tenantID string, filter TransitionFilter) ([]domain.TransitionRecord, error)
	ListAttempts(ctx context.Context, tenantID string, filter TransitionFilter) ([]domain.TransitionAttempt, error)
}

// DocumentRepository reads uploaded document records.
type DocumentRepository interface {
	Get(ctx context.Context, tenantID, entryID, documentID string) (domain.EntryDocument, error)
	List(ctx context.Context, tenantID string, filter DocumentFilter) ([]domain.EntryDocument, error)
}
