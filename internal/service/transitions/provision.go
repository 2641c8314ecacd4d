package transitions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/engine"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

// provision creates the project and production workflow for an entry that
// just entered the project stage. Replays land on the ON CONFLICT (entry_id)
// guards and are silently absorbed; only a first-time provision is audited.
func (s *Service) provision(ctx context.Context, tx *sql.Tx, entry domain.PipelineEntry, actor engine.Actor, audit AuditInfo, now time.Time) error {
	stages, err := s.stages.Stages(ctx, entry.TenantID, domain.WorkflowProduction)
	if err != nil {
		return fmt.Errorf("load production catalog: %w", err)
	}
	if len(stages) == 0 {
		return fmt.Errorf("provision entry %s: %w", entry.EntryID, ErrEmptyCatalog)
	}
	initial := stages[0]

	project := domain.Project{
		ProjectID: uuid.NewString(),
		TenantID:  entry.TenantID,
		EntryID:   entry.EntryID,
		Name:      entry.Name,
		CreatedAt: now,
		CreatedBy: actor.Subject,
	}
	workflow := domain.ProductionWorkflow{
		WorkflowID:     uuid.NewString(),
		TenantID:       entry.TenantID,
		EntryID:        entry.EntryID,
		ProjectID:      project.ProjectID,
		CurrentStage:   initial.Key,
		StageEnteredAt: now,
		Flags:          domain.Flags{},
		Metadata:       domain.Metadata{},
		CreatedAt:      now,
		CreatedBy:      actor.Subject,
		UpdatedAt:      now,
	}

	created, err := postgres.NewProductionStore(tx).Provision(ctx, project, workflow)
	if err != nil {
		return fmt.Errorf("provision entry %s: %w", entry.EntryID, err)
	}
	if !created {
		return nil
	}

	if _, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        actor.Subject,
		Action:       "project.provision",
		ResourceType: "project",
		ResourceID:   project.ProjectID,
		RequestID:    audit.RequestID,
		IP:           audit.IP,
		UserAgent:    audit.UserAgent,
		Payload: map[string]any{
			"service":       "pipeline",
			"tenant_id":     entry.TenantID,
			"entry_id":      entry.EntryID,
			"workflow_id":   workflow.WorkflowID,
			"initial_stage": initial.Key,
		},
	}); err != nil {
		return fmt.Errorf("audit provision: %w", err)
	}
	return nil
}
