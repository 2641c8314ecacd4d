package transitions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/engine"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

// CreateEntryInput describes a new pipeline entry. The entry starts in the
// tenant's lowest-ordered pipeline stage.
type CreateEntryInput struct {
	TenantID   string
	Name       string
	Category   string
	ValueCents int64
	Metadata   domain.Metadata
	Actor      engine.Actor
	Audit      AuditInfo
}

func (s *Service) CreateEntry(ctx context.Context, in CreateEntryInput) (domain.PipelineEntry, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return domain.PipelineEntry{}, errors.New("tenant id is required")
	}
	if strings.TrimSpace(in.Actor.Subject) == "" {
		return domain.PipelineEntry{}, errors.New("actor subject is required")
	}
	if in.ValueCents < 0 {
		return domain.PipelineEntry{}, errors.New("value cents must not be negative")
	}

	stages, err := s.stages.Stages(ctx, in.TenantID, domain.WorkflowPipeline)
	if err != nil {
		return domain.PipelineEntry{}, fmt.Errorf("load stage catalog: %w", err)
	}
	if len(stages) == 0 {
		return domain.PipelineEntry{}, ErrEmptyCatalog
	}

	now := s.now().UTC()
	entry := domain.PipelineEntry{
		EntryID:        uuid.NewString(),
		TenantID:       strings.TrimSpace(in.TenantID),
		Name:           strings.TrimSpace(in.Name),
		Category:       strings.TrimSpace(in.Category),
		ValueCents:     in.ValueCents,
		CurrentStage:   stages[0].Key,
		StageEnteredAt: now,
		Flags:          domain.Flags{},
		Metadata:       in.Metadata.Clone(),
		CreatedAt:      now,
		CreatedBy:      strings.TrimSpace(in.Actor.Subject),
		UpdatedAt:      now,
	}
	if err := entry.Validate(); err != nil {
		return domain.PipelineEntry{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PipelineEntry{}, fmt.Errorf("begin entry create: %w", err)
	}
	defer tx.Rollback()

	if err := postgres.NewEntryStore(tx).Create(ctx, entry); err != nil {
		return domain.PipelineEntry{}, err
	}
	if _, err := auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        entry.CreatedBy,
		Action:       "entry.create",
		ResourceType: "pipeline_entry",
		ResourceID:   entry.EntryID,
		RequestID:    in.Audit.RequestID,
		IP:           in.Audit.IP,
		UserAgent:    in.Audit.UserAgent,
		Payload: map[string]any{
			"service":     "pipeline",
			"tenant_id":   entry.TenantID,
			"name":        entry.Name,
			"category":    entry.Category,
			"value_cents": entry.ValueCents,
			"stage":       entry.CurrentStage,
		},
	}); err != nil {
		return domain.PipelineEntry{}, fmt.Errorf("audit entry create: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.PipelineEntry{}, fmt.Errorf("commit entry create: %w", err)
	}
	return entry, nil
}
