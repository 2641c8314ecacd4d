package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

// ApplyResult reports what a seed run changed.
type ApplyResult struct {
	TenantID               string `json:"tenant_id"`
	StagesUpserted         int    `json:"stages_upserted"`
	RulesCreated           int    `json:"rules_created"`
	RulesDeactivated       int64  `json:"rules_deactivated"`
	ValidationsCreated     int    `json:"validations_created"`
	ValidationsDeactivated int64  `json:"validations_deactivated"`
}

// Apply seeds a tenant's catalog from spec. Stages are upserted by
// (workflow, key). Rules and validations use replace semantics: when the
// spec declares any, every active row for the tenant is deactivated first,
// then the spec's are inserted. Callers run Apply inside a transaction so a
// broken spec leaves the tenant untouched; the deferred ord uniqueness on
// stages lets one run reorder an existing catalog.
func Apply(ctx context.Context, db postgres.DB, spec Spec, appliedBy string, now time.Time) (ApplyResult, error) {
	result := ApplyResult{TenantID: strings.TrimSpace(spec.TenantID)}
	if err := spec.Validate(); err != nil {
		return result, err
	}
	appliedBy = strings.TrimSpace(appliedBy)
	if appliedBy == "" {
		return result, fmt.Errorf("applied by is required")
	}
	now = now.UTC()

	stages := postgres.NewStageStore(db)
	for _, stage := range spec.StageList() {
		if err := stages.Upsert(ctx, stage); err != nil {
			return result, fmt.Errorf("upsert stage %s/%s: %w", stage.Workflow, stage.Key, err)
		}
		result.StagesUpserted++
	}

	if len(spec.Rules) > 0 {
		ruleStore := postgres.NewRuleStore(db)
		deactivated, err := ruleStore.DeactivateAll(ctx, spec.TenantID)
		if err != nil {
			return result, err
		}
		result.RulesDeactivated = deactivated
		for i, rs := range spec.Rules {
			rule := domain.TransitionRule{
				RuleID:           uuid.NewString(),
				TenantID:         strings.TrimSpace(spec.TenantID),
				Workflow:         domain.Workflow(strings.TrimSpace(rs.Workflow)),
				FromStage:        strings.TrimSpace(rs.FromStage),
				ToStage:          strings.TrimSpace(rs.ToStage),
				RequiredRoles:    rs.RequiredRoles,
				RequiresApproval: rs.RequiresApproval,
				RequiresReason:   rs.RequiresReason,
				MinDwellSeconds:  rs.MinDwellSeconds,
				MinValueCents:    rs.MinValueCents,
				MaxValueCents:    rs.MaxValueCents,
				CategoryFilter:   rs.CategoryFilter,
				Conditions:       rs.Conditions,
				Active:           true,
				CreatedAt:        now,
				CreatedBy:        appliedBy,
				UpdatedAt:        now,
			}
			if err := ruleStore.Create(ctx, rule); err != nil {
				return result, fmt.Errorf("create rule %d: %w", i, err)
			}
			result.RulesCreated++
		}
	}

	if len(spec.Validations) > 0 {
		validationStore := postgres.NewValidationStore(db)
		deactivated, err := validationStore.DeactivateAll(ctx, spec.TenantID)
		if err != nil {
			return result, err
		}
		result.ValidationsDeactivated = deactivated
		for i, vs := range spec.Validations {
			v := domain.StageValidation{
				ValidationID: uuid.NewString(),
				TenantID:     strings.TrimSpace(spec.TenantID),
				Workflow:     domain.Workflow(strings.TrimSpace(vs.Workflow)),
				StageKey:     strings.TrimSpace(vs.Stage),
				Direction:    domain.ValidationDirection(strings.TrimSpace(vs.Direction)),
				Kind:         domain.ValidationKind(strings.TrimSpace(vs.Kind)),
				Config:       domain.Metadata(vs.Config),
				ErrorMessage: strings.TrimSpace(vs.ErrorMessage),
				Active:       true,
				CreatedAt:    now,
			}
			if err := validationStore.Create(ctx, v); err != nil {
				return result, fmt.Errorf("create validation %d: %w", i, err)
			}
			result.ValidationsCreated++
		}
	}

	return result, nil
}
