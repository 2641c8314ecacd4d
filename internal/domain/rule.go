package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/platform/predicate"
)

// TransitionRule constrains one (from_stage, to_stage) edge of a tenant's
// workflow. Several rules may target the same edge; a transition must pass
// every active rule that applies to the entity.
type TransitionRule struct {
	RuleID           string
	TenantID         string
	Workflow         Workflow
	FromStage        string
	ToStage          string
	RequiredRoles    []string
	RequiresApproval bool
	RequiresReason   bool
	MinDwellSeconds  int64
	MinValueCents    *int64
	MaxValueCents    *int64
	CategoryFilter   []string
	Conditions       predicate.Group
	Active           bool
	CreatedAt        time.Time
	CreatedBy        string
	UpdatedAt        time.Time
}

func (r TransitionRule) Validate() error {
	if strings.TrimSpace(r.RuleID) == "" {
		return errors.New("rule id is required")
	}
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if !r.Workflow.Valid() {
		return errors.New("invalid workflow")
	}
	if strings.TrimSpace(r.FromStage) == "" {
		return errors.New("from stage is required")
	}
	if strings.TrimSpace(r.ToStage) == "" {
		return errors.New("to stage is required")
	}
	if r.FromStage == r.ToStage {
		return errors.New("from and to stages must differ")
	}
	if r.MinDwellSeconds < 0 {
		return errors.New("min dwell seconds must not be negative")
	}
	if r.MinValueCents != nil && *r.MinValueCents < 0 {
		return errors.New("min value cents must not be negative")
	}
	if r.MaxValueCents != nil && *r.MaxValueCents < 0 {
		return errors.New("max value cents must not be negative")
	}
	if r.MinValueCents != nil && r.MaxValueCents != nil && *r.MinValueCents > *r.MaxValueCents {
		return errors.New("min value cents exceeds max value cents")
	}
	if err := r.Conditions.Validate(); err != nil {
		return err
	}
	return nil
}

// AppliesTo reports whether the rule constrains this entity: the category
// filter (when present) must include the entity's category and the condition
// group must match. A rule with neither always applies to its edge.
func (r TransitionRule) AppliesTo(ctx predicate.Context) bool {
	if len(r.CategoryFilter) > 0 {
		found := false
		for _, c := range r.CategoryFilter {
			if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(ctx.Entity.Category)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return r.Conditions.Matches(ctx)
}
