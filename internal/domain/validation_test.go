package domain

import (
	"testing"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/platform/predicate"
)

func baseValidation(kind ValidationKind, config Metadata) StageValidation {
	return StageValidation{
		ValidationID: "v-1",
		TenantID:     "tenant-a",
		Workflow:     WorkflowPipeline,
		StageKey:     "contract",
		Direction:    ValidationDirectionExit,
		Kind:         kind,
		Config:       config,
		Active:       true,
	}
}

func TestStageValidationConfig(t *testing.T) {
	t.Run("document kind", func(t *testing.T) {
		v := baseValidation(ValidationDocumentRequired, Metadata{"kind": "contract"})
		if err := v.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		kind, err := v.DocumentKind()
		if err != nil {
			t.Fatalf("DocumentKind: %v", err)
		}
		if kind != "contract" {
			t.Fatalf("kind = %q", kind)
		}
	})

	t.Run("document kind missing", func(t *testing.T) {
		v := baseValidation(ValidationDocumentRequired, Metadata{})
		if err := v.Validate(); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("min dwell from json number", func(t *testing.T) {
		v := baseValidation(ValidationMinDwell, Metadata{"seconds": float64(3600)})
		d, err := v.MinDwell()
		if err != nil {
			t.Fatalf("MinDwell: %v", err)
		}
		if d != time.Hour {
			t.Fatalf("dwell = %v", d)
		}
	})

	t.Run("min dwell rejects zero", func(t *testing.T) {
		v := baseValidation(ValidationMinDwell, Metadata{"seconds": 0})
		if _, err := v.MinDwell(); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("min dwell rejects string", func(t *testing.T) {
		v := baseValidation(ValidationMinDwell, Metadata{"seconds": "3600"})
		if _, err := v.MinDwell(); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("dependency flag", func(t *testing.T) {
		v := baseValidation(ValidationDependency, Metadata{"flag": "site_survey_done"})
		flag, err := v.DependencyFlag()
		if err != nil {
			t.Fatalf("DependencyFlag: %v", err)
		}
		if flag != "site_survey_done" {
			t.Fatalf("flag = %q", flag)
		}
	})

	t.Run("field path blank", func(t *testing.T) {
		v := baseValidation(ValidationFieldRequired, Metadata{"field": "  "})
		if err := v.Validate(); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("bad direction", func(t *testing.T) {
		v := baseValidation(ValidationDependency, Metadata{"flag": "x"})
		v.Direction = "sideways"
		if err := v.Validate(); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestStageValidationMessage(t *testing.T) {
	v := baseValidation(ValidationDocumentRequired, Metadata{"kind": "contract"})
	v.ErrorMessage = "signed contract is required"
	if got := v.Message(); got != "signed contract is required" {
		t.Fatalf("Message() = %q", got)
	}
	v.ErrorMessage = ""
	if got := v.Message(); got == "" {
		t.Fatalf("generated message is empty")
	}
}

func TestDocumentFlag(t *testing.T) {
	cases := []struct {
		kind string
		want string
	}{
		{"contract", "contract_uploaded"},
		{"utility_bill", "utility_bill_uploaded"},
		{"Utility Bill", "utility_bill_uploaded"},
		{"site-survey", "site_survey_uploaded"},
		{"  ", ""},
	}
	for _, tc := range cases {
		if got := DocumentFlag(tc.kind); got != tc.want {
			t.Fatalf("DocumentFlag(%q) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestTransitionRuleAppliesTo(t *testing.T) {
	ctx := predicate.Context{
		Entity: predicate.Entity{Category: "commercial", ValueCents: 100},
	}

	plain := TransitionRule{}
	if !plain.AppliesTo(ctx) {
		t.Fatalf("rule with no filter must apply")
	}

	filtered := TransitionRule{CategoryFilter: []string{"residential"}}
	if filtered.AppliesTo(ctx) {
		t.Fatalf("category filter must exclude")
	}

	filtered.CategoryFilter = []string{"Commercial"}
	if !filtered.AppliesTo(ctx) {
		t.Fatalf("category filter match is case-insensitive")
	}

	conditioned := TransitionRule{
		Conditions: predicate.Group{
			All: []predicate.Condition{{Field: "entity.value_cents", Op: "gt", Value: "1000"}},
		},
	}
	if conditioned.AppliesTo(ctx) {
		t.Fatalf("condition group must exclude")
	}
}

func TestApprovalCanResolve(t *testing.T) {
	a := ApprovalRequest{
		ApprovalID:  "a-1",
		TenantID:    "tenant-a",
		EntityKind:  EntityKindEntry,
		EntityID:    "e-1",
		FromStage:   "contract",
		ToStage:     "legal_review",
		RequestedBy: "rep-1",
		Status:      ApprovalStatusPending,
	}
	if err := a.CanResolve("manager-1"); err != nil {
		t.Fatalf("CanResolve: %v", err)
	}
	if err := a.CanResolve("rep-1"); err == nil {
		t.Fatalf("requester must not resolve their own request")
	}
	a.Status = ApprovalStatusApproved
	if err := a.CanResolve("manager-1"); err == nil {
		t.Fatalf("resolved request must not resolve again")
	}
}

func TestTransitionRuleValidate(t *testing.T) {
	min := int64(5000000)
	max := int64(1000000)
	r := TransitionRule{
		RuleID:        "r-1",
		TenantID:      "tenant-a",
		Workflow:      WorkflowPipeline,
		FromStage:     "contract",
		ToStage:       "legal_review",
		MinValueCents: &min,
		MaxValueCents: &max,
	}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected error for min > max")
	}
	r.MaxValueCents = nil
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	r.ToStage = r.FromStage
	if err := r.Validate(); err == nil {
		t.Fatalf("expected error for same from and to")
	}
}
