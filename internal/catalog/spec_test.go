package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
)

const seedYAML = `schema: sunpath.catalog.v1
tenant_id: tenant-a
stages:
  pipeline:
    - key: lead
      name: Lead
      ord: 1
    - key: contract
      name: Contract
      ord: 2
    - key: legal_review
      name: Legal Review
      ord: 3
    - key: completed
      name: Completed
      ord: 4
      terminal: true
  production:
    - key: submit_documents
      name: Submit Documents
      ord: 1
    - key: design_review
      name: Design Review
      ord: 2
rules:
  - workflow: pipeline
    from_stage: contract
    to_stage: legal_review
    required_roles: [sales_manager]
    requires_approval: true
    min_dwell_seconds: 3600
    min_value_cents: 7500000
    category_filter: [commercial]
    conditions:
      all:
        - field: entity.value_cents
          op: gt
          value: "1000000"
validations:
  - workflow: pipeline
    stage: contract
    direction: exit
    kind: document_required
    config:
      kind: contract
    error_message: signed contract must be on file
`

func TestParseSpec_Valid(t *testing.T) {
	spec, err := ParseSpec([]byte(seedYAML))

	require.NoError(t, err)
	assert.Equal(t, SpecSchemaV1, spec.Schema)
	assert.Equal(t, "tenant-a", spec.TenantID)
	assert.Len(t, spec.Stages.Pipeline, 4)
	assert.Len(t, spec.Stages.Production, 2)
	assert.Len(t, spec.Rules, 1)
	assert.Len(t, spec.Validations, 1)

	// Terminal flag survives the round trip.
	assert.True(t, spec.Stages.Pipeline[3].Terminal)
	assert.False(t, spec.Stages.Pipeline[0].Terminal)

	rule := spec.Rules[0]
	assert.Equal(t, "contract", rule.FromStage)
	assert.Equal(t, "legal_review", rule.ToStage)
	assert.True(t, rule.RequiresApproval)
	assert.Equal(t, int64(3600), rule.MinDwellSeconds)
	require.NotNil(t, rule.MinValueCents)
	assert.Equal(t, int64(7500000), *rule.MinValueCents)
	assert.Equal(t, []string{"sales_manager"}, rule.RequiredRoles)
	assert.Equal(t, []string{"commercial"}, rule.CategoryFilter)
	require.Len(t, rule.Conditions.All, 1)
	assert.Equal(t, "entity.value_cents", rule.Conditions.All[0].Field)
	assert.Equal(t, "gt", rule.Conditions.All[0].Op)

	v := spec.Validations[0]
	assert.Equal(t, "contract", v.Stage)
	assert.Equal(t, "exit", v.Direction)
	assert.Equal(t, "document_required", v.Kind)
	assert.Equal(t, "contract", v.Config["kind"])
	assert.Equal(t, "signed contract must be on file", v.ErrorMessage)
}

func TestParseSpec_BadYAML(t *testing.T) {
	_, err := ParseSpec([]byte("schema: [unclosed"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse catalog spec")
}

func TestParseSpec_WrongSchema(t *testing.T) {
	_, err := ParseSpec([]byte("schema: sunpath.catalog.v2\ntenant_id: t\n"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "spec.schema")
}

func TestSpecValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Spec)
		wantErr string
	}{
		{
			name:    "missing tenant",
			mutate:  func(s *Spec) { s.TenantID = " " },
			wantErr: "tenant_id is required",
		},
		{
			name: "no stages",
			mutate: func(s *Spec) {
				s.Stages = StageSpecs{}
				s.Rules = nil
				s.Validations = nil
			},
			wantErr: "at least one workflow",
		},
		{
			name:    "blank stage key",
			mutate:  func(s *Spec) { s.Stages.Pipeline[0].Key = "" },
			wantErr: "spec.stages.pipeline[0].key is required",
		},
		{
			name:    "duplicate stage key",
			mutate:  func(s *Spec) { s.Stages.Pipeline[1].Key = "lead" },
			wantErr: "key must be unique",
		},
		{
			name:    "duplicate ord",
			mutate:  func(s *Spec) { s.Stages.Production[1].Ord = 1 },
			wantErr: "ord must be unique",
		},
		{
			name:    "zero ord",
			mutate:  func(s *Spec) { s.Stages.Pipeline[0].Ord = 0 },
			wantErr: "ord must be positive",
		},
		{
			name:    "rule unknown workflow",
			mutate:  func(s *Spec) { s.Rules[0].Workflow = "intake" },
			wantErr: "spec.rules[0].workflow",
		},
		{
			name:    "rule same stages",
			mutate:  func(s *Spec) { s.Rules[0].ToStage = "contract" },
			wantErr: "must differ",
		},
		{
			name:    "rule stage outside catalog",
			mutate:  func(s *Spec) { s.Rules[0].ToStage = "escalation" },
			wantErr: `to_stage "escalation" is not in the pipeline catalog`,
		},
		{
			name: "rule min above max",
			mutate: func(s *Spec) {
				low := int64(10)
				s.Rules[0].MaxValueCents = &low
			},
			wantErr: "min_value_cents must be <= max_value_cents",
		},
		{
			name:    "rule bad condition op",
			mutate:  func(s *Spec) { s.Rules[0].Conditions.All[0].Op = "between" },
			wantErr: "op unsupported",
		},
		{
			name:    "validation bad direction",
			mutate:  func(s *Spec) { s.Validations[0].Direction = "during" },
			wantErr: "direction must be enter or exit",
		},
		{
			name:    "validation bad kind",
			mutate:  func(s *Spec) { s.Validations[0].Kind = "signature_required" },
			wantErr: "kind unsupported",
		},
		{
			name:    "validation missing config",
			mutate:  func(s *Spec) { s.Validations[0].Config = nil },
			wantErr: "validation config kind is required",
		},
		{
			name:    "validation stage outside catalog",
			mutate:  func(s *Spec) { s.Validations[0].Stage = "escalation" },
			wantErr: `stage "escalation" is not in the pipeline catalog`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := ParseSpec([]byte(seedYAML))
			require.NoError(t, err)

			tc.mutate(&spec)
			err = spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSpecValidate_RulesOnlySpec(t *testing.T) {
	// A spec without pipeline stages may still reference an already-seeded
	// pipeline catalog from its rules.
	spec, err := ParseSpec([]byte(seedYAML))
	require.NoError(t, err)

	spec.Stages.Pipeline = nil
	spec.Validations = nil
	require.NoError(t, spec.Validate())
}

func TestStageList(t *testing.T) {
	spec, err := ParseSpec([]byte(seedYAML))
	require.NoError(t, err)

	stages := spec.StageList()
	require.Len(t, stages, 6)

	assert.Equal(t, domain.WorkflowPipeline, stages[0].Workflow)
	assert.Equal(t, "lead", stages[0].Key)
	assert.Equal(t, "tenant-a", stages[0].TenantID)
	assert.Equal(t, 1, stages[0].Ord)

	assert.Equal(t, domain.WorkflowProduction, stages[4].Workflow)
	assert.Equal(t, "submit_documents", stages[4].Key)

	for _, st := range stages {
		require.NoError(t, st.Validate())
	}
}

func TestDefaultSpec(t *testing.T) {
	spec := DefaultSpec("tenant-a")

	require.NoError(t, spec.Validate())
	assert.Len(t, spec.Stages.Pipeline, 9)
	assert.Len(t, spec.Stages.Production, 11)

	// Production orders run 1..11 with a single terminal tail.
	for i, st := range spec.Stages.Production {
		assert.Equal(t, i+1, st.Ord)
	}
	assert.Equal(t, "submit_documents", spec.Stages.Production[0].Key)
	assert.Equal(t, "complete", spec.Stages.Production[10].Key)
	assert.True(t, spec.Stages.Production[10].Terminal)

	assert.Equal(t, "lead", spec.Stages.Pipeline[0].Key)
	assert.True(t, spec.Stages.Pipeline[7].Terminal)
	assert.True(t, spec.Stages.Pipeline[8].Terminal)
}
