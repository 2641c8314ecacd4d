// Package catalog loads, caches, and seeds tenant stage catalogs together
// with their transition rules and stage validations.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/platform/predicate"
)

const SpecSchemaV1 = "sunpath.catalog.v1"

// Spec is one tenant's seedable catalog: stages per workflow plus the rules
// and validations that constrain them.
type Spec struct {
	Schema      string           `yaml:"schema" json:"schema"`
	TenantID    string           `yaml:"tenant_id" json:"tenant_id"`
	Stages      StageSpecs       `yaml:"stages" json:"stages"`
	Rules       []RuleSpec       `yaml:"rules,omitempty" json:"rules,omitempty"`
	Validations []ValidationSpec `yaml:"validations,omitempty" json:"validations,omitempty"`
}

type StageSpecs struct {
	Pipeline   []StageSpec `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Production []StageSpec `yaml:"production,omitempty" json:"production,omitempty"`
}

type StageSpec struct {
	Key      string `yaml:"key" json:"key"`
	Name     string `yaml:"name" json:"name"`
	Ord      int    `yaml:"ord" json:"ord"`
	Terminal bool   `yaml:"terminal,omitempty" json:"terminal,omitempty"`
}

type RuleSpec struct {
	Workflow         string          `yaml:"workflow" json:"workflow"`
	FromStage        string          `yaml:"from_stage" json:"from_stage"`
	ToStage          string          `yaml:"to_stage" json:"to_stage"`
	RequiredRoles    []string        `yaml:"required_roles,omitempty" json:"required_roles,omitempty"`
	RequiresApproval bool            `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
	RequiresReason   bool            `yaml:"requires_reason,omitempty" json:"requires_reason,omitempty"`
	MinDwellSeconds  int64           `yaml:"min_dwell_seconds,omitempty" json:"min_dwell_seconds,omitempty"`
	MinValueCents    *int64          `yaml:"min_value_cents,omitempty" json:"min_value_cents,omitempty"`
	MaxValueCents    *int64          `yaml:"max_value_cents,omitempty" json:"max_value_cents,omitempty"`
	CategoryFilter   []string        `yaml:"category_filter,omitempty" json:"category_filter,omitempty"`
	Conditions       predicate.Group `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

type ValidationSpec struct {
	Workflow     string         `yaml:"workflow" json:"workflow"`
	Stage        string         `yaml:"stage" json:"stage"`
	Direction    string         `yaml:"direction" json:"direction"`
	Kind         string         `yaml:"kind" json:"kind"`
	Config       map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	ErrorMessage string         `yaml:"error_message,omitempty" json:"error_message,omitempty"`
}

// ParseSpec decodes and validates a YAML catalog spec.
func ParseSpec(raw []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return Spec{}, fmt.Errorf("parse catalog spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if strings.TrimSpace(s.TenantID) == "" {
		return errors.New("spec.tenant_id is required")
	}
	if len(s.Stages.Pipeline) == 0 && len(s.Stages.Production) == 0 {
		return errors.New("spec.stages must declare at least one workflow")
	}
	if err := validateStages(s.Stages.Pipeline, "pipeline"); err != nil {
		return err
	}
	if err := validateStages(s.Stages.Production, "production"); err != nil {
		return err
	}
	for i, rule := range s.Rules {
		if err := s.validateRule(i, rule); err != nil {
			return err
		}
	}
	for i, v := range s.Validations {
		if err := s.validateValidation(i, v); err != nil {
			return err
		}
	}
	return nil
}

func validateStages(stages []StageSpec, workflow string) error {
	keys := make(map[string]struct{}, len(stages))
	ords := make(map[int]struct{}, len(stages))
	for i, st := range stages {
		key := strings.TrimSpace(st.Key)
		if key == "" {
			return fmt.Errorf("spec.stages.%s[%d].key is required", workflow, i)
		}
		if _, ok := keys[key]; ok {
			return fmt.Errorf("spec.stages.%s[%d].key must be unique (duplicate %q)", workflow, i, key)
		}
		keys[key] = struct{}{}
		if strings.TrimSpace(st.Name) == "" {
			return fmt.Errorf("spec.stages.%s[%d].name is required", workflow, i)
		}
		if st.Ord <= 0 {
			return fmt.Errorf("spec.stages.%s[%d].ord must be positive", workflow, i)
		}
		if _, ok := ords[st.Ord]; ok {
			return fmt.Errorf("spec.stages.%s[%d].ord must be unique (duplicate %d)", workflow, i, st.Ord)
		}
		ords[st.Ord] = struct{}{}
	}
	return nil
}

func (s Spec) validateRule(i int, rule RuleSpec) error {
	workflow := domain.Workflow(strings.TrimSpace(rule.Workflow))
	if !workflow.Valid() {
		return fmt.Errorf("spec.rules[%d].workflow must be pipeline or production", i)
	}
	from := strings.TrimSpace(rule.FromStage)
	to := strings.TrimSpace(rule.ToStage)
	if from == "" {
		return fmt.Errorf("spec.rules[%d].from_stage is required", i)
	}
	if to == "" {
		return fmt.Errorf("spec.rules[%d].to_stage is required", i)
	}
	if from == to {
		return fmt.Errorf("spec.rules[%d] from_stage and to_stage must differ", i)
	}
	if !s.stageDeclared(workflow, from) {
		return fmt.Errorf("spec.rules[%d].from_stage %q is not in the %s catalog", i, from, workflow)
	}
	if !s.stageDeclared(workflow, to) {
		return fmt.Errorf("spec.rules[%d].to_stage %q is not in the %s catalog", i, to, workflow)
	}
	if rule.MinDwellSeconds < 0 {
		return fmt.Errorf("spec.rules[%d].min_dwell_seconds must not be negative", i)
	}
	if rule.MinValueCents != nil && *rule.MinValueCents < 0 {
		return fmt.Errorf("spec.rules[%d].min_value_cents must not be negative", i)
	}
	if rule.MaxValueCents != nil && *rule.MaxValueCents < 0 {
		return fmt.Errorf("spec.rules[%d].max_value_cents must not be negative", i)
	}
	if rule.MinValueCents != nil && rule.MaxValueCents != nil && *rule.MinValueCents > *rule.MaxValueCents {
		return fmt.Errorf("spec.rules[%d].min_value_cents must be <= max_value_cents", i)
	}
	if err := rule.Conditions.Validate(); err != nil {
		return fmt.Errorf("spec.rules[%d].%w", i, err)
	}
	return nil
}

func (s Spec) validateValidation(i int, v ValidationSpec) error {
	workflow := domain.Workflow(strings.TrimSpace(v.Workflow))
	if !workflow.Valid() {
		return fmt.Errorf("spec.validations[%d].workflow must be pipeline or production", i)
	}
	stage := strings.TrimSpace(v.Stage)
	if stage == "" {
		return fmt.Errorf("spec.validations[%d].stage is required", i)
	}
	if !s.stageDeclared(workflow, stage) {
		return fmt.Errorf("spec.validations[%d].stage %q is not in the %s catalog", i, stage, workflow)
	}
	direction := domain.ValidationDirection(strings.TrimSpace(v.Direction))
	if !direction.Valid() {
		return fmt.Errorf("spec.validations[%d].direction must be enter or exit", i)
	}
	kind := domain.ValidationKind(strings.TrimSpace(v.Kind))
	if !kind.Valid() {
		return fmt.Errorf("spec.validations[%d].kind unsupported: %q", i, v.Kind)
	}
	probe := domain.StageValidation{
		ValidationID: "probe",
		TenantID:     s.TenantID,
		Workflow:     workflow,
		StageKey:     stage,
		Direction:    direction,
		Kind:         kind,
		Config:       domain.Metadata(v.Config),
	}
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("spec.validations[%d]: %w", i, err)
	}
	return nil
}

// stageDeclared reports whether the spec's catalog for the workflow carries
// the stage. A workflow with no declared stages accepts any key so partial
// specs (rules only) can reference an already-seeded catalog.
func (s Spec) stageDeclared(workflow domain.Workflow, key string) bool {
	var stages []StageSpec
	switch workflow {
	case domain.WorkflowPipeline:
		stages = s.Stages.Pipeline
	case domain.WorkflowProduction:
		stages = s.Stages.Production
	}
	if len(stages) == 0 {
		return true
	}
	for _, st := range stages {
		if strings.TrimSpace(st.Key) == key {
			return true
		}
	}
	return false
}

// StageList converts the spec's stages to domain stages.
func (s Spec) StageList() []domain.Stage {
	out := make([]domain.Stage, 0, len(s.Stages.Pipeline)+len(s.Stages.Production))
	for _, st := range s.Stages.Pipeline {
		out = append(out, s.domainStage(domain.WorkflowPipeline, st))
	}
	for _, st := range s.Stages.Production {
		out = append(out, s.domainStage(domain.WorkflowProduction, st))
	}
	return out
}

func (s Spec) domainStage(workflow domain.Workflow, st StageSpec) domain.Stage {
	return domain.Stage{
		TenantID: strings.TrimSpace(s.TenantID),
		Workflow: workflow,
		Key:      strings.TrimSpace(st.Key),
		Name:     strings.TrimSpace(st.Name),
		Ord:      st.Ord,
		Terminal: st.Terminal,
	}
}
