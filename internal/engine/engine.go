// Package engine holds the pure transition evaluator. Evaluate never touches
// the database: the service layer loads the entity snapshot, catalog, rules,
// and validations inside its transaction and commits what the decision says.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/platform/predicate"
)

type Outcome string

const (
	OutcomeAllowed          Outcome = "allowed"
	OutcomeRequiresApproval Outcome = "requires_approval"
	OutcomeRejected         Outcome = "rejected"
)

type RejectKind string

const (
	RejectInvalidStage       RejectKind = "invalid_stage"
	RejectForbidden          RejectKind = "forbidden"
	RejectReasonRequired     RejectKind = "reason_required"
	RejectTooEarly           RejectKind = "too_early"
	RejectThresholdViolation RejectKind = "threshold_violation"
	RejectValidationFailed   RejectKind = "validation_failed"
	RejectSkippedStage       RejectKind = "skipped_stage"
)

type Actor struct {
	Subject string
	Email   string
	Roles   []string
}

// Entity is the locked snapshot of a pipeline entry or production workflow.
type Entity struct {
	Kind           domain.EntityKind
	ID             string
	Name           string
	Category       string
	ValueCents     int64
	CurrentStage   string
	StageEnteredAt time.Time
	Flags          domain.Flags
	Metadata       domain.Metadata
}

// Input carries everything one evaluation needs. Rules must already be
// scoped to (tenant, workflow, from, to) and active; validations to their
// stage and direction.
type Input struct {
	Workflow         domain.Workflow
	Entity           Entity
	TargetStage      string
	Stages           []domain.Stage
	Rules            []domain.TransitionRule
	ExitValidations  []domain.StageValidation
	EnterValidations []domain.StageValidation
	Actor            Actor
	Reason           string
	Now              time.Time
	// SkipApprovalGate is set when an approved request re-runs the
	// evaluation; every other check still applies.
	SkipApprovalGate bool
}

type Decision struct {
	Outcome    Outcome
	RejectKind RejectKind
	Message    string
	RuleID     string
	IsBackward bool
}

func rejected(kind RejectKind, message string) Decision {
	return Decision{Outcome: OutcomeRejected, RejectKind: kind, Message: message}
}

// Evaluate decides one proposed transition. Checks run in a fixed order and
// the first failure wins: stage resolution, production ordering, the built-in
// document gate, each applicable rule (roles, reason, dwell, thresholds),
// exit then enter validations, and finally the approval gate.
func Evaluate(in Input) Decision {
	current, ok := findStage(in.Stages, in.Entity.CurrentStage)
	if !ok {
		return rejected(RejectInvalidStage, fmt.Sprintf("stage %q is not in the %s catalog", in.Entity.CurrentStage, in.Workflow))
	}
	target, ok := findStage(in.Stages, in.TargetStage)
	if !ok {
		return rejected(RejectInvalidStage, fmt.Sprintf("stage %q is not in the %s catalog", in.TargetStage, in.Workflow))
	}
	if current.Key == target.Key {
		return rejected(RejectInvalidStage, fmt.Sprintf("entity is already in stage %q", current.Key))
	}
	if current.Terminal {
		return rejected(RejectInvalidStage, fmt.Sprintf("stage %q is terminal", current.Key))
	}

	isBackward := target.Ord < current.Ord
	if in.Workflow == domain.WorkflowProduction && target.Ord > current.Ord+1 {
		return rejected(RejectSkippedStage, fmt.Sprintf("cannot skip from %q (order %d) to %q (order %d)", current.Key, current.Ord, target.Key, target.Ord))
	}

	if in.Workflow == domain.WorkflowProduction && current.Key == domain.StageSubmitDocuments {
		for _, flag := range domain.SubmitDocumentsExitFlags {
			if !in.Entity.Flags.Has(flag) {
				d := rejected(RejectValidationFailed, fmt.Sprintf("flag %q must be set before leaving %s", flag, current.Key))
				d.IsBackward = isBackward
				return d
			}
		}
	}

	pctx := predicateContext(in)
	requiresApproval := ""
	for _, rule := range in.Rules {
		if !rule.AppliesTo(pctx) {
			continue
		}
		if d, failed := checkRule(in, rule); failed {
			d.IsBackward = isBackward
			return d
		}
		if rule.RequiresApproval && requiresApproval == "" {
			requiresApproval = rule.RuleID
		}
	}

	for _, v := range in.ExitValidations {
		if d, failed := checkValidation(in, pctx, v); failed {
			d.IsBackward = isBackward
			return d
		}
	}
	for _, v := range in.EnterValidations {
		if d, failed := checkValidation(in, pctx, v); failed {
			d.IsBackward = isBackward
			return d
		}
	}

	if requiresApproval != "" && !in.SkipApprovalGate {
		return Decision{
			Outcome:    OutcomeRequiresApproval,
			Message:    fmt.Sprintf("transition %s to %s requires approval", current.Key, target.Key),
			RuleID:     requiresApproval,
			IsBackward: isBackward,
		}
	}
	return Decision{Outcome: OutcomeAllowed, IsBackward: isBackward}
}

func findStage(stages []domain.Stage, key string) (domain.Stage, bool) {
	for _, s := range stages {
		if s.Key == key {
			return s, true
		}
	}
	return domain.Stage{}, false
}

func predicateContext(in Input) predicate.Context {
	return predicate.Context{
		Actor: predicate.Actor{
			Subject: in.Actor.Subject,
			Email:   in.Actor.Email,
			Roles:   in.Actor.Roles,
		},
		Entity: predicate.Entity{
			ID:          in.Entity.ID,
			Name:        in.Entity.Name,
			Category:    in.Entity.Category,
			Stage:       in.Entity.CurrentStage,
			TargetStage: in.TargetStage,
			ValueCents:  in.Entity.ValueCents,
		},
		Flags:    in.Entity.Flags,
		Metadata: in.Entity.Metadata,
	}
}

func checkRule(in Input, rule domain.TransitionRule) (Decision, bool) {
	if missing := missingRoles(in.Actor.Roles, rule.RequiredRoles); len(missing) > 0 {
		d := rejected(RejectForbidden, fmt.Sprintf("transition requires role %q", strings.Join(missing, ", ")))
		d.RuleID = rule.RuleID
		return d, true
	}
	if rule.RequiresReason && strings.TrimSpace(in.Reason) == "" {
		d := rejected(RejectReasonRequired, "a reason is required for this transition")
		d.RuleID = rule.RuleID
		return d, true
	}
	if rule.MinDwellSeconds > 0 {
		dwell := in.Now.Sub(in.Entity.StageEnteredAt)
		min := time.Duration(rule.MinDwellSeconds) * time.Second
		if dwell < min {
			d := rejected(RejectTooEarly, fmt.Sprintf("entity must stay in %q for at least %s", in.Entity.CurrentStage, min))
			d.RuleID = rule.RuleID
			return d, true
		}
	}
	if rule.MinValueCents != nil && in.Entity.ValueCents < *rule.MinValueCents {
		d := rejected(RejectThresholdViolation, fmt.Sprintf("value %d below minimum %d", in.Entity.ValueCents, *rule.MinValueCents))
		d.RuleID = rule.RuleID
		return d, true
	}
	if rule.MaxValueCents != nil && in.Entity.ValueCents > *rule.MaxValueCents {
		d := rejected(RejectThresholdViolation, fmt.Sprintf("value %d above maximum %d", in.Entity.ValueCents, *rule.MaxValueCents))
		d.RuleID = rule.RuleID
		return d, true
	}
	return Decision{}, false
}

func missingRoles(held, required []string) []string {
	var missing []string
	for _, want := range required {
		found := false
		for _, have := range held {
			if strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want)) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return missing
}

func checkValidation(in Input, pctx predicate.Context, v domain.StageValidation) (Decision, bool) {
	if !v.Active {
		return Decision{}, false
	}
	switch v.Kind {
	case domain.ValidationDocumentRequired:
		kind, err := v.DocumentKind()
		if err != nil {
			return rejected(RejectValidationFailed, v.Message()), true
		}
		if !in.Entity.Flags.Has(domain.DocumentFlag(kind)) {
			return rejected(RejectValidationFailed, v.Message()), true
		}
	case domain.ValidationFieldRequired:
		field, err := v.FieldPath()
		if err != nil {
			return rejected(RejectValidationFailed, v.Message()), true
		}
		if _, ok := predicate.Resolve(pctx, field); !ok {
			return rejected(RejectValidationFailed, v.Message()), true
		}
	case domain.ValidationMinDwell:
		min, err := v.MinDwell()
		if err != nil {
			return rejected(RejectValidationFailed, v.Message()), true
		}
		if in.Now.Sub(in.Entity.StageEnteredAt) < min {
			return rejected(RejectValidationFailed, v.Message()), true
		}
	case domain.ValidationDependency:
		flag, err := v.DependencyFlag()
		if err != nil {
			return rejected(RejectValidationFailed, v.Message()), true
		}
		if !in.Entity.Flags.Has(flag) {
			return rejected(RejectValidationFailed, v.Message()), true
		}
	}
	return Decision{}, false
}
