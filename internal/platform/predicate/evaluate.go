package predicate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Context carries the fields a condition may reference. Flags and Metadata
// come straight off the entity row; the evaluator never mutates them.
type Context struct {
	Actor    Actor
	Entity   Entity
	Flags    map[string]bool
	Metadata map[string]any
}

type Actor struct {
	Subject string
	Email   string
	Roles   []string
}

type Entity struct {
	ID          string
	Name        string
	Category    string
	Stage       string
	TargetStage string
	ValueCents  int64
}

// Matches evaluates the group against ctx: every All condition must hold
// and, when Any is non-empty, at least one Any condition must hold. A zero
// group matches.
func (g Group) Matches(ctx Context) bool {
	for _, cond := range g.All {
		if !cond.matches(ctx) {
			return false
		}
	}
	if len(g.Any) == 0 {
		return true
	}
	for _, cond := range g.Any {
		if cond.matches(ctx) {
			return true
		}
	}
	return false
}

func (c Condition) matches(ctx Context) bool {
	value, ok := resolveField(ctx, c.Field)
	op := strings.ToLower(strings.TrimSpace(c.Op))
	if op == "exists" {
		return ok
	}
	if !ok {
		return false
	}

	switch op {
	case "eq":
		return equalsFold(value, c.Value)
	case "neq":
		return !equalsFold(value, c.Value)
	case "in":
		return containsFold(c.Values, value)
	case "not_in":
		return !containsFold(c.Values, value)
	case "contains":
		return strings.Contains(strings.ToLower(value), strings.ToLower(strings.TrimSpace(c.Value)))
	case "not_contains":
		return !strings.Contains(strings.ToLower(value), strings.ToLower(strings.TrimSpace(c.Value)))
	case "matches":
		re, err := regexp.Compile(strings.TrimSpace(c.Value))
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case "gt", "gte", "lt", "lte":
		return compareNumeric(op, value, c.Value)
	default:
		return false
	}
}

// Resolve maps a dotted field path to its string form, reporting whether the
// field is set. Validation checks share this resolution with conditions.
func Resolve(ctx Context, field string) (string, bool) {
	return resolveField(ctx, field)
}

// resolveField maps a dotted field path to its string form. Roles resolve
// to a comma-joined list so contains/in work on individual role names.
func resolveField(ctx Context, field string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(field))
	switch key {
	case "actor.subject", "subject":
		return nonEmpty(ctx.Actor.Subject)
	case "actor.email", "email":
		return nonEmpty(ctx.Actor.Email)
	case "actor.roles", "roles", "role":
		if len(ctx.Actor.Roles) == 0 {
			return "", false
		}
		return strings.Join(ctx.Actor.Roles, ","), true
	case "entity.id", "entity_id", "entry_id":
		return nonEmpty(ctx.Entity.ID)
	case "entity.name", "name":
		return nonEmpty(ctx.Entity.Name)
	case "entity.category", "category":
		return nonEmpty(ctx.Entity.Category)
	case "entity.stage", "stage", "current_stage":
		return nonEmpty(ctx.Entity.Stage)
	case "entity.target_stage", "target_stage":
		return nonEmpty(ctx.Entity.TargetStage)
	case "entity.value_cents", "value_cents", "value":
		if ctx.Entity.ValueCents <= 0 {
			return "", false
		}
		return strconv.FormatInt(ctx.Entity.ValueCents, 10), true
	}

	if name, ok := strings.CutPrefix(key, "flags."); ok {
		v, present := ctx.Flags[name]
		if !present {
			return "", false
		}
		return strconv.FormatBool(v), true
	}
	if path, ok := strings.CutPrefix(key, "metadata."); ok {
		return resolveMetadata(ctx.Metadata, path)
	}
	return "", false
}

func resolveMetadata(meta map[string]any, path string) (string, bool) {
	if len(meta) == 0 {
		return "", false
	}
	parts := strings.Split(path, ".")
	var current any = meta
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = m[part]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case string:
		return nonEmpty(v)
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func equalsFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if equalsFold(v, target) {
			return true
		}
	}
	return false
}

// compareNumeric orders the two operands numerically when both parse,
// lexically otherwise.
func compareNumeric(op, left, right string) bool {
	lf, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
	rf, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)
	var cmp int
	if lerr == nil && rerr == nil {
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(strings.TrimSpace(left), strings.TrimSpace(right))
	}
	switch op {
	case "gt":
		return cmp > 0
	case "gte":
		return cmp >= 0
	case "lt":
		return cmp < 0
	case "lte":
		return cmp <= 0
	}
	return false
}
