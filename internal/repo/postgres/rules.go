package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/platform/predicate"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type RuleStore struct {
	db DB
}

const (
	insertRuleQuery = `INSERT INTO transition_rules (
		rule_id,
		tenant_id,
		workflow,
		from_stage,
		to_stage,
		required_roles,
		requires_approval,
		requires_reason,
		min_dwell_seconds,
		min_value_cents,
		max_value_cents,
		category_filter,
		conditions,
		active,
		created_at,
		created_by,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	selectRuleColumns = `rule_id, tenant_id, workflow, from_stage, to_stage, required_roles,
	 requires_approval, requires_reason, min_dwell_seconds, min_value_cents, max_value_cents,
	 category_filter, conditions, active, created_at, created_by, updated_at`

	selectRuleQuery = `SELECT ` + selectRuleColumns + `
	 FROM transition_rules
	 WHERE tenant_id = $1 AND rule_id = $2`

	findRulesQuery = `SELECT ` + selectRuleColumns + `
	 FROM transition_rules
	 WHERE tenant_id = $1 AND workflow = $2 AND from_stage = $3 AND to_stage = $4 AND active
	 ORDER BY created_at ASC`

	deactivateRuleQuery = `UPDATE transition_rules
	 SET active = FALSE, updated_at = NOW()
	 WHERE tenant_id = $1 AND rule_id = $2 AND active`

	deactivateAllRulesQuery = `UPDATE transition_rules
	 SET active = FALSE, updated_at = NOW()
	 WHERE tenant_id = $1 AND active`
)

func NewRuleStore(db DB) *RuleStore {
	if db == nil {
		return nil
	}
	return &RuleStore{db: db}
}

func (s *RuleStore) Create(ctx context.Context, rule domain.TransitionRule) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("rule store not initialized")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rolesJSON, err := encodeStrings(rule.RequiredRoles)
	if err != nil {
		return fmt.Errorf("encode required roles: %w", err)
	}
	categoriesJSON, err := encodeStrings(rule.CategoryFilter)
	if err != nil {
		return fmt.Errorf("encode category filter: %w", err)
	}
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	createdAt := normalizeTime(rule.CreatedAt)
	updatedAt := normalizeTime(rule.UpdatedAt)

	_, err = s.db.ExecContext(
		ctx,
		insertRuleQuery,
		strings.TrimSpace(rule.RuleID),
		strings.TrimSpace(rule.TenantID),
		string(rule.Workflow),
		strings.TrimSpace(rule.FromStage),
		strings.TrimSpace(rule.ToStage),
		rolesJSON,
		rule.RequiresApproval,
		rule.RequiresReason,
		rule.MinDwellSeconds,
		nullInt64(rule.MinValueCents),
		nullInt64(rule.MaxValueCents),
		categoriesJSON,
		conditionsJSON,
		rule.Active,
		createdAt,
		strings.TrimSpace(rule.CreatedBy),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *RuleStore) Get(ctx context.Context, tenantID, id string) (domain.TransitionRule, error) {
	if s == nil || s.db == nil {
		return domain.TransitionRule{}, fmt.Errorf("rule store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.TransitionRule{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.TransitionRule{}, fmt.Errorf("rule id is required")
	}
	row := s.db.QueryRowContext(ctx, selectRuleQuery, tenantID, id)
	rule, err := scanRule(row)
	if err != nil {
		return domain.TransitionRule{}, handleNotFound(err)
	}
	return rule, nil
}

func (s *RuleStore) List(ctx context.Context, tenantID string, filter repo.RuleFilter) ([]domain.TransitionRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("rule store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	args := []any{tenantID}
	clauses := []string{"tenant_id = $1"}
	if filter.Workflow != "" {
		args = append(args, string(filter.Workflow))
		clauses = append(clauses, fmt.Sprintf("workflow = $%d", len(args)))
	}
	if strings.TrimSpace(filter.FromStage) != "" {
		args = append(args, strings.TrimSpace(filter.FromStage))
		clauses = append(clauses, fmt.Sprintf("from_stage = $%d", len(args)))
	}
	if strings.TrimSpace(filter.ToStage) != "" {
		args = append(args, strings.TrimSpace(filter.ToStage))
		clauses = append(clauses, fmt.Sprintf("to_stage = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}

	query := `SELECT ` + selectRuleColumns + ` FROM transition_rules WHERE ` +
		strings.Join(clauses, " AND ") + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.TransitionRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

func (s *RuleStore) FindRules(ctx context.Context, tenantID string, workflow domain.Workflow, fromStage, toStage string) ([]domain.TransitionRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("rule store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	fromStage = strings.TrimSpace(fromStage)
	toStage = strings.TrimSpace(toStage)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if !workflow.Valid() {
		return nil, fmt.Errorf("invalid workflow")
	}
	if fromStage == "" || toStage == "" {
		return nil, fmt.Errorf("from and to stages are required")
	}

	rows, err := s.db.QueryContext(ctx, findRulesQuery, tenantID, string(workflow), fromStage, toStage)
	if err != nil {
		return nil, fmt.Errorf("find rules: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.TransitionRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find rules: %w", err)
	}
	return rules, nil
}

func (s *RuleStore) Deactivate(ctx context.Context, tenantID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("rule store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return fmt.Errorf("rule id is required")
	}
	res, err := s.db.ExecContext(ctx, deactivateRuleQuery, tenantID, id)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// DeactivateAll retires every active rule for the tenant. Seeding uses it to
// replace a tenant's rule set while keeping the old rows for history.
func (s *RuleStore) DeactivateAll(ctx context.Context, tenantID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("rule store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("tenant id is required")
	}
	res, err := s.db.ExecContext(ctx, deactivateAllRulesQuery, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deactivate rules: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate rules: %w", err)
	}
	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (domain.TransitionRule, error) {
	var (
		rule           domain.TransitionRule
		rolesJSON      []byte
		categoriesJSON []byte
		conditionsJSON []byte
		minValue       sql.NullInt64
		maxValue       sql.NullInt64
	)
	if err := row.Scan(
		&rule.RuleID,
		&rule.TenantID,
		&rule.Workflow,
		&rule.FromStage,
		&rule.ToStage,
		&rolesJSON,
		&rule.RequiresApproval,
		&rule.RequiresReason,
		&rule.MinDwellSeconds,
		&minValue,
		&maxValue,
		&categoriesJSON,
		&conditionsJSON,
		&rule.Active,
		&rule.CreatedAt,
		&rule.CreatedBy,
		&rule.UpdatedAt,
	); err != nil {
		return domain.TransitionRule{}, err
	}

	roles, err := decodeStrings(rolesJSON)
	if err != nil {
		return domain.TransitionRule{}, fmt.Errorf("decode required roles: %w", err)
	}
	categories, err := decodeStrings(categoriesJSON)
	if err != nil {
		return domain.TransitionRule{}, fmt.Errorf("decode category filter: %w", err)
	}
	var conditions predicate.Group
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &conditions); err != nil {
			return domain.TransitionRule{}, fmt.Errorf("decode conditions: %w", err)
		}
	}

	rule.RequiredRoles = roles
	rule.CategoryFilter = categories
	rule.Conditions = conditions
	rule.MinValueCents = int64Ptr(minValue)
	rule.MaxValueCents = int64Ptr(maxValue)
	return rule, nil
}
