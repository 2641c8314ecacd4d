package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type ValidationStore struct {
	db DB
}

const (
	insertValidationQuery = `INSERT INTO stage_validations (
		validation_id,
		tenant_id,
		workflow,
		stage_key,
		direction,
		kind,
		config,
		error_message,
		active,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	selectValidationColumns = `validation_id, tenant_id, workflow, stage_key, direction, kind,
	 config, error_message, active, created_at`

	selectValidationQuery = `SELECT ` + selectValidationColumns + `
	 FROM stage_validations
	 WHERE tenant_id = $1 AND validation_id = $2`

	findValidationsQuery = `SELECT ` + selectValidationColumns + `
	 FROM stage_validations
	 WHERE tenant_id = $1 AND workflow = $2 AND stage_key = $3 AND direction = $4 AND active
	 ORDER BY created_at ASC`

	deactivateValidationQuery = `UPDATE stage_validations
	 SET active = FALSE
	 WHERE tenant_id = $1 AND validation_id = $2 AND active`

	deactivateAllValidationsQuery = `UPDATE stage_validations
	 SET active = FALSE
	 WHERE tenant_id = $1 AND active`
)

func NewValidationStore(db DB) *ValidationStore {
	if db == nil {
		return nil
	}
	return &ValidationStore{db: db}
}

func (s *ValidationStore) Create(ctx context.Context, v domain.StageValidation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("validation store not initialized")
	}
	if err := v.Validate(); err != nil {
		return err
	}
	configJSON, err := encodeMetadata(v.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertValidationQuery,
		strings.TrimSpace(v.ValidationID),
		strings.TrimSpace(v.TenantID),
		string(v.Workflow),
		strings.TrimSpace(v.StageKey),
		string(v.Direction),
		string(v.Kind),
		configJSON,
		strings.TrimSpace(v.ErrorMessage),
		v.Active,
		normalizeTime(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

func (s *ValidationStore) Get(ctx context.Context, tenantID, id string) (domain.StageValidation, error) {
	if s == nil || s.db == nil {
		return domain.StageValidation{}, fmt.Errorf("validation store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.StageValidation{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.StageValidation{}, fmt.Errorf("validation id is required")
	}
	row := s.db.QueryRowContext(ctx, selectValidationQuery, tenantID, id)
	v, err := scanValidation(row)
	if err != nil {
		return domain.StageValidation{}, handleNotFound(err)
	}
	return v, nil
}

func (s *ValidationStore) List(ctx context.Context, tenantID string, filter repo.ValidationFilter) ([]domain.StageValidation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("validation store not initialized")
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
	if strings.TrimSpace(filter.StageKey) != "" {
		args = append(args, strings.TrimSpace(filter.StageKey))
		clauses = append(clauses, fmt.Sprintf("stage_key = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}

	query := `SELECT ` + selectValidationColumns + ` FROM stage_validations WHERE ` +
		strings.Join(clauses, " AND ") + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StageValidation, 0)
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	return out, nil
}

func (s *ValidationStore) FindValidations(ctx context.Context, tenantID string, workflow domain.Workflow, stageKey string, direction domain.ValidationDirection) ([]domain.StageValidation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("validation store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	stageKey = strings.TrimSpace(stageKey)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if !workflow.Valid() {
		return nil, fmt.Errorf("invalid workflow")
	}
	if stageKey == "" {
		return nil, fmt.Errorf("stage key is required")
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid validation direction")
	}

	rows, err := s.db.QueryContext(ctx, findValidationsQuery, tenantID, string(workflow), stageKey, string(direction))
	if err != nil {
		return nil, fmt.Errorf("find validations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StageValidation, 0)
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find validations: %w", err)
	}
	return out, nil
}

func (s *ValidationStore) Deactivate(ctx context.Context, tenantID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("validation store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return fmt.Errorf("validation id is required")
	}
	res, err := s.db.ExecContext(ctx, deactivateValidationQuery, tenantID, id)
	if err != nil {
		return fmt.Errorf("deactivate validation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate validation: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// DeactivateAll retires every active validation for the tenant ahead of a
// seed replace.
func (s *ValidationStore) DeactivateAll(ctx context.Context, tenantID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("validation store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("tenant id is required")
	}
	res, err := s.db.ExecContext(ctx, deactivateAllValidationsQuery, tenantID)
	if err != nil {
		return 0, fmt.Errorf("deactivate validations: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate validations: %w", err)
	}
	return rows, nil
}

func scanValidation(row rowScanner) (domain.StageValidation, error) {
	var (
		v          domain.StageValidation
		configJSON []byte
	)
	if err := row.Scan(
		&v.ValidationID,
		&v.TenantID,
		&v.Workflow,
		&v.StageKey,
		&v.Direction,
		&v.Kind,
		&configJSON,
		&v.ErrorMessage,
		&v.Active,
		&v.CreatedAt,
	); err != nil {
		return domain.StageValidation{}, err
	}
	config, err := decodeMetadata(configJSON)
	if err != nil {
		return domain.StageValidation{}, fmt.Errorf("decode config: %w", err)
	}
	v.Config = config
	return v, nil
}
