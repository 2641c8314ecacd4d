package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type ProductionStore struct {
	db DB
}

const (
	selectWorkflowColumns = `workflow_id, tenant_id, entry_id, project_id, current_stage,
	 stage_entered_at, flags, metadata, created_at, created_by, updated_at`

	selectWorkflowQuery = `SELECT ` + selectWorkflowColumns + `
	 FROM production_workflows
	 WHERE tenant_id = $1 AND workflow_id = $2`

	selectWorkflowByEntryQuery = `SELECT ` + selectWorkflowColumns + `
	 FROM production_workflows
	 WHERE tenant_id = $1 AND entry_id = $2`

	selectWorkflowForUpdateQuery = selectWorkflowQuery + `
	 FOR UPDATE`

	updateWorkflowStageQuery = `UPDATE production_workflows
	 SET current_stage = $3, stage_entered_at = $4, updated_at = $4
	 WHERE tenant_id = $1 AND workflow_id = $2`

	setWorkflowFlagByEntryQuery = `UPDATE production_workflows
	 SET flags = flags || jsonb_build_object($3::text, $4::boolean), updated_at = NOW()
	 WHERE tenant_id = $1 AND entry_id = $2`

	insertProjectQuery = `INSERT INTO projects (
		project_id, tenant_id, entry_id, name, created_at, created_by, integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (entry_id) DO NOTHING`

	selectProjectIDByEntryQuery = `SELECT project_id FROM projects
	 WHERE tenant_id = $1 AND entry_id = $2`

	insertWorkflowQuery = `INSERT INTO production_workflows (
		workflow_id, tenant_id, entry_id, project_id, current_stage,
		stage_entered_at, flags, metadata, created_at, created_by, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (entry_id) DO NOTHING`
)

func NewProductionStore(db DB) *ProductionStore {
	if db == nil {
		return nil
	}
	return &ProductionStore{db: db}
}

func (s *ProductionStore) Get(ctx context.Context, tenantID, id string) (domain.ProductionWorkflow, error) {
	if s == nil || s.db == nil {
		return domain.ProductionWorkflow{}, fmt.Errorf("production store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.ProductionWorkflow{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.ProductionWorkflow{}, fmt.Errorf("workflow id is required")
	}
	row := s.db.QueryRowContext(ctx, selectWorkflowQuery, tenantID, id)
	w, err := scanWorkflow(row)
	if err != nil {
		return domain.ProductionWorkflow{}, handleNotFound(err)
	}
	return w, nil
}

func (s *ProductionStore) GetByEntry(ctx context.Context, tenantID, entryID string) (domain.ProductionWorkflow, error) {
	if s == nil || s.db == nil {
		return domain.ProductionWorkflow{}, fmt.Errorf("production store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	entryID = strings.TrimSpace(entryID)
	if tenantID == "" {
		return domain.ProductionWorkflow{}, fmt.Errorf("tenant id is required")
	}
	if entryID == "" {
		return domain.ProductionWorkflow{}, fmt.Errorf("entry id is required")
	}
	row := s.db.QueryRowContext(ctx, selectWorkflowByEntryQuery, tenantID, entryID)
	w, err := scanWorkflow(row)
	if err != nil {
		return domain.ProductionWorkflow{}, handleNotFound(err)
	}
	return w, nil
}

func (s *ProductionStore) List(ctx context.Context, tenantID string, filter repo.WorkflowFilter) ([]domain.ProductionWorkflow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("production store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	args := []any{tenantID}
	clauses := []string{"tenant_id = $1"}
	if strings.TrimSpace(filter.EntryID) != "" {
		args = append(args, strings.TrimSpace(filter.EntryID))
		clauses = append(clauses, fmt.Sprintf("entry_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Stage) != "" {
		args = append(args, strings.TrimSpace(filter.Stage))
		clauses = append(clauses, fmt.Sprintf("current_stage = $%d", len(args)))
	}

	query := `SELECT ` + selectWorkflowColumns + ` FROM production_workflows WHERE ` +
		strings.Join(clauses, " AND ") + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list production workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]domain.ProductionWorkflow, 0)
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan production workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list production workflows: %w", err)
	}
	return workflows, nil
}

// GetForUpdate locks the workflow row for the caller's transaction.
func (s *ProductionStore) GetForUpdate(ctx context.Context, tenantID, id string) (domain.ProductionWorkflow, error) {
	if s == nil || s.db == nil {
		return domain.ProductionWorkflow{}, fmt.Errorf("production store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.ProductionWorkflow{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.ProductionWorkflow{}, fmt.Errorf("workflow id is required")
	}
	row := s.db.QueryRowContext(ctx, selectWorkflowForUpdateQuery, tenantID, id)
	w, err := scanWorkflow(row)
	if err != nil {
		return domain.ProductionWorkflow{}, handleNotFound(err)
	}
	return w, nil
}

// UpdateStage moves the workflow and resets its dwell clock.
func (s *ProductionStore) UpdateStage(ctx context.Context, tenantID, id, stage string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("production store not initialized")
	}
	res, err := s.db.ExecContext(ctx, updateWorkflowStageQuery,
		strings.TrimSpace(tenantID), strings.TrimSpace(id), strings.TrimSpace(stage), normalizeTime(at))
	if err != nil {
		return fmt.Errorf("update workflow stage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow stage: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// SetFlagByEntry merges one boolean flag into the workflow owned by the
// entry. Entries that have not been provisioned yet have no workflow; that
// is not an error.
func (s *ProductionStore) SetFlagByEntry(ctx context.Context, tenantID, entryID, flag string, value bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("production store not initialized")
	}
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return fmt.Errorf("flag name is required")
	}
	_, err := s.db.ExecContext(ctx, setWorkflowFlagByEntryQuery,
		strings.TrimSpace(tenantID), strings.TrimSpace(entryID), flag, value)
	if err != nil {
		return fmt.Errorf("set workflow flag: %w", err)
	}
	return nil
}

// Provision inserts the project and production workflow for an entry. Both
// inserts ride ON CONFLICT (entry_id) DO NOTHING, so a replayed transition
// into the project stage is a no-op; the returned bool reports whether this
// call created the workflow.
func (s *ProductionStore) Provision(ctx context.Context, project domain.Project, w domain.ProductionWorkflow) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("production store not initialized")
	}
	if err := project.Validate(); err != nil {
		return false, err
	}
	if err := w.Validate(); err != nil {
		return false, err
	}

	integrity, err := projectIntegrity(project)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(
		ctx,
		insertProjectQuery,
		strings.TrimSpace(project.ProjectID),
		strings.TrimSpace(project.TenantID),
		strings.TrimSpace(project.EntryID),
		strings.TrimSpace(project.Name),
		normalizeTime(project.CreatedAt),
		strings.TrimSpace(project.CreatedBy),
		integrity,
	)
	if err != nil {
		return false, fmt.Errorf("insert project: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert project: %w", err)
	}

	projectID := strings.TrimSpace(project.ProjectID)
	if inserted == 0 {
		row := s.db.QueryRowContext(ctx, selectProjectIDByEntryQuery,
			strings.TrimSpace(project.TenantID), strings.TrimSpace(project.EntryID))
		if err := row.Scan(&projectID); err != nil {
			return false, fmt.Errorf("load existing project: %w", err)
		}
	}

	flagsJSON, err := encodeFlags(w.Flags)
	if err != nil {
		return false, fmt.Errorf("encode flags: %w", err)
	}
	metadataJSON, err := encodeMetadata(w.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	res, err = s.db.ExecContext(
		ctx,
		insertWorkflowQuery,
		strings.TrimSpace(w.WorkflowID),
		strings.TrimSpace(w.TenantID),
		strings.TrimSpace(w.EntryID),
		projectID,
		strings.TrimSpace(w.CurrentStage),
		normalizeTime(w.StageEnteredAt),
		flagsJSON,
		metadataJSON,
		normalizeTime(w.CreatedAt),
		strings.TrimSpace(w.CreatedBy),
		normalizeTime(w.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert production workflow: %w", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert production workflow: %w", err)
	}
	return created > 0, nil
}

func projectIntegrity(p domain.Project) (string, error) {
	input := struct {
		ProjectID string `json:"project_id"`
		TenantID  string `json:"tenant_id"`
		EntryID   string `json:"entry_id"`
		Name      string `json:"name"`
		CreatedAt string `json:"created_at"`
		CreatedBy string `json:"created_by"`
	}{
		ProjectID: strings.TrimSpace(p.ProjectID),
		TenantID:  strings.TrimSpace(p.TenantID),
		EntryID:   strings.TrimSpace(p.EntryID),
		Name:      strings.TrimSpace(p.Name),
		CreatedAt: normalizeTime(p.CreatedAt).Format(time.RFC3339Nano),
		CreatedBy: strings.TrimSpace(p.CreatedBy),
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal project integrity input: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func scanWorkflow(row rowScanner) (domain.ProductionWorkflow, error) {
	var (
		w            domain.ProductionWorkflow
		flagsJSON    []byte
		metadataJSON []byte
	)
	if err := row.Scan(
		&w.WorkflowID,
		&w.TenantID,
		&w.EntryID,
		&w.ProjectID,
		&w.CurrentStage,
		&w.StageEnteredAt,
		&flagsJSON,
		&metadataJSON,
		&w.CreatedAt,
		&w.CreatedBy,
		&w.UpdatedAt,
	); err != nil {
		return domain.ProductionWorkflow{}, err
	}
	flags, err := decodeFlags(flagsJSON)
	if err != nil {
		return domain.ProductionWorkflow{}, fmt.Errorf("decode flags: %w", err)
	}
	meta, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.ProductionWorkflow{}, fmt.Errorf("decode metadata: %w", err)
	}
	w.Flags = flags
	w.Metadata = meta
	return w, nil
}
