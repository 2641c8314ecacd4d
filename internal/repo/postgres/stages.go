package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
)

type StageStore struct {
	db DB
}

const (
	upsertStageQuery = `INSERT INTO stages (
		tenant_id,
		workflow,
		stage_key,
		name,
		ord,
		is_terminal
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (tenant_id, workflow, stage_key)
	DO UPDATE SET name = EXCLUDED.name, ord = EXCLUDED.ord, is_terminal = EXCLUDED.is_terminal`

	selectStagesQuery = `SELECT tenant_id, workflow, stage_key, name, ord, is_terminal, created_at
	 FROM stages
	 WHERE tenant_id = $1 AND workflow = $2
	 ORDER BY ord ASC`

	selectStageQuery = `SELECT tenant_id, workflow, stage_key, name, ord, is_terminal, created_at
	 FROM stages
	 WHERE tenant_id = $1 AND workflow = $2 AND stage_key = $3`
)

func NewStageStore(db DB) *StageStore {
	if db == nil {
		return nil
	}
	return &StageStore{db: db}
}

func (s *StageStore) Upsert(ctx context.Context, stage domain.Stage) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage store not initialized")
	}
	if err := stage.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertStageQuery,
		strings.TrimSpace(stage.TenantID),
		string(stage.Workflow),
		strings.TrimSpace(stage.Key),
		strings.TrimSpace(stage.Name),
		stage.Ord,
		stage.Terminal,
	)
	if err != nil {
		return fmt.Errorf("upsert stage: %w", err)
	}
	return nil
}

func (s *StageStore) List(ctx context.Context, tenantID string, workflow domain.Workflow) ([]domain.Stage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if !workflow.Valid() {
		return nil, fmt.Errorf("invalid workflow")
	}

	rows, err := s.db.QueryContext(ctx, selectStagesQuery, tenantID, string(workflow))
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	stages := make([]domain.Stage, 0)
	for rows.Next() {
		var st domain.Stage
		if err := rows.Scan(&st.TenantID, &st.Workflow, &st.Key, &st.Name, &st.Ord, &st.Terminal, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return stages, nil
}

func (s *StageStore) Get(ctx context.Context, tenantID string, workflow domain.Workflow, key string) (domain.Stage, error) {
	if s == nil || s.db == nil {
		return domain.Stage{}, fmt.Errorf("stage store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	key = strings.TrimSpace(key)
	if tenantID == "" {
		return domain.Stage{}, fmt.Errorf("tenant id is required")
	}
	if !workflow.Valid() {
		return domain.Stage{}, fmt.Errorf("invalid workflow")
	}
	if key == "" {
		return domain.Stage{}, fmt.Errorf("stage key is required")
	}

	var st domain.Stage
	row := s.db.QueryRowContext(ctx, selectStageQuery, tenantID, string(workflow), key)
	if err := row.Scan(&st.TenantID, &st.Workflow, &st.Key, &st.Name, &st.Ord, &st.Terminal, &st.CreatedAt); err != nil {
		return domain.Stage{}, handleNotFound(err)
	}
	return st, nil
}
