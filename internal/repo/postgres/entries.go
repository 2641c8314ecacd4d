package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type EntryStore struct {
	db DB
}

const (
	selectEntryColumns = `entry_id, tenant_id, name, category, value_cents, current_stage,
	 stage_entered_at, flags, metadata, created_at, created_by, updated_at`

	selectEntryQuery = `SELECT ` + selectEntryColumns + `
	 FROM pipeline_entries
	 WHERE tenant_id = $1 AND entry_id = $2`

	selectEntryForUpdateQuery = selectEntryQuery + `
	 FOR UPDATE`

	insertEntryQuery = `INSERT INTO pipeline_entries (
		entry_id,
		tenant_id,
		name,
		category,
		value_cents,
		current_stage,
		stage_entered_at,
		flags,
		metadata,
		created_at,
		created_by,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	updateEntryStageQuery = `UPDATE pipeline_entries
	 SET current_stage = $3, stage_entered_at = $4, updated_at = $4
	 WHERE tenant_id = $1 AND entry_id = $2`

	setEntryFlagQuery = `UPDATE pipeline_entries
	 SET flags = flags || jsonb_build_object($3::text, $4::boolean), updated_at = NOW()
	 WHERE tenant_id = $1 AND entry_id = $2`
)

func NewEntryStore(db DB) *EntryStore {
	if db == nil {
		return nil
	}
	return &EntryStore{db: db}
}

func (s *EntryStore) Create(ctx context.Context, entry domain.PipelineEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("entry store not initialized")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	flagsJSON, err := encodeFlags(entry.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	metadataJSON, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	createdAt := normalizeTime(entry.CreatedAt)

	_, err = s.db.ExecContext(
		ctx,
		insertEntryQuery,
		strings.TrimSpace(entry.EntryID),
		strings.TrimSpace(entry.TenantID),
		strings.TrimSpace(entry.Name),
		strings.TrimSpace(entry.Category),
		entry.ValueCents,
		strings.TrimSpace(entry.CurrentStage),
		normalizeTime(entry.StageEnteredAt),
		flagsJSON,
		metadataJSON,
		createdAt,
		strings.TrimSpace(entry.CreatedBy),
		normalizeTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// GetForUpdate locks the entry row for the caller's transaction.
func (s *EntryStore) GetForUpdate(ctx context.Context, tenantID, id string) (domain.PipelineEntry, error) {
	if s == nil || s.db == nil {
		return domain.PipelineEntry{}, fmt.Errorf("entry store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.PipelineEntry{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.PipelineEntry{}, fmt.Errorf("entry id is required")
	}
	row := s.db.QueryRowContext(ctx, selectEntryForUpdateQuery, tenantID, id)
	entry, err := scanEntry(row)
	if err != nil {
		return domain.PipelineEntry{}, handleNotFound(err)
	}
	return entry, nil
}

// UpdateStage moves the entry and resets its dwell clock.
func (s *EntryStore) UpdateStage(ctx context.Context, tenantID, id, stage string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("entry store not initialized")
	}
	res, err := s.db.ExecContext(ctx, updateEntryStageQuery,
		strings.TrimSpace(tenantID), strings.TrimSpace(id), strings.TrimSpace(stage), normalizeTime(at))
	if err != nil {
		return fmt.Errorf("update entry stage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry stage: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// SetFlag merges one boolean flag into the entry's flag map.
func (s *EntryStore) SetFlag(ctx context.Context, tenantID, id, flag string, value bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("entry store not initialized")
	}
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return fmt.Errorf("flag name is required")
	}
	res, err := s.db.ExecContext(ctx, setEntryFlagQuery,
		strings.TrimSpace(tenantID), strings.TrimSpace(id), flag, value)
	if err != nil {
		return fmt.Errorf("set entry flag: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set entry flag: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *EntryStore) Get(ctx context.Context, tenantID, id string) (domain.PipelineEntry, error) {
	if s == nil || s.db == nil {
		return domain.PipelineEntry{}, fmt.Errorf("entry store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.PipelineEntry{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.PipelineEntry{}, fmt.Errorf("entry id is required")
	}
	row := s.db.QueryRowContext(ctx, selectEntryQuery, tenantID, id)
	entry, err := scanEntry(row)
	if err != nil {
		return domain.PipelineEntry{}, handleNotFound(err)
	}
	return entry, nil
}

func (s *EntryStore) List(ctx context.Context, tenantID string, filter repo.EntryFilter) ([]domain.PipelineEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("entry store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	args := []any{tenantID}
	clauses := []string{"tenant_id = $1"}
	if strings.TrimSpace(filter.Category) != "" {
		args = append(args, strings.TrimSpace(filter.Category))
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Stage) != "" {
		args = append(args, strings.TrimSpace(filter.Stage))
		clauses = append(clauses, fmt.Sprintf("current_stage = $%d", len(args)))
	}

	query := `SELECT ` + selectEntryColumns + ` FROM pipeline_entries WHERE ` +
		strings.Join(clauses, " AND ") + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.PipelineEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (domain.PipelineEntry, error) {
	var (
		entry        domain.PipelineEntry
		flagsJSON    []byte
		metadataJSON []byte
	)
	if err := row.Scan(
		&entry.EntryID,
		&entry.TenantID,
		&entry.Name,
		&entry.Category,
		&entry.ValueCents,
		&entry.CurrentStage,
		&entry.StageEnteredAt,
		&flagsJSON,
		&metadataJSON,
		&entry.CreatedAt,
		&entry.CreatedBy,
		&entry.UpdatedAt,
	); err != nil {
		return domain.PipelineEntry{}, err
	}
	flags, err := decodeFlags(flagsJSON)
	if err != nil {
		return domain.PipelineEntry{}, fmt.Errorf("decode flags: %w", err)
	}
	meta, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.PipelineEntry{}, fmt.Errorf("decode metadata: %w", err)
	}
	entry.Flags = flags
	entry.Metadata = meta
	return entry, nil
}
