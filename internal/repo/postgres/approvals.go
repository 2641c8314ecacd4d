package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type ApprovalStore struct {
	db DB
}

const (
	selectApprovalColumns = `approval_id, tenant_id, entity_kind, entity_id, from_stage, to_stage,
	 reason, requested_by, requested_at, status, decided_by, decided_at, notes, integrity_sha256`

	selectApprovalQuery = `SELECT ` + selectApprovalColumns + `
	 FROM approval_requests
	 WHERE tenant_id = $1 AND approval_id = $2`

	selectApprovalForUpdateQuery = selectApprovalQuery + `
	 FOR UPDATE`

	insertApprovalQuery = `INSERT INTO approval_requests (
		approval_id, tenant_id, entity_kind, entity_id, from_stage, to_stage,
		reason, requested_by, requested_at, status, integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending',$10)
	ON CONFLICT (tenant_id, entity_kind, entity_id) WHERE status = 'pending' DO NOTHING`

	selectPendingApprovalQuery = `SELECT ` + selectApprovalColumns + `
	 FROM approval_requests
	 WHERE tenant_id = $1 AND entity_kind = $2 AND entity_id = $3 AND status = 'pending'`

	resolveApprovalQuery = `UPDATE approval_requests
	 SET status = $3, decided_by = $4, decided_at = $5, notes = $6, integrity_sha256 = $7
	 WHERE tenant_id = $1 AND approval_id = $2 AND status = 'pending'`
)

func NewApprovalStore(db DB) *ApprovalStore {
	if db == nil {
		return nil
	}
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) Get(ctx context.Context, tenantID, id string) (domain.ApprovalRequest, error) {
	if s == nil || s.db == nil {
		return domain.ApprovalRequest{}, fmt.Errorf("approval store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.ApprovalRequest{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.ApprovalRequest{}, fmt.Errorf("approval id is required")
	}
	row := s.db.QueryRowContext(ctx, selectApprovalQuery, tenantID, id)
	a, err := scanApproval(row)
	if err != nil {
		return domain.ApprovalRequest{}, handleNotFound(err)
	}
	return a, nil
}

func (s *ApprovalStore) List(ctx context.Context, tenantID string, filter repo.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("approval store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	args := []any{tenantID}
	clauses := []string{"tenant_id = $1"}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("invalid approval status")
		}
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EntityKind != "" {
		if !filter.EntityKind.Valid() {
			return nil, fmt.Errorf("invalid entity kind")
		}
		args = append(args, string(filter.EntityKind))
		clauses = append(clauses, fmt.Sprintf("entity_kind = $%d", len(args)))
	}
	if strings.TrimSpace(filter.EntityID) != "" {
		args = append(args, strings.TrimSpace(filter.EntityID))
		clauses = append(clauses, fmt.Sprintf("entity_id = $%d", len(args)))
	}

	query := `SELECT ` + selectApprovalColumns + ` FROM approval_requests WHERE ` +
		strings.Join(clauses, " AND ") + " ORDER BY requested_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	approvals := make([]domain.ApprovalRequest, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

// CreatePending files an approval request. At most one pending request may
// exist per entity; on conflict the existing pending request is returned and
// the bool is false.
func (s *ApprovalStore) CreatePending(ctx context.Context, a domain.ApprovalRequest) (domain.ApprovalRequest, bool, error) {
	if s == nil || s.db == nil {
		return domain.ApprovalRequest{}, false, fmt.Errorf("approval store not initialized")
	}
	a.Status = domain.ApprovalStatusPending
	a.RequestedAt = normalizeTime(a.RequestedAt)
	if err := a.Validate(); err != nil {
		return domain.ApprovalRequest{}, false, err
	}
	integrity, err := approvalIntegrity(a)
	if err != nil {
		return domain.ApprovalRequest{}, false, err
	}
	a.IntegritySHA256 = integrity

	res, err := s.db.ExecContext(
		ctx,
		insertApprovalQuery,
		strings.TrimSpace(a.ApprovalID),
		strings.TrimSpace(a.TenantID),
		string(a.EntityKind),
		strings.TrimSpace(a.EntityID),
		strings.TrimSpace(a.FromStage),
		strings.TrimSpace(a.ToStage),
		nullString(strings.TrimSpace(a.Reason)),
		strings.TrimSpace(a.RequestedBy),
		a.RequestedAt,
		integrity,
	)
	if err != nil {
		return domain.ApprovalRequest{}, false, fmt.Errorf("insert approval: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.ApprovalRequest{}, false, fmt.Errorf("insert approval: %w", err)
	}
	if inserted > 0 {
		return a, true, nil
	}

	row := s.db.QueryRowContext(ctx, selectPendingApprovalQuery,
		strings.TrimSpace(a.TenantID), string(a.EntityKind), strings.TrimSpace(a.EntityID))
	existing, err := scanApproval(row)
	if err != nil {
		return domain.ApprovalRequest{}, false, fmt.Errorf("load pending approval: %w", err)
	}
	return existing, false, nil
}

// GetForUpdate locks the approval row for the caller's transaction.
func (s *ApprovalStore) GetForUpdate(ctx context.Context, tenantID, id string) (domain.ApprovalRequest, error) {
	if s == nil || s.db == nil {
		return domain.ApprovalRequest{}, fmt.Errorf("approval store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.ApprovalRequest{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.ApprovalRequest{}, fmt.Errorf("approval id is required")
	}
	row := s.db.QueryRowContext(ctx, selectApprovalForUpdateQuery, tenantID, id)
	a, err := scanApproval(row)
	if err != nil {
		return domain.ApprovalRequest{}, handleNotFound(err)
	}
	return a, nil
}

// Resolve terminalizes a pending request and refreshes its integrity hash to
// cover the decision. The caller passes the locked row; zero affected rows
// means the request was decided concurrently.
func (s *ApprovalStore) Resolve(ctx context.Context, a domain.ApprovalRequest, status domain.ApprovalStatus, decidedBy string, decidedAt time.Time, notes string) (domain.ApprovalRequest, error) {
	if s == nil || s.db == nil {
		return domain.ApprovalRequest{}, fmt.Errorf("approval store not initialized")
	}
	if status != domain.ApprovalStatusApproved && status != domain.ApprovalStatusRejected {
		return domain.ApprovalRequest{}, fmt.Errorf("resolution status must be approved or rejected")
	}
	decidedAt = normalizeTime(decidedAt)
	a.Status = status
	a.DecidedBy = strings.TrimSpace(decidedBy)
	a.DecidedAt = &decidedAt
	a.Notes = strings.TrimSpace(notes)

	integrity, err := approvalIntegrity(a)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	a.IntegritySHA256 = integrity

	res, err := s.db.ExecContext(ctx, resolveApprovalQuery,
		strings.TrimSpace(a.TenantID),
		strings.TrimSpace(a.ApprovalID),
		string(status),
		a.DecidedBy,
		decidedAt,
		nullString(a.Notes),
		integrity,
	)
	if err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("resolve approval: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("resolve approval: %w", err)
	}
	if rows == 0 {
		return domain.ApprovalRequest{}, domain.ErrApprovalNotPending
	}
	return a, nil
}

func approvalIntegrity(a domain.ApprovalRequest) (string, error) {
	var decidedAt string
	if a.DecidedAt != nil {
		decidedAt = a.DecidedAt.UTC().Format(time.RFC3339Nano)
	}
	input := struct {
		ApprovalID  string `json:"approval_id"`
		TenantID    string `json:"tenant_id"`
		EntityKind  string `json:"entity_kind"`
		EntityID    string `json:"entity_id"`
		FromStage   string `json:"from_stage"`
		ToStage     string `json:"to_stage"`
		Reason      string `json:"reason,omitempty"`
		RequestedBy string `json:"requested_by"`
		RequestedAt string `json:"requested_at"`
		Status      string `json:"status"`
		DecidedBy   string `json:"decided_by,omitempty"`
		DecidedAt   string `json:"decided_at,omitempty"`
		Notes       string `json:"notes,omitempty"`
	}{
		ApprovalID:  strings.TrimSpace(a.ApprovalID),
		TenantID:    strings.TrimSpace(a.TenantID),
		EntityKind:  string(a.EntityKind),
		EntityID:    strings.TrimSpace(a.EntityID),
		FromStage:   strings.TrimSpace(a.FromStage),
		ToStage:     strings.TrimSpace(a.ToStage),
		Reason:      strings.TrimSpace(a.Reason),
		RequestedBy: strings.TrimSpace(a.RequestedBy),
		RequestedAt: a.RequestedAt.UTC().Format(time.RFC3339Nano),
		Status:      string(a.Status),
		DecidedBy:   strings.TrimSpace(a.DecidedBy),
		DecidedAt:   decidedAt,
		Notes:       strings.TrimSpace(a.Notes),
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal approval integrity input: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func scanApproval(row rowScanner) (domain.ApprovalRequest, error) {
	var (
		a         domain.ApprovalRequest
		reason    sql.NullString
		decidedBy sql.NullString
		decidedAt sql.NullTime
		notes     sql.NullString
	)
	if err := row.Scan(
		&a.ApprovalID,
		&a.TenantID,
		&a.EntityKind,
		&a.EntityID,
		&a.FromStage,
		&a.ToStage,
		&reason,
		&a.RequestedBy,
		&a.RequestedAt,
		&a.Status,
		&decidedBy,
		&decidedAt,
		&notes,
		&a.IntegritySHA256,
	); err != nil {
		return domain.ApprovalRequest{}, err
	}
	a.Reason = reason.String
	a.DecidedBy = decidedBy.String
	a.Notes = notes.String
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		a.DecidedAt = &t
	}
	return a, nil
}
