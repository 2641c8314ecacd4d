package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

// HistoryStore reads the append-only streams written by the transition
// service. There is deliberately no update or delete path.
type HistoryStore struct {
	db DB
}

const (
	selectTransitionColumns = `transition_id, tenant_id, entity_kind, entity_id, from_stage, to_stage,
	 actor, occurred_at, is_backward, via_approval_id, reason, metadata, integrity_sha256`

	selectAttemptColumns = `attempt_id, tenant_id, entity_kind, entity_id, from_stage, to_stage,
	 actor, attempted_at, outcome, reject_kind, reject_message, rule_id, integrity_sha256`
)

func NewHistoryStore(db DB) *HistoryStore {
	if db == nil {
		return nil
	}
	return &HistoryStore{db: db}
}

func (s *HistoryStore) ListTransitions(ctx context.Context, tenantID string, filter repo.TransitionFilter) ([]domain.TransitionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store not initialized")
	}
	query, args, err := historyQuery(selectTransitionColumns, "stage_transitions", "occurred_at", tenantID, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TransitionRecord, 0)
	for rows.Next() {
		var (
			r            domain.TransitionRecord
			viaApproval  sql.NullString
			reason       sql.NullString
			metadataJSON []byte
		)
		if err := rows.Scan(
			&r.TransitionID,
			&r.TenantID,
			&r.EntityKind,
			&r.EntityID,
			&r.FromStage,
			&r.ToStage,
			&r.Actor,
			&r.OccurredAt,
			&r.IsBackward,
			&viaApproval,
			&reason,
			&metadataJSON,
			&r.IntegritySHA256,
		); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		meta, err := decodeMetadata(metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		r.ViaApprovalID = viaApproval.String
		r.Reason = reason.String
		r.Metadata = meta
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return records, nil
}

func (s *HistoryStore) ListAttempts(ctx context.Context, tenantID string, filter repo.TransitionFilter) ([]domain.TransitionAttempt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store not initialized")
	}
	query, args, err := historyQuery(selectAttemptColumns, "transition_attempts", "attempted_at", tenantID, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.TransitionAttempt, 0)
	for rows.Next() {
		var (
			a             domain.TransitionAttempt
			rejectKind    sql.NullString
			rejectMessage sql.NullString
			ruleID        sql.NullString
		)
		if err := rows.Scan(
			&a.AttemptID,
			&a.TenantID,
			&a.EntityKind,
			&a.EntityID,
			&a.FromStage,
			&a.ToStage,
			&a.Actor,
			&a.AttemptedAt,
			&a.Outcome,
			&rejectKind,
			&rejectMessage,
			&ruleID,
			&a.IntegritySHA256,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.RejectKind = rejectKind.String
		a.RejectMessage = rejectMessage.String
		a.RuleID = ruleID.String
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

func historyQuery(columns, table, timeColumn, tenantID string, filter repo.TransitionFilter) (string, []any, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", nil, fmt.Errorf("tenant id is required")
	}

	args := []any{tenantID}
	clauses := []string{"tenant_id = $1"}
	if filter.EntityKind != "" {
		if !filter.EntityKind.Valid() {
			return "", nil, fmt.Errorf("invalid entity kind")
		}
		args = append(args, string(filter.EntityKind))
		clauses = append(clauses, fmt.Sprintf("entity_kind = $%d", len(args)))
	}
	if strings.TrimSpace(filter.EntityID) != "" {
		args = append(args, strings.TrimSpace(filter.EntityID))
		clauses = append(clauses, fmt.Sprintf("entity_id = $%d", len(args)))
	}

	query := "SELECT " + columns + " FROM " + table + " WHERE " +
		strings.Join(clauses, " AND ") + " ORDER BY " + timeColumn + " DESC, " + orderTiebreak(table) + " DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

func orderTiebreak(table string) string {
	if table == "stage_transitions" {
		return "transition_id"
	}
	return "attempt_id"
}
