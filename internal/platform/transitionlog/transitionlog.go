// Package transitionlog appends to the two history streams of the transition
// engine: stage_transitions holds every committed stage change and
// transition_attempts holds every blocked one. Both are append-only and carry
// an integrity hash computed over the canonical JSON form of the row.
package transitionlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	EntityKindEntry      = "entry"
	EntityKindProduction = "production"

	OutcomeRejected         = "rejected"
	OutcomeRequiresApproval = "requires_approval"
)

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transition is one committed stage change.
type Transition struct {
	TenantID      string
	EntityKind    string
	EntityID      string
	FromStage     string
	ToStage       string
	Actor         string
	OccurredAt    time.Time
	IsBackward    bool
	ViaApprovalID string
	Reason        string
	Metadata      any
}

// Attempt is one blocked transition: either rejected outright or parked
// behind an approval request.
type Attempt struct {
	TenantID      string
	EntityKind    string
	EntityID      string
	FromStage     string
	ToStage       string
	Actor         string
	AttemptedAt   time.Time
	Outcome       string
	RejectKind    string
	RejectMessage string
	RuleID        string
}

func validEntityKind(kind string) bool {
	return kind == EntityKindEntry || kind == EntityKindProduction
}

func (t Transition) Validate() error {
	if strings.TrimSpace(t.TenantID) == "" {
		return errors.New("TenantID is required")
	}
	if !validEntityKind(t.EntityKind) {
		return fmt.Errorf("EntityKind must be %q or %q", EntityKindEntry, EntityKindProduction)
	}
	if strings.TrimSpace(t.EntityID) == "" {
		return errors.New("EntityID is required")
	}
	if strings.TrimSpace(t.FromStage) == "" {
		return errors.New("FromStage is required")
	}
	if strings.TrimSpace(t.ToStage) == "" {
		return errors.New("ToStage is required")
	}
	if strings.TrimSpace(t.Actor) == "" {
		return errors.New("Actor is required")
	}
	if t.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	return nil
}

func (a Attempt) Validate() error {
	if strings.TrimSpace(a.TenantID) == "" {
		return errors.New("TenantID is required")
	}
	if !validEntityKind(a.EntityKind) {
		return fmt.Errorf("EntityKind must be %q or %q", EntityKindEntry, EntityKindProduction)
	}
	if strings.TrimSpace(a.EntityID) == "" {
		return errors.New("EntityID is required")
	}
	if strings.TrimSpace(a.FromStage) == "" {
		return errors.New("FromStage is required")
	}
	if strings.TrimSpace(a.ToStage) == "" {
		return errors.New("ToStage is required")
	}
	if strings.TrimSpace(a.Actor) == "" {
		return errors.New("Actor is required")
	}
	if a.AttemptedAt.IsZero() {
		return errors.New("AttemptedAt is required")
	}
	if a.Outcome != OutcomeRejected && a.Outcome != OutcomeRequiresApproval {
		return fmt.Errorf("Outcome must be %q or %q", OutcomeRejected, OutcomeRequiresApproval)
	}
	return nil
}

// InsertTransition appends a committed transition and returns its id. The
// caller decides the transaction boundary; the stage update and this append
// must share one.
func InsertTransition(ctx context.Context, q QueryRower, t Transition) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now().UTC()
	}
	if err := t.Validate(); err != nil {
		return 0, err
	}

	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	integrity, err := ComputeTransitionSHA256(t, metadataJSON)
	if err != nil {
		return 0, err
	}

	var viaApproval sql.NullString
	if strings.TrimSpace(t.ViaApprovalID) != "" {
		viaApproval = sql.NullString{String: strings.TrimSpace(t.ViaApprovalID), Valid: true}
	}
	var reason sql.NullString
	if strings.TrimSpace(t.Reason) != "" {
		reason = sql.NullString{String: strings.TrimSpace(t.Reason), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO stage_transitions (
			tenant_id,
			entity_kind,
			entity_id,
			from_stage,
			to_stage,
			actor,
			occurred_at,
			is_backward,
			via_approval_id,
			reason,
			metadata,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING transition_id`,
		strings.TrimSpace(t.TenantID),
		t.EntityKind,
		strings.TrimSpace(t.EntityID),
		strings.TrimSpace(t.FromStage),
		strings.TrimSpace(t.ToStage),
		strings.TrimSpace(t.Actor),
		t.OccurredAt.UTC(),
		t.IsBackward,
		viaApproval,
		reason,
		metadataJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert stage transition: %w", err)
	}
	return id, nil
}

// InsertAttempt appends a blocked transition and returns its id.
func InsertAttempt(ctx context.Context, q QueryRower, a Attempt) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	if err := a.Validate(); err != nil {
		return 0, err
	}

	integrity, err := ComputeAttemptSHA256(a)
	if err != nil {
		return 0, err
	}

	var rejectKind sql.NullString
	if strings.TrimSpace(a.RejectKind) != "" {
		rejectKind = sql.NullString{String: strings.TrimSpace(a.RejectKind), Valid: true}
	}
	var rejectMessage sql.NullString
	if strings.TrimSpace(a.RejectMessage) != "" {
		rejectMessage = sql.NullString{String: strings.TrimSpace(a.RejectMessage), Valid: true}
	}
	var ruleID sql.NullString
	if strings.TrimSpace(a.RuleID) != "" {
		ruleID = sql.NullString{String: strings.TrimSpace(a.RuleID), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO transition_attempts (
			tenant_id,
			entity_kind,
			entity_id,
			from_stage,
			to_stage,
			actor,
			attempted_at,
			outcome,
			reject_kind,
			reject_message,
			rule_id,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING attempt_id`,
		strings.TrimSpace(a.TenantID),
		a.EntityKind,
		strings.TrimSpace(a.EntityID),
		strings.TrimSpace(a.FromStage),
		strings.TrimSpace(a.ToStage),
		strings.TrimSpace(a.Actor),
		a.AttemptedAt.UTC(),
		a.Outcome,
		rejectKind,
		rejectMessage,
		ruleID,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transition attempt: %w", err)
	}
	return id, nil
}

func ComputeTransitionSHA256(t Transition, metadataJSON []byte) (string, error) {
	type integrityInput struct {
		TenantID      string          `json:"tenant_id"`
		EntityKind    string          `json:"entity_kind"`
		EntityID      string          `json:"entity_id"`
		FromStage     string          `json:"from_stage"`
		ToStage       string          `json:"to_stage"`
		Actor         string          `json:"actor"`
		OccurredAt    time.Time       `json:"occurred_at"`
		IsBackward    bool            `json:"is_backward"`
		ViaApprovalID string          `json:"via_approval_id,omitempty"`
		Reason        string          `json:"reason,omitempty"`
		Metadata      json.RawMessage `json:"metadata"`
	}

	in := integrityInput{
		TenantID:      strings.TrimSpace(t.TenantID),
		EntityKind:    t.EntityKind,
		EntityID:      strings.TrimSpace(t.EntityID),
		FromStage:     strings.TrimSpace(t.FromStage),
		ToStage:       strings.TrimSpace(t.ToStage),
		Actor:         strings.TrimSpace(t.Actor),
		OccurredAt:    t.OccurredAt.UTC(),
		IsBackward:    t.IsBackward,
		ViaApprovalID: strings.TrimSpace(t.ViaApprovalID),
		Reason:        strings.TrimSpace(t.Reason),
		Metadata:      metadataJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func ComputeAttemptSHA256(a Attempt) (string, error) {
	type integrityInput struct {
		TenantID      string    `json:"tenant_id"`
		EntityKind    string    `json:"entity_kind"`
		EntityID      string    `json:"entity_id"`
		FromStage     string    `json:"from_stage"`
		ToStage       string    `json:"to_stage"`
		Actor         string    `json:"actor"`
		AttemptedAt   time.Time `json:"attempted_at"`
		Outcome       string    `json:"outcome"`
		RejectKind    string    `json:"reject_kind,omitempty"`
		RejectMessage string    `json:"reject_message,omitempty"`
		RuleID        string    `json:"rule_id,omitempty"`
	}

	in := integrityInput{
		TenantID:      strings.TrimSpace(a.TenantID),
		EntityKind:    a.EntityKind,
		EntityID:      strings.TrimSpace(a.EntityID),
		FromStage:     strings.TrimSpace(a.FromStage),
		ToStage:       strings.TrimSpace(a.ToStage),
		Actor:         strings.TrimSpace(a.Actor),
		AttemptedAt:   a.AttemptedAt.UTC(),
		Outcome:       a.Outcome,
		RejectKind:    strings.TrimSpace(a.RejectKind),
		RejectMessage: strings.TrimSpace(a.RejectMessage),
		RuleID:        strings.TrimSpace(a.RuleID),
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
