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
)

// EsignStore persists e-signature webhook envelopes. The UNIQUE(entry_id,
// payload_sha256) constraint makes redelivered callbacks no-ops.
type EsignStore struct {
	db DB
}

const insertEnvelopeQuery = `INSERT INTO esign_envelopes (
	envelope_id, tenant_id, entry_id, provider, payload, payload_sha256,
	signature_ts, received_at, received_by, integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (entry_id, payload_sha256) DO NOTHING`

func NewEsignStore(db DB) *EsignStore {
	if db == nil {
		return nil
	}
	return &EsignStore{db: db}
}

// Record inserts the envelope and reports whether it was new. A duplicate
// payload for the same entry returns false with no error.
func (s *EsignStore) Record(ctx context.Context, env domain.EsignEnvelope) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("esign store not initialized")
	}
	env.ReceivedAt = normalizeTime(env.ReceivedAt)
	if err := env.Validate(); err != nil {
		return false, err
	}
	payloadJSON, err := encodeMetadata(env.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}
	integrity, err := envelopeIntegrity(env, payloadJSON)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(
		ctx,
		insertEnvelopeQuery,
		strings.TrimSpace(env.EnvelopeID),
		strings.TrimSpace(env.TenantID),
		strings.TrimSpace(env.EntryID),
		strings.TrimSpace(env.Provider),
		payloadJSON,
		strings.TrimSpace(env.PayloadSHA256),
		env.SignatureTs,
		env.ReceivedAt,
		strings.TrimSpace(env.ReceivedBy),
		integrity,
	)
	if err != nil {
		return false, fmt.Errorf("insert envelope: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert envelope: %w", err)
	}
	return inserted > 0, nil
}

func envelopeIntegrity(env domain.EsignEnvelope, payloadJSON []byte) (string, error) {
	input := struct {
		EnvelopeID    string          `json:"envelope_id"`
		TenantID      string          `json:"tenant_id"`
		EntryID       string          `json:"entry_id"`
		Provider      string          `json:"provider"`
		Payload       json.RawMessage `json:"payload"`
		PayloadSHA256 string          `json:"payload_sha256"`
		SignatureTs   int64           `json:"signature_ts"`
		ReceivedAt    string          `json:"received_at"`
	}{
		EnvelopeID:    strings.TrimSpace(env.EnvelopeID),
		TenantID:      strings.TrimSpace(env.TenantID),
		EntryID:       strings.TrimSpace(env.EntryID),
		Provider:      strings.TrimSpace(env.Provider),
		Payload:       payloadJSON,
		PayloadSHA256: strings.TrimSpace(env.PayloadSHA256),
		SignatureTs:   env.SignatureTs,
		ReceivedAt:    env.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal envelope integrity input: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
