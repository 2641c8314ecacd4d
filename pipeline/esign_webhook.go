package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auth"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	repopg "github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

const (
	esignWebhookHeaderTimestamp = "X-Sunpath-Esign-Ts"
	esignWebhookHeaderSignature = "X-Sunpath-Esign-Sig"
)

// signedEnvelopeStatuses are the provider callback statuses that flip the
// contract_signed flag. Every other status is recorded but sets nothing.
var signedEnvelopeStatuses = map[string]struct{}{
	"completed": {},
	"signed":    {},
}

// handleEsignWebhook ingests an e-signature provider callback. The route
// skips gateway auth; the HMAC signature over the body is the caller's
// credential. Redeliveries dedup on (entry_id, payload_sha256).
func (api *pipelineAPI) handleEsignWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(api.esignWebhookSecret) == "" {
		api.writeError(w, r, http.StatusNotImplemented, "esign_not_configured")
		return
	}

	ts := strings.TrimSpace(r.Header.Get(esignWebhookHeaderTimestamp))
	sig := strings.TrimSpace(r.Header.Get(esignWebhookHeaderSignature))
	if ts == "" || sig == "" {
		api.auditEsignReject(r.Context(), r, "", "missing_signature_headers")
		api.writeError(w, r, http.StatusUnauthorized, "esign_signature_required")
		return
	}

	if err := auth.VerifyInternalAuthTimestamp(ts, time.Now().UTC(), api.esignWebhookMaxSkew); err != nil {
		api.auditEsignReject(r.Context(), r, "", "invalid_signature_timestamp")
		api.writeError(w, r, http.StatusUnauthorized, "esign_signature_invalid")
		return
	}
	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		api.auditEsignReject(r.Context(), r, "", "invalid_signature_timestamp")
		api.writeError(w, r, http.StatusUnauthorized, "esign_signature_invalid")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.auditEsignReject(r.Context(), r, "", "body_read_failed")
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}

	if err := verifyEsignSignature(api.esignWebhookSecret, ts, r.Method, body, sig); err != nil {
		api.auditEsignReject(r.Context(), r, "", "invalid_signature")
		api.writeError(w, r, http.StatusUnauthorized, "esign_signature_invalid")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		api.auditEsignReject(r.Context(), r, "", "invalid_json")
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	tenantID, _ := payload["tenant_id"].(string)
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		api.auditEsignReject(r.Context(), r, "", "tenant_id_required")
		api.writeError(w, r, http.StatusBadRequest, "tenant_id_required")
		return
	}
	entryID, _ := payload["entry_id"].(string)
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		api.auditEsignReject(r.Context(), r, tenantID, "entry_id_required")
		api.writeError(w, r, http.StatusBadRequest, "entry_id_required")
		return
	}
	provider, _ := payload["provider"].(string)
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = "unknown"
	}
	status, _ := payload["status"].(string)
	status = strings.ToLower(strings.TrimSpace(status))
	_, signed := signedEnvelopeStatuses[status]

	if _, err := api.entries.Get(r.Context(), tenantID, entryID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.auditEsignReject(r.Context(), r, tenantID, "entry_not_found")
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	payloadSum := sha256.Sum256(payloadJSON)

	now := time.Now().UTC()
	envelope := domain.EsignEnvelope{
		EnvelopeID:    uuid.NewString(),
		TenantID:      tenantID,
		EntryID:       entryID,
		Provider:      provider,
		Payload:       domain.Metadata(payload),
		PayloadSHA256: hex.EncodeToString(payloadSum[:]),
		SignatureTs:   tsInt,
		ReceivedAt:    now,
		ReceivedBy:    "esign:" + provider,
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := repopg.NewEsignStore(tx).Record(r.Context(), envelope)
	if err != nil {
		api.logger.Error("record esign envelope failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	flagSet := false
	if inserted && signed {
		if err := repopg.NewEntryStore(tx).SetFlag(r.Context(), tenantID, entryID, domain.FlagContractSigned, true); err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		if err := repopg.NewProductionStore(tx).SetFlagByEntry(r.Context(), tenantID, entryID, domain.FlagContractSigned, true); err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		flagSet = true
	}

	if inserted {
		_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
			OccurredAt:   now,
			Actor:        envelope.ReceivedBy,
			Action:       "esign.received",
			ResourceType: "esign_envelope",
			ResourceID:   envelope.EnvelopeID,
			RequestID:    r.Header.Get("X-Request-Id"),
			IP:           requestIP(r.RemoteAddr),
			UserAgent:    r.UserAgent(),
			Payload: map[string]any{
				"service":        "pipeline",
				"tenant_id":      tenantID,
				"entry_id":       entryID,
				"provider":       provider,
				"status":         status,
				"payload_sha256": envelope.PayloadSHA256,
				"flag_set":       flagSet,
			},
		})
		if err != nil {
			api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"received":  true,
		"duplicate": !inserted,
		"flag_set":  flagSet,
	})
}

func verifyEsignSignature(secret string, ts string, method string, body []byte, signature string) error {
	expected, err := computeEsignMAC(secret, ts, method, body)
	if err != nil {
		return err
	}
	got, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return errors.New("invalid signature encoding")
	}
	if !hmac.Equal(expected, got) {
		return errors.New("invalid signature")
	}
	return nil
}

func computeEsignMAC(secret string, ts string, method string, body []byte) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return nil, errors.New("timestamp is required")
	}

	sum := sha256.Sum256(body)
	msg := strings.Join([]string{
		ts,
		strings.ToUpper(strings.TrimSpace(method)),
		hex.EncodeToString(sum[:]),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(msg)); err != nil {
		return nil, err
	}
	return mac.Sum(nil), nil
}

func (api *pipelineAPI) auditEsignReject(ctx context.Context, r *http.Request, tenantID string, reason string) {
	payload := map[string]any{
		"service": "pipeline",
		"reason":  reason,
	}
	if strings.TrimSpace(tenantID) != "" {
		payload["tenant_id"] = tenantID
	}

	now := time.Now().UTC()
	_, _ = auditlog.Insert(ctx, api.db, auditlog.Event{
		OccurredAt:   now,
		Actor:        "esign",
		Action:       "esign.reject",
		ResourceType: "esign_envelope",
		ResourceID:   r.Header.Get("X-Request-Id"),
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
}
