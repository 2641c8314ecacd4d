package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"

	"github.com/sunpath-crm/sunpath-go/internal/catalog"
	"github.com/sunpath-crm/sunpath-go/internal/engine"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auth"
	"github.com/sunpath-crm/sunpath-go/internal/platform/objectstore"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	repopg "github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
	"github.com/sunpath-crm/sunpath-go/internal/service/transitions"
)

type pipelineAPI struct {
	logger   *slog.Logger
	db       *sql.DB
	store    *minio.Client
	storeCfg objectstore.Config

	stages      *catalog.Cache
	transitions *transitions.Service

	entries     *repopg.EntryStore
	production  *repopg.ProductionStore
	approvals   *repopg.ApprovalStore
	rules       *repopg.RuleStore
	validations *repopg.ValidationStore
	documents   *repopg.DocumentStore
	history     *repopg.HistoryStore
	esign       *repopg.EsignStore

	esignWebhookSecret  string
	esignWebhookMaxSkew time.Duration
}

func newPipelineAPI(
	logger *slog.Logger,
	db *sql.DB,
	store *minio.Client,
	storeCfg objectstore.Config,
	stages *catalog.Cache,
	svc *transitions.Service,
	esignWebhookSecret string,
) *pipelineAPI {
	return &pipelineAPI{
		logger:              logger,
		db:                  db,
		store:               store,
		storeCfg:            storeCfg,
		stages:              stages,
		transitions:         svc,
		entries:             repopg.NewEntryStore(db),
		production:          repopg.NewProductionStore(db),
		approvals:           repopg.NewApprovalStore(db),
		rules:               repopg.NewRuleStore(db),
		validations:         repopg.NewValidationStore(db),
		documents:           repopg.NewDocumentStore(db),
		history:             repopg.NewHistoryStore(db),
		esign:               repopg.NewEsignStore(db),
		esignWebhookSecret:  strings.TrimSpace(esignWebhookSecret),
		esignWebhookMaxSkew: 5 * time.Minute,
	}
}

func (api *pipelineAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /entries", api.handleCreateEntry)
	mux.HandleFunc("GET /entries", api.handleListEntries)
	mux.HandleFunc("GET /entries/{entry_id}", api.handleGetEntry)
	mux.HandleFunc("POST /entries/{entry_id}/transitions", api.handleEntryTransition)
	mux.HandleFunc("GET /entries/{entry_id}/history", api.handleEntryHistory)
	mux.HandleFunc("GET /entries/{entry_id}/attempts", api.handleEntryAttempts)
	mux.HandleFunc("POST /entries/{entry_id}/documents", api.handleUploadDocument)
	mux.HandleFunc("GET /entries/{entry_id}/documents", api.handleListDocuments)
	mux.HandleFunc("GET /entries/{entry_id}/documents/{document_id}", api.handleDownloadDocument)

	mux.HandleFunc("GET /production-workflows", api.handleListWorkflows)
	mux.HandleFunc("GET /production-workflows/{workflow_id}", api.handleGetWorkflow)
	mux.HandleFunc("POST /production-workflows/{workflow_id}/transitions", api.handleWorkflowTransition)
	mux.HandleFunc("GET /production-workflows/{workflow_id}/history", api.handleWorkflowHistory)
	mux.HandleFunc("GET /production-workflows/{workflow_id}/attempts", api.handleWorkflowAttempts)

	mux.HandleFunc("GET /approvals", api.handleListApprovals)
	mux.HandleFunc("GET /approvals/{approval_id}", api.handleGetApproval)
	mux.HandleFunc("POST /approvals/{approval_id}/approve", api.handleApprove)
	mux.HandleFunc("POST /approvals/{approval_id}/reject", api.handleReject)

	mux.HandleFunc("GET /stages", api.handleListStages)

	mux.HandleFunc("POST /rules", api.handleCreateRule)
	mux.HandleFunc("GET /rules", api.handleListRules)
	mux.HandleFunc("GET /rules/{rule_id}", api.handleGetRule)
	mux.HandleFunc("POST /rules/{rule_id}/deactivate", api.handleDeactivateRule)

	mux.HandleFunc("POST /validations", api.handleCreateValidation)
	mux.HandleFunc("GET /validations", api.handleListValidations)
	mux.HandleFunc("GET /validations/{validation_id}", api.handleGetValidation)
	mux.HandleFunc("POST /validations/{validation_id}/deactivate", api.handleDeactivateValidation)

	mux.HandleFunc("POST /webhooks/esign", api.handleEsignWebhook)
}

// requestScope is the per-request identity and tenant resolved by the auth
// middleware, plus the audit fields every mutation records.
type requestScope struct {
	TenantID string
	Identity auth.Identity
	Actor    engine.Actor
	Audit    transitions.AuditInfo
}

func (api *pipelineAPI) scope(w http.ResponseWriter, r *http.Request) (requestScope, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return requestScope{}, false
	}
	tenantID, ok := auth.TenantIDFromContext(r.Context())
	if !ok || strings.TrimSpace(tenantID) == "" {
		api.writeError(w, r, http.StatusBadRequest, "tenant_required")
		return requestScope{}, false
	}
	return requestScope{
		TenantID: tenantID,
		Identity: identity,
		Actor: engine.Actor{
			Subject: identity.Subject,
			Email:   identity.Email,
			Roles:   identity.Roles,
		},
		Audit: transitions.AuditInfo{
			RequestID: r.Header.Get("X-Request-Id"),
			IP:        requestIP(r.RemoteAddr),
			UserAgent: r.UserAgent(),
		},
	}, true
}

func (api *pipelineAPI) requireAdmin(w http.ResponseWriter, r *http.Request, scope requestScope, code string) bool {
	if !auth.HasAtLeast(scope.Identity.Roles, auth.RoleAdmin) {
		api.writeError(w, r, http.StatusForbidden, code)
		return false
	}
	return true
}

// decisionResponse is the wire form of a transition decision. Rejections are
// 200s: the attempt was processed and recorded, the move just did not happen.
type decisionResponse struct {
	Outcome      string `json:"outcome"`
	RejectKind   string `json:"reject_kind,omitempty"`
	Message      string `json:"message,omitempty"`
	RuleID       string `json:"rule_id,omitempty"`
	IsBackward   bool   `json:"is_backward"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id"`
	FromStage    string `json:"from_stage"`
	ToStage      string `json:"to_stage"`
	TransitionID int64  `json:"transition_id,omitempty"`
	ApprovalID   string `json:"approval_id,omitempty"`
}

func decisionFromResult(res transitions.Result) decisionResponse {
	return decisionResponse{
		Outcome:      string(res.Outcome),
		RejectKind:   string(res.RejectKind),
		Message:      res.Message,
		RuleID:       res.RuleID,
		IsBackward:   res.IsBackward,
		EntityKind:   string(res.EntityKind),
		EntityID:     res.EntityID,
		FromStage:    res.FromStage,
		ToStage:      res.ToStage,
		TransitionID: res.TransitionID,
		ApprovalID:   res.ApprovalID,
	}
}

func (api *pipelineAPI) writeTransitionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, transitions.ErrStageConflict):
		api.writeError(w, r, http.StatusConflict, "stage_conflict")
	case errors.Is(err, transitions.ErrEmptyCatalog):
		// An empty catalog may be cached; drop it so a seed that lands
		// between attempts is visible before the TTL runs out.
		if tenantID, ok := auth.TenantIDFromContext(r.Context()); ok {
			api.stages.Invalidate(tenantID)
		}
		api.writeError(w, r, http.StatusConflict, "catalog_not_seeded")
	default:
		api.logger.Error("transition failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *pipelineAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *pipelineAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
