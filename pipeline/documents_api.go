package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/platform/auditlog"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
	repopg "github.com/sunpath-crm/sunpath-go/internal/repo/postgres"
)

type documentResponse struct {
	DocumentID  string    `json:"document_id"`
	EntryID     string    `json:"entry_id"`
	Kind        string    `json:"kind"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	ObjectKey   string    `json:"object_key"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Flag        string    `json:"flag,omitempty"`
}

func documentFromDomain(doc domain.EntryDocument) documentResponse {
	return documentResponse{
		DocumentID:  doc.DocumentID,
		EntryID:     doc.EntryID,
		Kind:        doc.Kind,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		ObjectKey:   doc.ObjectKey,
		SizeBytes:   doc.SizeBytes,
		SHA256:      doc.SHA256,
		UploadedBy:  doc.UploadedBy,
		UploadedAt:  doc.UploadedAt,
		Flag:        domain.DocumentFlag(doc.Kind),
	}
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == "/" {
		return "document.bin"
	}
	return base
}

func normalizeDocumentKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	for _, r := range k {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return ""
		}
	}
	return k
}

// handleUploadDocument stores the bytes in MinIO first, then records the
// document row and flips the "<kind>_uploaded" flag on the entry (and on its
// production workflow, if provisioned) in one transaction. A late failure
// removes the uploaded object.
func (api *pipelineAPI) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	entryID := strings.TrimSpace(r.PathValue("entry_id"))
	if entryID == "" {
		api.writeError(w, r, http.StatusBadRequest, "entry_id_required")
		return
	}

	if _, err := api.entries.Get(r.Context(), scope.TenantID, entryID); err != nil {
		api.writeStoreError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	kind := normalizeDocumentKind(r.FormValue("kind"))
	if kind == "" {
		api.writeError(w, r, http.StatusBadRequest, "document_kind_invalid")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	documentID := uuid.NewString()
	objectKey := fmt.Sprintf("entries/%s/%s/%s", entryID, documentID, filename)

	hasher := sha256.New()
	counter := &countingWriter{}
	reader := io.TeeReader(file, io.MultiWriter(hasher, counter))

	size := header.Size
	if size <= 0 {
		size = -1
	}

	putCtx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	_, err = api.store.PutObject(
		putCtx,
		api.storeCfg.BucketDocuments,
		objectKey,
		reader,
		size,
		minio.PutObjectOptions{ContentType: contentType},
	)
	cancel()
	if err != nil {
		api.writeError(w, r, http.StatusBadGateway, "document_store_failed")
		return
	}

	sha256Hex := hex.EncodeToString(hasher.Sum(nil))
	sizeBytes := counter.n
	if sizeBytes <= 0 && header.Size > 0 {
		sizeBytes = header.Size
	}

	now := time.Now().UTC()
	doc := domain.EntryDocument{
		DocumentID:  documentID,
		TenantID:    scope.TenantID,
		EntryID:     entryID,
		Kind:        kind,
		Filename:    filename,
		ContentType: contentType,
		ObjectKey:   objectKey,
		SizeBytes:   sizeBytes,
		SHA256:      sha256Hex,
		UploadedBy:  scope.Identity.Subject,
		UploadedAt:  now,
	}

	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		_ = api.store.RemoveObject(r.Context(), api.storeCfg.BucketDocuments, objectKey, minio.RemoveObjectOptions{})
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := repopg.NewDocumentStore(tx).Create(r.Context(), doc); err != nil {
		_ = api.store.RemoveObject(r.Context(), api.storeCfg.BucketDocuments, objectKey, minio.RemoveObjectOptions{})
		if isForeignKeyViolation(err) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("create document failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	flag := domain.DocumentFlag(kind)
	if err := repopg.NewEntryStore(tx).SetFlag(r.Context(), scope.TenantID, entryID, flag, true); err != nil {
		_ = api.store.RemoveObject(r.Context(), api.storeCfg.BucketDocuments, objectKey, minio.RemoveObjectOptions{})
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := repopg.NewProductionStore(tx).SetFlagByEntry(r.Context(), scope.TenantID, entryID, flag, true); err != nil {
		_ = api.store.RemoveObject(r.Context(), api.storeCfg.BucketDocuments, objectKey, minio.RemoveObjectOptions{})
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	_, err = auditlog.Insert(r.Context(), tx, auditlog.Event{
		OccurredAt:   now,
		Actor:        scope.Identity.Subject,
		Action:       "document.upload",
		ResourceType: "entry_document",
		ResourceID:   documentID,
		RequestID:    scope.Audit.RequestID,
		IP:           scope.Audit.IP,
		UserAgent:    scope.Audit.UserAgent,
		Payload: map[string]any{
			"service":      "pipeline",
			"tenant_id":    scope.TenantID,
			"entry_id":     entryID,
			"kind":         kind,
			"filename":     filename,
			"content_type": contentType,
			"object_key":   objectKey,
			"sha256":       sha256Hex,
			"size_bytes":   sizeBytes,
			"flag":         flag,
		},
	})
	if err != nil {
		_ = api.store.RemoveObject(r.Context(), api.storeCfg.BucketDocuments, objectKey, minio.RemoveObjectOptions{})
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}

	if err := tx.Commit(); err != nil {
		_ = api.store.RemoveObject(r.Context(), api.storeCfg.BucketDocuments, objectKey, minio.RemoveObjectOptions{})
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/entries/%s/documents/%s", entryID, documentID))
	api.writeJSON(w, http.StatusCreated, documentFromDomain(doc))
}

func (api *pipelineAPI) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	entryID := strings.TrimSpace(r.PathValue("entry_id"))
	if entryID == "" {
		api.writeError(w, r, http.StatusBadRequest, "entry_id_required")
		return
	}

	docs, err := api.documents.List(r.Context(), scope.TenantID, repo.DocumentFilter{
		EntryID: entryID,
		Kind:    normalizeDocumentKind(r.URL.Query().Get("kind")),
		Limit:   clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.logger.Error("list documents failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentFromDomain(doc))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (api *pipelineAPI) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	scope, ok := api.scope(w, r)
	if !ok {
		return
	}
	entryID := strings.TrimSpace(r.PathValue("entry_id"))
	if entryID == "" {
		api.writeError(w, r, http.StatusBadRequest, "entry_id_required")
		return
	}
	documentID := strings.TrimSpace(r.PathValue("document_id"))
	if documentID == "" {
		api.writeError(w, r, http.StatusBadRequest, "document_id_required")
		return
	}

	doc, err := api.documents.Get(r.Context(), scope.TenantID, entryID, documentID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}

	obj, err := api.store.GetObject(r.Context(), api.storeCfg.BucketDocuments, doc.ObjectKey, minio.GetObjectOptions{})
	if err != nil {
		api.writeError(w, r, http.StatusBadGateway, "object_store_error")
		return
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}

	contentType := strings.TrimSpace(doc.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	if doc.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, obj)
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
