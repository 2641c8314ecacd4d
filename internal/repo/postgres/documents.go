package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type DocumentStore struct {
	db DB
}

const (
	selectDocumentColumns = `document_id, tenant_id, entry_id, kind, filename, content_type,
	 object_key, size_bytes, sha256, uploaded_by, uploaded_at`

	selectDocumentQuery = `SELECT ` + selectDocumentColumns + `
	 FROM entry_documents
	 WHERE tenant_id = $1 AND entry_id = $2 AND document_id = $3`

	insertDocumentQuery = `INSERT INTO entry_documents (
		document_id, tenant_id, entry_id, kind, filename, content_type,
		object_key, size_bytes, sha256, uploaded_by, uploaded_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
)

func NewDocumentStore(db DB) *DocumentStore {
	if db == nil {
		return nil
	}
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Create(ctx context.Context, doc domain.EntryDocument) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("document store not initialized")
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertDocumentQuery,
		strings.TrimSpace(doc.DocumentID),
		strings.TrimSpace(doc.TenantID),
		strings.TrimSpace(doc.EntryID),
		strings.TrimSpace(doc.Kind),
		strings.TrimSpace(doc.Filename),
		strings.TrimSpace(doc.ContentType),
		strings.TrimSpace(doc.ObjectKey),
		doc.SizeBytes,
		strings.TrimSpace(doc.SHA256),
		strings.TrimSpace(doc.UploadedBy),
		normalizeTime(doc.UploadedAt),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, tenantID, entryID, documentID string) (domain.EntryDocument, error) {
	if s == nil || s.db == nil {
		return domain.EntryDocument{}, fmt.Errorf("document store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	entryID = strings.TrimSpace(entryID)
	documentID = strings.TrimSpace(documentID)
	if tenantID == "" {
		return domain.EntryDocument{}, fmt.Errorf("tenant id is required")
	}
	if entryID == "" {
		return domain.EntryDocument{}, fmt.Errorf("entry id is required")
	}
	if documentID == "" {
		return domain.EntryDocument{}, fmt.Errorf("document id is required")
	}

	var d domain.EntryDocument
	row := s.db.QueryRowContext(ctx, selectDocumentQuery, tenantID, entryID, documentID)
	if err := row.Scan(
		&d.DocumentID,
		&d.TenantID,
		&d.EntryID,
		&d.Kind,
		&d.Filename,
		&d.ContentType,
		&d.ObjectKey,
		&d.SizeBytes,
		&d.SHA256,
		&d.UploadedBy,
		&d.UploadedAt,
	); err != nil {
		return domain.EntryDocument{}, handleNotFound(err)
	}
	return d, nil
}

func (s *DocumentStore) List(ctx context.Context, tenantID string, filter repo.DocumentFilter) ([]domain.EntryDocument, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("document store not initialized")
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
	if strings.TrimSpace(filter.Kind) != "" {
		args = append(args, strings.TrimSpace(filter.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + selectDocumentColumns + ` FROM entry_documents WHERE ` +
		strings.Join(clauses, " AND ") + " ORDER BY uploaded_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	documents := make([]domain.EntryDocument, 0)
	for rows.Next() {
		var d domain.EntryDocument
		if err := rows.Scan(
			&d.DocumentID,
			&d.TenantID,
			&d.EntryID,
			&d.Kind,
			&d.Filename,
			&d.ContentType,
			&d.ObjectKey,
			&d.SizeBytes,
			&d.SHA256,
			&d.UploadedBy,
			&d.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return documents, nil
}
