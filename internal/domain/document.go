package domain

import (
	"errors"
	"strings"
	"time"
)

// EntryDocument is the record of one uploaded document; bytes live in the
// object store under ObjectKey.
type EntryDocument struct {
	DocumentID  string
	TenantID    string
	EntryID     string
	Kind        string
	Filename    string
	ContentType string
	ObjectKey   string
	SizeBytes   int64
	SHA256      string
	UploadedBy  string
	UploadedAt  time.Time
}

func (d EntryDocument) Validate() error {
	if strings.TrimSpace(d.DocumentID) == "" {
		return errors.New("document id is required")
	}
	if strings.TrimSpace(d.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(d.EntryID) == "" {
		return errors.New("entry id is required")
	}
	if strings.TrimSpace(d.Kind) == "" {
		return errors.New("document kind is required")
	}
	if strings.TrimSpace(d.Filename) == "" {
		return errors.New("filename is required")
	}
	if strings.TrimSpace(d.ObjectKey) == "" {
		return errors.New("object key is required")
	}
	if d.SizeBytes < 0 {
		return errors.New("size bytes must not be negative")
	}
	return nil
}

// EsignEnvelope is one ingested e-signature callback. UNIQUE(entry_id,
// payload_sha256) dedups provider redeliveries.
type EsignEnvelope struct {
	EnvelopeID      string
	TenantID        string
	EntryID         string
	Provider        string
	Payload         Metadata
	PayloadSHA256   string
	SignatureTs     int64
	ReceivedAt      time.Time
	ReceivedBy      string
	IntegritySHA256 string
}

func (e EsignEnvelope) Validate() error {
	if strings.TrimSpace(e.EnvelopeID) == "" {
		return errors.New("envelope id is required")
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(e.EntryID) == "" {
		return errors.New("entry id is required")
	}
	if strings.TrimSpace(e.Provider) == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(e.PayloadSHA256) == "" {
		return errors.New("payload sha256 is required")
	}
	return nil
}
