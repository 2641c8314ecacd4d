package db

import (
	"strings"
	"testing"
)

func TestSchemaCarriesIdempotencyConstraints(t *testing.T) {
	if !strings.Contains(schemaV1, "entry_id         TEXT NOT NULL UNIQUE REFERENCES pipeline_entries(entry_id)") {
		t.Fatalf("expected one-per-entry uniqueness on provisioned rows")
	}
	if !strings.Contains(schemaV1, "WHERE status = 'pending'") {
		t.Fatalf("expected partial unique index on pending approvals")
	}
	if !strings.Contains(schemaV1, "UNIQUE (entry_id, payload_sha256)") {
		t.Fatalf("expected webhook dedup constraint")
	}
	if !strings.Contains(schemaV1, "UNIQUE (tenant_id, workflow, ord) DEFERRABLE INITIALLY DEFERRED") {
		t.Fatalf("expected deferred ord uniqueness on stages")
	}
}

func TestSchemaConstrainsEnums(t *testing.T) {
	for _, check := range []string{
		"workflow IN ('pipeline','production')",
		"direction IN ('enter','exit')",
		"kind IN ('document_required','field_required','min_dwell','dependency')",
		"entity_kind IN ('entry','production')",
		"status IN ('pending','approved','rejected')",
		"outcome IN ('rejected','requires_approval')",
	} {
		if !strings.Contains(schemaV1, check) {
			t.Fatalf("expected check constraint %q", check)
		}
	}
}

func TestSchemaTracksVersion(t *testing.T) {
	if !strings.Contains(schemaV1, "CREATE TABLE IF NOT EXISTS schema_version") {
		t.Fatalf("expected schema_version table")
	}
}
