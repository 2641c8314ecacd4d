// Package db owns the Postgres schema and its versioned migration.
// sunpathctl migrate applies it; services can also apply it at boot behind
// a config flag.
package db

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS stages (
    tenant_id   TEXT NOT NULL,
    workflow    TEXT NOT NULL CHECK (workflow IN ('pipeline','production')),
    stage_key   TEXT NOT NULL,
    name        TEXT NOT NULL,
    ord         INTEGER NOT NULL CHECK (ord > 0),
    is_terminal BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, workflow, stage_key),
    -- deferred so one seed transaction can reorder a catalog
    UNIQUE (tenant_id, workflow, ord) DEFERRABLE INITIALLY DEFERRED
);

CREATE TABLE IF NOT EXISTS transition_rules (
    rule_id           TEXT PRIMARY KEY,
    tenant_id         TEXT NOT NULL,
    workflow          TEXT NOT NULL CHECK (workflow IN ('pipeline','production')),
    from_stage        TEXT NOT NULL,
    to_stage          TEXT NOT NULL,
    required_roles    JSONB NOT NULL DEFAULT '[]',
    requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
    requires_reason   BOOLEAN NOT NULL DEFAULT FALSE,
    min_dwell_seconds BIGINT NOT NULL DEFAULT 0 CHECK (min_dwell_seconds >= 0),
    min_value_cents   BIGINT,
    max_value_cents   BIGINT,
    category_filter   JSONB NOT NULL DEFAULT '[]',
    conditions        JSONB NOT NULL DEFAULT '{}',
    active            BOOLEAN NOT NULL DEFAULT TRUE,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_by        TEXT NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_rules_edge
    ON transition_rules(tenant_id, workflow, from_stage, to_stage) WHERE active;

CREATE TABLE IF NOT EXISTS stage_validations (
    validation_id TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    workflow      TEXT NOT NULL CHECK (workflow IN ('pipeline','production')),
    stage_key     TEXT NOT NULL,
    direction     TEXT NOT NULL CHECK (direction IN ('enter','exit')),
    kind          TEXT NOT NULL CHECK (kind IN ('document_required','field_required','min_dwell','dependency')),
    config        JSONB NOT NULL DEFAULT '{}',
    error_message TEXT NOT NULL DEFAULT '',
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_validations_stage
    ON stage_validations(tenant_id, workflow, stage_key, direction) WHERE active;

CREATE TABLE IF NOT EXISTS pipeline_entries (
    entry_id         TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    name             TEXT NOT NULL,
    category         TEXT NOT NULL DEFAULT '',
    value_cents      BIGINT NOT NULL DEFAULT 0 CHECK (value_cents >= 0),
    current_stage    TEXT NOT NULL,
    stage_entered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    flags            JSONB NOT NULL DEFAULT '{}',
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_by       TEXT NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_entries_tenant
    ON pipeline_entries(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS projects (
    project_id       TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    entry_id         TEXT NOT NULL UNIQUE REFERENCES pipeline_entries(entry_id),
    name             TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_by       TEXT NOT NULL,
    integrity_sha256 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS production_workflows (
    workflow_id      TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    entry_id         TEXT NOT NULL UNIQUE REFERENCES pipeline_entries(entry_id),
    project_id       TEXT NOT NULL REFERENCES projects(project_id),
    current_stage    TEXT NOT NULL,
    stage_entered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    flags            JSONB NOT NULL DEFAULT '{}',
    metadata         JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_by       TEXT NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS approval_requests (
    approval_id      TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    entity_kind      TEXT NOT NULL CHECK (entity_kind IN ('entry','production')),
    entity_id        TEXT NOT NULL,
    from_stage       TEXT NOT NULL,
    to_stage         TEXT NOT NULL,
    reason           TEXT,
    requested_by     TEXT NOT NULL,
    requested_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
    decided_by       TEXT,
    decided_at       TIMESTAMPTZ,
    notes            TEXT,
    integrity_sha256 TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_pending_approval
    ON approval_requests(tenant_id, entity_kind, entity_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS stage_transitions (
    transition_id    BIGSERIAL PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    entity_kind      TEXT NOT NULL CHECK (entity_kind IN ('entry','production')),
    entity_id        TEXT NOT NULL,
    from_stage       TEXT NOT NULL,
    to_stage         TEXT NOT NULL,
    actor            TEXT NOT NULL,
    occurred_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    is_backward      BOOLEAN NOT NULL DEFAULT FALSE,
    via_approval_id  TEXT,
    reason           TEXT,
    metadata         JSONB NOT NULL DEFAULT '{}',
    integrity_sha256 TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_entity
    ON stage_transitions(tenant_id, entity_kind, entity_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS transition_attempts (
    attempt_id       BIGSERIAL PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    entity_kind      TEXT NOT NULL CHECK (entity_kind IN ('entry','production')),
    entity_id        TEXT NOT NULL,
    from_stage       TEXT NOT NULL,
    to_stage         TEXT NOT NULL,
    actor            TEXT NOT NULL,
    attempted_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    outcome          TEXT NOT NULL CHECK (outcome IN ('rejected','requires_approval')),
    reject_kind      TEXT,
    reject_message   TEXT,
    rule_id          TEXT,
    integrity_sha256 TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_entity
    ON transition_attempts(tenant_id, entity_kind, entity_id, attempted_at DESC);

CREATE TABLE IF NOT EXISTS entry_documents (
    document_id  TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    entry_id     TEXT NOT NULL REFERENCES pipeline_entries(entry_id),
    kind         TEXT NOT NULL,
    filename     TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
    object_key   TEXT NOT NULL,
    size_bytes   BIGINT NOT NULL DEFAULT 0 CHECK (size_bytes >= 0),
    sha256       TEXT NOT NULL,
    uploaded_by  TEXT NOT NULL,
    uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_entry
    ON entry_documents(tenant_id, entry_id, uploaded_at DESC);

CREATE TABLE IF NOT EXISTS esign_envelopes (
    envelope_id      TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    entry_id         TEXT NOT NULL REFERENCES pipeline_entries(entry_id),
    provider         TEXT NOT NULL,
    payload          JSONB NOT NULL DEFAULT '{}',
    payload_sha256   TEXT NOT NULL,
    signature_ts     BIGINT NOT NULL DEFAULT 0,
    received_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    received_by      TEXT NOT NULL DEFAULT '',
    integrity_sha256 TEXT NOT NULL,
    UNIQUE (entry_id, payload_sha256)
);

CREATE TABLE IF NOT EXISTS audit_events (
    event_id         BIGSERIAL PRIMARY KEY,
    occurred_at      TIMESTAMPTZ NOT NULL,
    actor            TEXT NOT NULL,
    action           TEXT NOT NULL,
    resource_type    TEXT NOT NULL,
    resource_id      TEXT NOT NULL,
    request_id       TEXT,
    ip               TEXT,
    user_agent       TEXT,
    payload          JSONB NOT NULL DEFAULT '{}',
    integrity_sha256 TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_resource
    ON audit_events(resource_type, resource_id, occurred_at DESC);
`

// Migrate applies the schema once; subsequent calls are no-ops.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if conn == nil {
		return fmt.Errorf("db connection is required")
	}

	var count int
	err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version WHERE version = 1`).Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING`); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
