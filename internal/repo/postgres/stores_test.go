package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

func filterForEntry() repo.TransitionFilter {
	return repo.TransitionFilter{
		EntityKind: domain.EntityKindEntry,
		EntityID:   "entry-1",
		Limit:      50,
	}
}

func TestStageQueriesAreTenantScoped(t *testing.T) {
	if !strings.Contains(upsertStageQuery, "ON CONFLICT (tenant_id, workflow, stage_key)") {
		t.Fatalf("expected stage upsert conflict clause")
	}
	if !strings.Contains(selectStagesQuery, "tenant_id = $1") {
		t.Fatalf("expected tenant predicate in stage list query")
	}
	if !strings.Contains(selectStagesQuery, "ORDER BY ord ASC") {
		t.Fatalf("expected ord ordering in stage list query")
	}
	if !strings.Contains(selectStageQuery, "tenant_id = $1") {
		t.Fatalf("expected tenant predicate in stage lookup query")
	}
}

func TestRuleQueriesFilterActiveAndTenant(t *testing.T) {
	if !strings.Contains(findRulesQuery, "tenant_id = $1") {
		t.Fatalf("expected tenant predicate in rule finder query")
	}
	if !strings.Contains(findRulesQuery, "AND active") {
		t.Fatalf("expected active filter in rule finder query")
	}
	if !strings.Contains(findRulesQuery, "ORDER BY created_at ASC") {
		t.Fatalf("expected deterministic rule ordering")
	}
	if !strings.Contains(deactivateRuleQuery, "tenant_id = $1") {
		t.Fatalf("expected tenant predicate in rule deactivate query")
	}
	if !strings.Contains(selectRuleQuery, "tenant_id = $1") {
		t.Fatalf("expected tenant predicate in rule lookup query")
	}
}

func TestValidationQueriesFilterActiveAndTenant(t *testing.T) {
	if !strings.Contains(findValidationsQuery, "tenant_id = $1") {
		t.Fatalf("expected tenant predicate in validation finder query")
	}
	if !strings.Contains(findValidationsQuery, "direction = $4") {
		t.Fatalf("expected direction predicate in validation finder query")
	}
	if !strings.Contains(findValidationsQuery, "AND active") {
		t.Fatalf("expected active filter in validation finder query")
	}
	if !strings.Contains(deactivateValidationQuery, "AND active") {
		t.Fatalf("expected already-inactive guard in validation deactivate query")
	}
}

func TestEntityLookupsAreTenantScoped(t *testing.T) {
	for name, query := range map[string]string{
		"entry":             selectEntryQuery,
		"workflow":          selectWorkflowQuery,
		"workflow by entry": selectWorkflowByEntryQuery,
		"approval":          selectApprovalQuery,
		"document":          selectDocumentQuery,
	} {
		if !strings.Contains(query, "tenant_id = $1") {
			t.Fatalf("expected tenant predicate in %s lookup query", name)
		}
	}
}

func TestLockQueriesTakeRowLocks(t *testing.T) {
	for name, query := range map[string]string{
		"entry":    selectEntryForUpdateQuery,
		"workflow": selectWorkflowForUpdateQuery,
		"approval": selectApprovalForUpdateQuery,
	} {
		if !strings.Contains(query, "FOR UPDATE") {
			t.Fatalf("expected FOR UPDATE in %s lock query", name)
		}
		if !strings.Contains(query, "tenant_id = $1") {
			t.Fatalf("expected tenant predicate in %s lock query", name)
		}
	}
}

func TestProvisioningQueriesAreIdempotent(t *testing.T) {
	if !strings.Contains(insertProjectQuery, "ON CONFLICT (entry_id) DO NOTHING") {
		t.Fatalf("expected conflict absorption in project insert")
	}
	if !strings.Contains(insertWorkflowQuery, "ON CONFLICT (entry_id) DO NOTHING") {
		t.Fatalf("expected conflict absorption in workflow insert")
	}
}

func TestApprovalQueriesGuardPendingState(t *testing.T) {
	if !strings.Contains(insertApprovalQuery, "ON CONFLICT (tenant_id, entity_kind, entity_id) WHERE status = 'pending' DO NOTHING") {
		t.Fatalf("expected partial-index conflict target in approval insert")
	}
	if !strings.Contains(resolveApprovalQuery, "AND status = 'pending'") {
		t.Fatalf("expected pending guard in approval resolve")
	}
	if !strings.Contains(resolveApprovalQuery, "integrity_sha256 = $7") {
		t.Fatalf("expected integrity refresh in approval resolve")
	}
	if !strings.Contains(selectPendingApprovalQuery, "status = 'pending'") {
		t.Fatalf("expected pending predicate in pending approval lookup")
	}
}

func TestStageMutationsResetDwellClock(t *testing.T) {
	for name, query := range map[string]string{
		"entry":    updateEntryStageQuery,
		"workflow": updateWorkflowStageQuery,
	} {
		if !strings.Contains(query, "stage_entered_at = $4") {
			t.Fatalf("expected dwell reset in %s stage update", name)
		}
		if !strings.Contains(query, "updated_at = $4") {
			t.Fatalf("expected updated_at refresh in %s stage update", name)
		}
		if !strings.Contains(query, "tenant_id = $1") {
			t.Fatalf("expected tenant predicate in %s stage update", name)
		}
	}
}

func TestFlagMutationsMergeJSONB(t *testing.T) {
	for name, query := range map[string]string{
		"entry":    setEntryFlagQuery,
		"workflow": setWorkflowFlagByEntryQuery,
	} {
		if !strings.Contains(query, "flags || jsonb_build_object($3::text, $4::boolean)") {
			t.Fatalf("expected jsonb merge in %s flag update", name)
		}
	}
}

func TestEnvelopeInsertDedupsByPayload(t *testing.T) {
	if !strings.Contains(insertEnvelopeQuery, "ON CONFLICT (entry_id, payload_sha256) DO NOTHING") {
		t.Fatalf("expected payload dedup clause in envelope insert")
	}
}

func TestApprovalIntegrityCoversDecision(t *testing.T) {
	pending := domain.ApprovalRequest{
		ApprovalID:  "appr-1",
		TenantID:    "tenant-a",
		EntityKind:  domain.EntityKindEntry,
		EntityID:    "entry-1",
		FromStage:   "contract",
		ToStage:     "legal_review",
		RequestedBy: "rep@sunpath.example",
		RequestedAt: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		Status:      domain.ApprovalStatusPending,
	}
	before, err := approvalIntegrity(pending)
	if err != nil {
		t.Fatalf("approvalIntegrity: %v", err)
	}
	if len(before) != 64 {
		t.Fatalf("integrity = %q, want 64 hex chars", before)
	}

	decidedAt := pending.RequestedAt.Add(time.Hour)
	decided := pending
	decided.Status = domain.ApprovalStatusApproved
	decided.DecidedBy = "manager@sunpath.example"
	decided.DecidedAt = &decidedAt
	after, err := approvalIntegrity(decided)
	if err != nil {
		t.Fatalf("approvalIntegrity: %v", err)
	}
	if before == after {
		t.Fatalf("integrity must change once the request is decided")
	}

	again, err := approvalIntegrity(decided)
	if err != nil {
		t.Fatalf("approvalIntegrity: %v", err)
	}
	if after != again {
		t.Fatalf("integrity must be deterministic")
	}
}

func TestHistoryQueryShape(t *testing.T) {
	query, args, err := historyQuery(selectTransitionColumns, "stage_transitions", "occurred_at", "tenant-a", filterForEntry())
	if err != nil {
		t.Fatalf("historyQuery: %v", err)
	}
	if !strings.Contains(query, "tenant_id = $1") {
		t.Fatalf("expected tenant predicate: %s", query)
	}
	if !strings.Contains(query, "entity_kind = $2") || !strings.Contains(query, "entity_id = $3") {
		t.Fatalf("expected entity predicates: %s", query)
	}
	if !strings.Contains(query, "ORDER BY occurred_at DESC, transition_id DESC") {
		t.Fatalf("expected stable ordering: %s", query)
	}
	if !strings.Contains(query, "LIMIT $4") {
		t.Fatalf("expected limit placeholder: %s", query)
	}
	if len(args) != 4 {
		t.Fatalf("args = %d, want 4", len(args))
	}

	if _, _, err := historyQuery(selectTransitionColumns, "stage_transitions", "occurred_at", " ", filterForEntry()); err == nil {
		t.Fatalf("expected error for blank tenant")
	}
}

func TestDecodeHelpers(t *testing.T) {
	flags, err := decodeFlags([]byte(`{"contract_signed":true}`))
	if err != nil {
		t.Fatalf("decodeFlags: %v", err)
	}
	if !flags.Has("contract_signed") {
		t.Fatalf("flag lost in decode")
	}

	flags, err = decodeFlags(nil)
	if err != nil {
		t.Fatalf("decodeFlags(nil): %v", err)
	}
	if flags == nil {
		t.Fatalf("decodeFlags(nil) returned nil map")
	}

	values, err := decodeStrings([]byte(`["sales_manager"]`))
	if err != nil {
		t.Fatalf("decodeStrings: %v", err)
	}
	if len(values) != 1 || values[0] != "sales_manager" {
		t.Fatalf("values = %v", values)
	}

	values, err = decodeStrings(nil)
	if err != nil {
		t.Fatalf("decodeStrings(nil): %v", err)
	}
	if values == nil {
		t.Fatalf("decodeStrings(nil) returned nil slice")
	}

	raw, err := encodeStrings(nil)
	if err != nil {
		t.Fatalf("encodeStrings(nil): %v", err)
	}
	if string(raw) != "[]" {
		t.Fatalf("encodeStrings(nil) = %s", raw)
	}
}
