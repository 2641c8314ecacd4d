package transitions

import (
	"context"
	"testing"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/engine"
)

func validAttemptInput() AttemptInput {
	return AttemptInput{
		TenantID:    "tenant-a",
		EntityID:    "entry-1",
		TargetStage: "qualified",
		Actor:       engine.Actor{Subject: "rep@sunpath.example", Roles: []string{"sales_rep"}},
	}
}

func TestAttemptInputValidate(t *testing.T) {
	if err := validAttemptInput().validate(); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AttemptInput)
	}{
		{"missing tenant", func(in *AttemptInput) { in.TenantID = " " }},
		{"missing entity", func(in *AttemptInput) { in.EntityID = "" }},
		{"missing target", func(in *AttemptInput) { in.TargetStage = "" }},
		{"missing actor", func(in *AttemptInput) { in.Actor.Subject = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validAttemptInput()
			tc.mutate(&in)
			if err := in.validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestResourceType(t *testing.T) {
	if got := resourceType(domain.EntityKindEntry); got != "pipeline_entry" {
		t.Fatalf("resourceType(entry) = %q", got)
	}
	if got := resourceType(domain.EntityKindProduction); got != "production_workflow" {
		t.Fatalf("resourceType(production) = %q", got)
	}
}

func TestLockEntityRejectsUnknownKind(t *testing.T) {
	s := New(nil, nil, nil, nil)
	if _, err := s.lockEntity(context.Background(), nil, domain.EntityKind("order"), "tenant-a", "id-1"); err == nil {
		t.Fatalf("expected error for unknown entity kind")
	}
}
