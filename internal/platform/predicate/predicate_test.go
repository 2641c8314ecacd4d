package predicate

import "testing"

func testContext() Context {
	return Context{
		Actor: Actor{
			Subject: "rep-1",
			Email:   "rep@sunpath.example",
			Roles:   []string{"sales_rep", "editor"},
		},
		Entity: Entity{
			ID:          "f30b8a52-9ab3-4a8f-8f9f-0f2a6d6f9e01",
			Name:        "Acme rooftop",
			Category:    "commercial",
			Stage:       "negotiation",
			TargetStage: "contract_signing",
			ValueCents:  7500000,
		},
		Flags: map[string]bool{
			"contract_signed": true,
			"permit_approved": false,
		},
		Metadata: map[string]any{
			"region": "southwest",
			"site": map[string]any{
				"roof_type": "flat",
				"panels":    float64(42),
			},
		},
	}
}

func TestGroupValidate(t *testing.T) {
	cases := []struct {
		name    string
		group   Group
		wantErr bool
	}{
		{name: "empty group", group: Group{}},
		{
			name:  "valid all",
			group: Group{All: []Condition{{Field: "entity.category", Op: "eq", Value: "commercial"}}},
		},
		{
			name:  "valid in",
			group: Group{Any: []Condition{{Field: "entity.stage", Op: "in", Values: []string{"lead", "qualified"}}}},
		},
		{
			name:    "missing field",
			group:   Group{All: []Condition{{Op: "eq", Value: "x"}}},
			wantErr: true,
		},
		{
			name:    "missing op",
			group:   Group{All: []Condition{{Field: "entity.stage", Value: "x"}}},
			wantErr: true,
		},
		{
			name:    "unknown op",
			group:   Group{All: []Condition{{Field: "entity.stage", Op: "like", Value: "x"}}},
			wantErr: true,
		},
		{
			name:    "in without values",
			group:   Group{All: []Condition{{Field: "entity.stage", Op: "in"}}},
			wantErr: true,
		},
		{
			name:    "eq without value",
			group:   Group{All: []Condition{{Field: "entity.stage", Op: "eq"}}},
			wantErr: true,
		},
		{
			name:  "exists needs no value",
			group: Group{All: []Condition{{Field: "metadata.region", Op: "exists"}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.group.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestGroupMatches(t *testing.T) {
	ctx := testContext()
	cases := []struct {
		name  string
		group Group
		want  bool
	}{
		{name: "zero group matches", group: Group{}, want: true},
		{
			name:  "eq category",
			group: Group{All: []Condition{{Field: "entity.category", Op: "eq", Value: "Commercial"}}},
			want:  true,
		},
		{
			name:  "neq category",
			group: Group{All: []Condition{{Field: "entity.category", Op: "neq", Value: "residential"}}},
			want:  true,
		},
		{
			name:  "in stage",
			group: Group{All: []Condition{{Field: "entity.stage", Op: "in", Values: []string{"negotiation", "proposal"}}}},
			want:  true,
		},
		{
			name:  "not_in stage",
			group: Group{All: []Condition{{Field: "entity.stage", Op: "not_in", Values: []string{"lead"}}}},
			want:  true,
		},
		{
			name:  "roles contains",
			group: Group{All: []Condition{{Field: "actor.roles", Op: "contains", Value: "sales_rep"}}},
			want:  true,
		},
		{
			name:  "value gt threshold",
			group: Group{All: []Condition{{Field: "entity.value_cents", Op: "gt", Value: "5000000"}}},
			want:  true,
		},
		{
			name:  "value lt threshold fails",
			group: Group{All: []Condition{{Field: "entity.value_cents", Op: "lt", Value: "5000000"}}},
			want:  false,
		},
		{
			name:  "numeric not lexical",
			group: Group{All: []Condition{{Field: "entity.value_cents", Op: "gt", Value: "900"}}},
			want:  true,
		},
		{
			name:  "flag true",
			group: Group{All: []Condition{{Field: "flags.contract_signed", Op: "eq", Value: "true"}}},
			want:  true,
		},
		{
			name:  "flag false value",
			group: Group{All: []Condition{{Field: "flags.permit_approved", Op: "eq", Value: "true"}}},
			want:  false,
		},
		{
			name:  "flag missing fails eq",
			group: Group{All: []Condition{{Field: "flags.site_survey_done", Op: "eq", Value: "true"}}},
			want:  false,
		},
		{
			name:  "flag exists",
			group: Group{All: []Condition{{Field: "flags.permit_approved", Op: "exists"}}},
			want:  true,
		},
		{
			name:  "metadata string",
			group: Group{All: []Condition{{Field: "metadata.region", Op: "eq", Value: "southwest"}}},
			want:  true,
		},
		{
			name:  "metadata nested",
			group: Group{All: []Condition{{Field: "metadata.site.roof_type", Op: "eq", Value: "flat"}}},
			want:  true,
		},
		{
			name:  "metadata nested number",
			group: Group{All: []Condition{{Field: "metadata.site.panels", Op: "gte", Value: "40"}}},
			want:  true,
		},
		{
			name:  "metadata missing",
			group: Group{All: []Condition{{Field: "metadata.owner", Op: "exists"}}},
			want:  false,
		},
		{
			name:  "matches regex",
			group: Group{All: []Condition{{Field: "entity.name", Op: "matches", Value: "^Acme"}}},
			want:  true,
		},
		{
			name:  "bad regex never matches",
			group: Group{All: []Condition{{Field: "entity.name", Op: "matches", Value: "("}}},
			want:  false,
		},
		{
			name: "all must hold",
			group: Group{All: []Condition{
				{Field: "entity.category", Op: "eq", Value: "commercial"},
				{Field: "entity.stage", Op: "eq", Value: "lead"},
			}},
			want: false,
		},
		{
			name: "any one suffices",
			group: Group{Any: []Condition{
				{Field: "entity.stage", Op: "eq", Value: "lead"},
				{Field: "entity.stage", Op: "eq", Value: "negotiation"},
			}},
			want: true,
		},
		{
			name: "all and any combined",
			group: Group{
				All: []Condition{{Field: "entity.category", Op: "eq", Value: "commercial"}},
				Any: []Condition{{Field: "flags.contract_signed", Op: "eq", Value: "true"}},
			},
			want: true,
		},
		{
			name:  "target stage",
			group: Group{All: []Condition{{Field: "target_stage", Op: "eq", Value: "contract_signing"}}},
			want:  true,
		},
		{
			name:  "unknown field fails closed",
			group: Group{All: []Condition{{Field: "entity.owner", Op: "eq", Value: "x"}}},
			want:  false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.group.Matches(ctx); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolveFieldValueUnset(t *testing.T) {
	ctx := Context{}
	if _, ok := resolveField(ctx, "entity.value_cents"); ok {
		t.Fatalf("zero value should resolve as unset")
	}
	if _, ok := resolveField(ctx, "actor.roles"); ok {
		t.Fatalf("empty roles should resolve as unset")
	}
}
