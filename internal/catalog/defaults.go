package catalog

// DefaultSpec returns the stock sales and production catalogs for a tenant.
// Tenants start from this spec and reshape it with their own seed files.
func DefaultSpec(tenantID string) Spec {
	return Spec{
		Schema:   SpecSchemaV1,
		TenantID: tenantID,
		Stages: StageSpecs{
			Pipeline: []StageSpec{
				{Key: "lead", Name: "Lead", Ord: 1},
				{Key: "qualified", Name: "Qualified", Ord: 2},
				{Key: "appointment", Name: "Appointment", Ord: 3},
				{Key: "proposal", Name: "Proposal", Ord: 4},
				{Key: "contract", Name: "Contract", Ord: 5},
				{Key: "legal_review", Name: "Legal Review", Ord: 6},
				{Key: "project", Name: "Project", Ord: 7},
				{Key: "completed", Name: "Completed", Ord: 8, Terminal: true},
				{Key: "canceled", Name: "Canceled", Ord: 9, Terminal: true},
			},
			Production: []StageSpec{
				{Key: "submit_documents", Name: "Submit Documents", Ord: 1},
				{Key: "design_review", Name: "Design Review", Ord: 2},
				{Key: "engineering", Name: "Engineering", Ord: 3},
				{Key: "permit_submitted", Name: "Permit Submitted", Ord: 4},
				{Key: "permit_approved", Name: "Permit Approved", Ord: 5},
				{Key: "schedule_install", Name: "Schedule Install", Ord: 6},
				{Key: "installation", Name: "Installation", Ord: 7},
				{Key: "inspection", Name: "Inspection", Ord: 8},
				{Key: "utility_interconnection", Name: "Utility Interconnection", Ord: 9},
				{Key: "activation", Name: "Activation", Ord: 10},
				{Key: "complete", Name: "Complete", Ord: 11, Terminal: true},
			},
		},
	}
}
