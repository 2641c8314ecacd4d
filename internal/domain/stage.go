package domain

import (
	"errors"
	"strings"
	"time"
)

// Workflow names one of the two stage catalogs an entity moves through.
type Workflow string

const (
	WorkflowPipeline   Workflow = "pipeline"
	WorkflowProduction Workflow = "production"
)

func (w Workflow) Valid() bool {
	switch w {
	case WorkflowPipeline, WorkflowProduction:
		return true
	default:
		return false
	}
}

// Stage is one step of a tenant's catalog. Identity is (tenant, workflow,
// key); ord gives the position used for the production no-skip check.
type Stage struct {
	TenantID  string
	Workflow  Workflow
	Key       string
	Name      string
	Ord       int
	Terminal  bool
	CreatedAt time.Time
}

func (s Stage) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if !s.Workflow.Valid() {
		return errors.New("invalid workflow")
	}
	if strings.TrimSpace(s.Key) == "" {
		return errors.New("stage key is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("stage name is required")
	}
	if s.Ord <= 0 {
		return errors.New("stage ord must be positive")
	}
	return nil
}

// Stage keys and flag names baked into the engine. The first production
// stage gates its exit on the two document flags below regardless of any
// tenant-configured validations; entering the project stage provisions the
// production side.
const (
	StageSubmitDocuments = "submit_documents"
	StageProject         = "project"

	FlagContractSigned      = "contract_signed"
	FlagUtilityBillUploaded = "utility_bill_uploaded"
)

// SubmitDocumentsExitFlags lists the flags that must all be true before an
// entity may leave submit_documents.
var SubmitDocumentsExitFlags = []string{FlagContractSigned, FlagUtilityBillUploaded}

// DocumentFlag maps a document kind to the flag a successful upload sets,
// e.g. "utility_bill" to "utility_bill_uploaded".
func DocumentFlag(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	if k == "" {
		return ""
	}
	return k + "_uploaded"
}
