package domain

import (
	"errors"
	"strings"
	"time"
)

// Project is the production-side record provisioned exactly once per entry
// when the entry reaches the project stage. UNIQUE(entry_id) makes the
// provisioning idempotent.
type Project struct {
	ProjectID       string
	TenantID        string
	EntryID         string
	Name            string
	CreatedAt       time.Time
	CreatedBy       string
	IntegritySHA256 string
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(p.EntryID) == "" {
		return errors.New("entry id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("project name is required")
	}
	return nil
}

// ProductionWorkflow tracks an entry's install through the ordered
// production catalog. Provisioned alongside its project, starting at the
// lowest-ord production stage.
type ProductionWorkflow struct {
	WorkflowID     string
	TenantID       string
	EntryID        string
	ProjectID      string
	CurrentStage   string
	StageEnteredAt time.Time
	Flags          Flags
	Metadata       Metadata
	CreatedAt      time.Time
	CreatedBy      string
	UpdatedAt      time.Time
}

func (w ProductionWorkflow) Validate() error {
	if strings.TrimSpace(w.WorkflowID) == "" {
		return errors.New("workflow id is required")
	}
	if strings.TrimSpace(w.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(w.EntryID) == "" {
		return errors.New("entry id is required")
	}
	if strings.TrimSpace(w.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(w.CurrentStage) == "" {
		return errors.New("current stage is required")
	}
	return nil
}
