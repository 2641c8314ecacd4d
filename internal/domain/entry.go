package domain

import (
	"errors"
	"strings"
	"time"
)

// PipelineEntry is a deal moving through the sales pipeline. CurrentStage
// and StageEnteredAt only change through the transition engine; flags change
// through document uploads, the e-sign webhook, and transition side effects.
type PipelineEntry struct {
	EntryID        string
	TenantID       string
	Name           string
	Category       string
	ValueCents     int64
	CurrentStage   string
	StageEnteredAt time.Time
	Flags          Flags
	Metadata       Metadata
	CreatedAt      time.Time
	CreatedBy      string
	UpdatedAt      time.Time
}

func (e PipelineEntry) Validate() error {
	if strings.TrimSpace(e.EntryID) == "" {
		return errors.New("entry id is required")
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("entry name is required")
	}
	if e.ValueCents < 0 {
		return errors.New("value cents must not be negative")
	}
	if strings.TrimSpace(e.CurrentStage) == "" {
		return errors.New("current stage is required")
	}
	return nil
}
