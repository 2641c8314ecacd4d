package domain

import "time"

// TransitionRecord is one committed stage change, read back from the
// stage_transitions stream.
type TransitionRecord struct {
	TransitionID    int64
	TenantID        string
	EntityKind      EntityKind
	EntityID        string
	FromStage       string
	ToStage         string
	Actor           string
	OccurredAt      time.Time
	IsBackward      bool
	ViaApprovalID   string
	Reason          string
	Metadata        Metadata
	IntegritySHA256 string
}

// TransitionAttempt is one blocked transition, read back from the
// transition_attempts stream.
type TransitionAttempt struct {
	AttemptID       int64
	TenantID        string
	EntityKind      EntityKind
	EntityID        string
	FromStage       string
	ToStage         string
	Actor           string
	AttemptedAt     time.Time
	Outcome         string
	RejectKind      string
	RejectMessage   string
	RuleID          string
	IntegritySHA256 string
}
