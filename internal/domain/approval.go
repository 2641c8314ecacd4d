package domain

import (
	"errors"
	"strings"
	"time"
)

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	default:
		return false
	}
}

// ApprovalRequest parks a transition behind a second pair of eyes. At most
// one pending request exists per entity; resolution is terminal.
type ApprovalRequest struct {
	ApprovalID      string
	TenantID        string
	EntityKind      EntityKind
	EntityID        string
	FromStage       string
	ToStage         string
	Reason          string
	RequestedBy     string
	RequestedAt     time.Time
	Status          ApprovalStatus
	DecidedBy       string
	DecidedAt       *time.Time
	Notes           string
	IntegritySHA256 string
}

func (a ApprovalRequest) Validate() error {
	if strings.TrimSpace(a.ApprovalID) == "" {
		return errors.New("approval id is required")
	}
	if strings.TrimSpace(a.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if !a.EntityKind.Valid() {
		return errors.New("invalid entity kind")
	}
	if strings.TrimSpace(a.EntityID) == "" {
		return errors.New("entity id is required")
	}
	if strings.TrimSpace(a.FromStage) == "" {
		return errors.New("from stage is required")
	}
	if strings.TrimSpace(a.ToStage) == "" {
		return errors.New("to stage is required")
	}
	if strings.TrimSpace(a.RequestedBy) == "" {
		return errors.New("requested by is required")
	}
	if !a.Status.Valid() {
		return errors.New("invalid approval status")
	}
	return nil
}

func (a ApprovalRequest) Pending() bool {
	return a.Status == ApprovalStatusPending
}

var (
	// ErrApprovalNotPending is returned when resolving an already-decided
	// request.
	ErrApprovalNotPending = errors.New("approval is not pending")
	// ErrSelfReview is returned when the requester tries to resolve their
	// own request.
	ErrSelfReview = errors.New("approval requires a second reviewer")
)

// CanResolve reports whether the reviewer may decide this request: it must
// still be pending and the reviewer must not be the requester.
func (a ApprovalRequest) CanResolve(reviewer string) error {
	if !a.Pending() {
		return ErrApprovalNotPending
	}
	if strings.EqualFold(strings.TrimSpace(reviewer), strings.TrimSpace(a.RequestedBy)) {
		return ErrSelfReview
	}
	return nil
}
