package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ValidationDirection string

const (
	ValidationDirectionEnter ValidationDirection = "enter"
	ValidationDirectionExit  ValidationDirection = "exit"
)

func (d ValidationDirection) Valid() bool {
	switch d {
	case ValidationDirectionEnter, ValidationDirectionExit:
		return true
	default:
		return false
	}
}

type ValidationKind string

const (
	// ValidationDocumentRequired requires the "<kind>_uploaded" flag.
	// Config: {"kind": "contract"}.
	ValidationDocumentRequired ValidationKind = "document_required"
	// ValidationFieldRequired requires a non-empty entity field.
	// Config: {"field": "metadata.finance_partner"}.
	ValidationFieldRequired ValidationKind = "field_required"
	// ValidationMinDwell requires a minimum time in the current stage.
	// Config: {"seconds": 86400}.
	ValidationMinDwell ValidationKind = "min_dwell"
	// ValidationDependency requires a named prerequisite flag to be true.
	// Config: {"flag": "site_survey_done"}.
	ValidationDependency ValidationKind = "dependency"
)

func (k ValidationKind) Valid() bool {
	switch k {
	case ValidationDocumentRequired, ValidationFieldRequired, ValidationMinDwell, ValidationDependency:
		return true
	default:
		return false
	}
}

// StageValidation is a tenant-configured check applied when an entity exits
// or enters a stage.
type StageValidation struct {
	ValidationID string
	TenantID     string
	Workflow     Workflow
	StageKey     string
	Direction    ValidationDirection
	Kind         ValidationKind
	Config       Metadata
	ErrorMessage string
	Active       bool
	CreatedAt    time.Time
}

func (v StageValidation) Validate() error {
	if strings.TrimSpace(v.ValidationID) == "" {
		return errors.New("validation id is required")
	}
	if strings.TrimSpace(v.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if !v.Workflow.Valid() {
		return errors.New("invalid workflow")
	}
	if strings.TrimSpace(v.StageKey) == "" {
		return errors.New("stage key is required")
	}
	if !v.Direction.Valid() {
		return errors.New("invalid validation direction")
	}
	if !v.Kind.Valid() {
		return errors.New("invalid validation kind")
	}
	switch v.Kind {
	case ValidationDocumentRequired:
		if _, err := v.DocumentKind(); err != nil {
			return err
		}
	case ValidationFieldRequired:
		if _, err := v.FieldPath(); err != nil {
			return err
		}
	case ValidationMinDwell:
		if _, err := v.MinDwell(); err != nil {
			return err
		}
	case ValidationDependency:
		if _, err := v.DependencyFlag(); err != nil {
			return err
		}
	}
	return nil
}

// DocumentKind returns config["kind"] for document_required validations.
func (v StageValidation) DocumentKind() (string, error) {
	return v.configString("kind")
}

// FieldPath returns config["field"] for field_required validations.
func (v StageValidation) FieldPath() (string, error) {
	return v.configString("field")
}

// DependencyFlag returns config["flag"] for dependency validations.
func (v StageValidation) DependencyFlag() (string, error) {
	return v.configString("flag")
}

// MinDwell returns config["seconds"] as a duration for min_dwell validations.
func (v StageValidation) MinDwell() (time.Duration, error) {
	raw, ok := v.Config["seconds"]
	if !ok {
		return 0, errors.New("validation config seconds is required")
	}
	var seconds int64
	switch n := raw.(type) {
	case int:
		seconds = int64(n)
	case int64:
		seconds = n
	case float64:
		seconds = int64(n)
	default:
		return 0, fmt.Errorf("validation config seconds has invalid type %T", raw)
	}
	if seconds <= 0 {
		return 0, errors.New("validation config seconds must be positive")
	}
	return time.Duration(seconds) * time.Second, nil
}

func (v StageValidation) configString(key string) (string, error) {
	raw, ok := v.Config[key]
	if !ok {
		return "", fmt.Errorf("validation config %s is required", key)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("validation config %s must be a non-empty string", key)
	}
	return strings.TrimSpace(s), nil
}

// Message returns the configured error message or a generated one.
func (v StageValidation) Message() string {
	if strings.TrimSpace(v.ErrorMessage) != "" {
		return strings.TrimSpace(v.ErrorMessage)
	}
	switch v.Kind {
	case ValidationDocumentRequired:
		kind, _ := v.DocumentKind()
		return fmt.Sprintf("document %q must be uploaded before leaving %s", kind, v.StageKey)
	case ValidationFieldRequired:
		field, _ := v.FieldPath()
		return fmt.Sprintf("field %q is required", field)
	case ValidationMinDwell:
		return fmt.Sprintf("minimum dwell time in %s not met", v.StageKey)
	case ValidationDependency:
		flag, _ := v.DependencyFlag()
		return fmt.Sprintf("prerequisite %q not met", flag)
	default:
		return "validation failed"
	}
}
