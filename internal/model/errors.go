package model

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed input or a disallowed transition.
type ValidationError struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown plan or item id.
type NotFoundError struct {
	Kind string // "plan" or "item"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports an optimistic-concurrency version mismatch.
type ConflictError struct {
	ItemID   string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: item %s is at version %d, caller read version %d", e.ItemID, e.Actual, e.Expected)
}

// PlanFinalizedError reports a mutation attempted after finalization.
type PlanFinalizedError struct {
	PlanID string
}

func (e *PlanFinalizedError) Error() string {
	return fmt.Sprintf("plan %s is finalized; items are read-only", e.PlanID)
}

// NotReadyError reports a finalize attempt while unresolved items remain.
type NotReadyError struct {
	PlanID     string
	Unresolved []UnresolvedItem
}

func (e *NotReadyError) Error() string {
	parts := make([]string, 0, len(e.Unresolved))
	for _, u := range e.Unresolved {
		parts = append(parts, fmt.Sprintf("%s (%s)", u.ItemID, u.Status))
	}
	return fmt.Sprintf("plan %s not ready for finalization: %d unresolved item(s): %s",
		e.PlanID, len(e.Unresolved), strings.Join(parts, ", "))
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsPlanFinalized reports whether err is or wraps a PlanFinalizedError.
func IsPlanFinalized(err error) bool {
	var target *PlanFinalizedError
	return errors.As(err, &target)
}

// IsNotReady reports whether err is or wraps a NotReadyError.
func IsNotReady(err error) bool {
	var target *NotReadyError
	return errors.As(err, &target)
}
