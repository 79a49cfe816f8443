package utils

import (
	"errors"
	"fmt"
	"strings"
)

// InputDataError represents a malformed or incomplete alert record.
// The record is skipped and counted; the job continues.
type InputDataError struct {
	AlertID string
	Field   string
	Message string
}

// Error returns the error message string.
func (e *InputDataError) Error() string {
	if e.AlertID == "" {
		return fmt.Sprintf("invalid alert: %s", e.Message)
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid alert %s: %s", e.AlertID, e.Message)
	}
	return fmt.Sprintf("invalid alert %s: %s: %s", e.AlertID, e.Field, e.Message)
}

// NewInputDataError creates a new InputDataError for an alert field.
//
// Parameters:
//   - alertID: The alert identifier, empty when unknown.
//   - field: The offending criteria field, empty for whole-record problems.
//   - message: The validation error message.
//
// Returns:
//   - An error interface wrapping the InputDataError.
func NewInputDataError(alertID, field, message string) error {
	return &InputDataError{
		AlertID: alertID,
		Field:   field,
		Message: message,
	}
}

// NewInputDataErrorf creates a new InputDataError with a formatted message.
//
// Parameters:
//   - alertID: The alert identifier.
//   - field: The offending criteria field.
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the InputDataError.
func NewInputDataErrorf(alertID, field, format string, args ...interface{}) error {
	return &InputDataError{
		AlertID: alertID,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// ScoringError represents a failure while scoring one candidate against one funder.
type ScoringError struct {
	FunderID  string
	MemberIDs []string
	Cause     error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring error for funder %s and members [%s]: %v",
		e.FunderID, strings.Join(e.MemberIDs, ","), e.Cause)
}

func (e *ScoringError) Unwrap() error {
	return e.Cause
}

// Summary returns the short form stored as a proposal failure reason.
func (e *ScoringError) Summary() string {
	if e.Cause == nil {
		return "scoring error"
	}
	return "scoring error: " + e.Cause.Error()
}

// NewScoringError creates a new ScoringError.
func NewScoringError(funderID string, memberIDs []string, cause error) error {
	return &ScoringError{
		FunderID:  funderID,
		MemberIDs: memberIDs,
		Cause:     cause,
	}
}

// PersistenceError represents a repository write failure other than the
// expected idempotency conflict.
type PersistenceError struct {
	Operation string
	Cause     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Operation, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(operation string, cause error) error {
	return &PersistenceError{
		Operation: operation,
		Cause:     cause,
	}
}

// InfrastructureError represents an unreachable collaborator. It aborts the job.
type InfrastructureError struct {
	Component string
	Cause     error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Cause)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}

// NewInfrastructureError creates a new InfrastructureError.
//
// Parameters:
//   - component: The collaborator that failed, such as alert_store or match_repository.
//   - cause: The underlying error.
//
// Returns:
//   - An *InfrastructureError.
func NewInfrastructureError(component string, cause error) *InfrastructureError {
	return &InfrastructureError{
		Component: component,
		Cause:     cause,
	}
}

// IsInputDataError reports whether err contains an InputDataError.
func IsInputDataError(err error) bool {
	var target *InputDataError
	return errors.As(err, &target)
}

// IsScoringError reports whether err contains a ScoringError.
func IsScoringError(err error) bool {
	var target *ScoringError
	return errors.As(err, &target)
}

// IsPersistenceError reports whether err contains a PersistenceError.
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsInfrastructureError reports whether err contains an InfrastructureError.
func IsInfrastructureError(err error) bool {
	var target *InfrastructureError
	return errors.As(err, &target)
}
