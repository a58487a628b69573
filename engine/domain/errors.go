package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for lookup and validation failures.
var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrPolicyNotFound  = errors.New("policy text not found")

	ErrInvalidPatient      = errors.New("invalid patient")
	ErrNegativeAge         = errors.New("age must be non-negative")
	ErrMissingDiagnosis    = errors.New("diagnosis code is required")
	ErrMissingProcedure    = errors.New("procedure code is required")
	ErrMalformedCode       = errors.New("malformed code")
	ErrMalformedLabResults = errors.New("malformed lab results")
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
