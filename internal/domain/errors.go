package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("unauthorized")
)

// ValidationError describes why a session payload was rejected.
// FieldErrors is keyed by field path, e.g. "durationMs" or "splits.3.t".
type ValidationError struct {
	FieldErrors map[string][]string `json:"fieldErrors"`
	FormErrors  []string            `json:"formErrors"`
}

// NewValidationError returns an empty ValidationError ready to collect issues
func NewValidationError() *ValidationError {
	return &ValidationError{
		FieldErrors: make(map[string][]string),
		FormErrors:  []string{},
	}
}

// Add records a problem with a field
func (e *ValidationError) Add(field, msg string) {
	e.FieldErrors[field] = append(e.FieldErrors[field], msg)
}

// AddForm records a problem with the payload as a whole
func (e *ValidationError) AddForm(msg string) {
	e.FormErrors = append(e.FormErrors, msg)
}

// Empty reports whether no issues were recorded
func (e *ValidationError) Empty() bool {
	return len(e.FieldErrors) == 0 && len(e.FormErrors) == 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.FieldErrors)+len(e.FormErrors))
	parts = append(parts, e.FormErrors...)

	fields := make([]string, 0, len(e.FieldErrors))
	for f := range e.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(e.FieldErrors[f], "; ")))
	}
	return "invalid session payload: " + strings.Join(parts, ", ")
}

// PersistenceError is a storage failure during a write. The unit of work
// it belongs to has already been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidationError checks if an error is a payload validation failure
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistenceError checks if an error is a storage failure during a write
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
