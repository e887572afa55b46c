package patient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no record matches the given identifier.
	ErrNotFound = errors.New("patient not found")

	// ErrEmailConflict is returned when a mutation would violate email
	// uniqueness across records.
	ErrEmailConflict = errors.New("email already registered")
)

// FieldViolation describes a single invalid input field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects malformed input before any side effect runs.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StoreError marks a record store failure during the primary write or read.
// It aborts the request and surfaces as a server error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("patient store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DependencyError marks a post-commit side effect failure (event publish or
// billing call). It is logged but never alters the client-visible outcome.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
