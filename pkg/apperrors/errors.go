// Package apperrors defines the structured error kinds returned by the
// requirement, baseline, change-control, and traceability stores. Every
// error carries a machine-readable code so the HTTP layer can map it to a
// stable status without string matching.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed or missing required input.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation builds a ValidationError for the given field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:    "VALIDATION_FAILED",
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFoundError reports a missing or tombstoned entity.
type NotFoundError struct {
	Code     string `json:"code"`
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError for the given resource and id.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Code: "NOT_FOUND", Resource: resource, ID: id}
}

// InvalidTransitionError reports a status change not permitted from the
// current state. From and To are included for caller diagnostics.
type InvalidTransitionError struct {
	Code    string `json:"code"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (e *InvalidTransitionError) Error() string {
	return e.Message
}

// InvalidTransition builds an InvalidTransitionError for from -> to.
func InvalidTransition(from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{
		Code:    "INVALID_TRANSITION",
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %s to %s", from, to),
	}
}

// ConflictError reports an operation that would violate an invariant, such
// as deleting a requirement with children or active change requests.
type ConflictError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Conflict builds a ConflictError.
func Conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Code: "CONFLICT", Message: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflictError reports a failed optimistic-concurrency check.
// The caller may retry with fresh state; stores retry a bounded number of
// times before surfacing this error.
type ConcurrencyConflictError struct {
	Code     string `json:"code"`
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Resource, e.ID)
}

// ConcurrencyConflict builds a ConcurrencyConflictError.
func ConcurrencyConflict(resource, id string) *ConcurrencyConflictError {
	return &ConcurrencyConflictError{Code: "CONCURRENCY_CONFLICT", Resource: resource, ID: id}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConcurrencyConflict reports whether err is a ConcurrencyConflictError.
func IsConcurrencyConflict(err error) bool {
	var cc *ConcurrencyConflictError
	return errors.As(err, &cc)
}

// HTTPStatus maps a domain error to its HTTP status code. Unrecognized
// errors map to 500.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		nf *NotFoundError
		it *InvalidTransitionError
		cf *ConflictError
		cc *ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &it):
		return http.StatusConflict
	case errors.As(err, &cf):
		return http.StatusConflict
	case errors.As(err, &cc):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
