// Package shared provides the error taxonomy and identifier type used across
// the membership domain.
package shared

import (
	"errors"
	"fmt"
)

// Domain errors. Engine callers branch on these with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrLastAdmin       = errors.New("group must keep at least one admin")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error codes carried by DomainError.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeLastAdmin       = "LAST_ADMIN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInvalidArgument = "INVALID_ARGUMENT"
)

// DomainError represents a domain-specific error.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError.
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NotFoundError reports a missing row.
func NotFoundError(message string) error {
	return NewDomainError(CodeNotFound, message, ErrNotFound)
}

// ConflictError reports a duplicate membership row or a second confirmed membership.
func ConflictError(message string) error {
	return NewDomainError(CodeConflict, message, ErrConflict)
}

// LastAdminError reports a transition that would leave a group without an admin.
func LastAdminError(message string) error {
	return NewDomainError(CodeLastAdmin, message, ErrLastAdmin)
}

// UnauthorizedError reports a capability denial.
func UnauthorizedError(message string) error {
	return NewDomainError(CodeUnauthorized, message, ErrUnauthorized)
}

// InvalidArgumentError reports a malformed identifier or input.
func InvalidArgumentError(message string) error {
	return NewDomainError(CodeInvalidArgument, message, ErrInvalidArgument)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsLastAdmin checks if the error is a last-admin error.
func IsLastAdmin(err error) bool {
	return errors.Is(err, ErrLastAdmin)
}

// IsUnauthorized checks if the error is an unauthorized error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidArgument checks if the error is an invalid argument error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsDomainError reports whether err belongs to the domain taxonomy rather than
// the storage or transport layer.
func IsDomainError(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return true
	}
	return IsNotFound(err) || IsConflict(err) || IsLastAdmin(err) ||
		IsUnauthorized(err) || IsInvalidArgument(err)
}
