package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeQuota        ErrorType = "quota_exceeded"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeDispatch     ErrorType = "dispatch"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. Callers that attach details must build a fresh
// error with NewDomainError rather than mutate these.

var (
	ErrPolicyNotFound               = NewDomainError(ErrorTypeNotFound, "policy not found", nil)
	ErrRequestNotFound              = NewDomainError(ErrorTypeNotFound, "provisioning request not found", nil)
	ErrWorkspaceEnvironmentNotFound = NewDomainError(ErrorTypeNotFound, "workspace environment not found", nil)

	ErrInvalidInput         = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidPolicyConfig  = NewDomainError(ErrorTypeValidation, "invalid policy configuration", nil)
	ErrInvalidResourceName  = NewDomainError(ErrorTypeValidation, "invalid resource name", nil)
	ErrInvalidQuotaOverride = NewDomainError(ErrorTypeValidation, "invalid quota override", nil)
	ErrReasonRequired       = NewDomainError(ErrorTypeValidation, "reason is required", nil)

	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	ErrForbidden               = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)

	ErrQuotaExceeded = NewDomainError(ErrorTypeQuota, "workspace quota exceeded", nil)

	ErrInvalidStatus      = NewDomainError(ErrorTypeConflict, "request is not in a status that allows this action", nil)
	ErrConcurrentUpdate   = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)
	ErrNoWorkflowToSignal = NewDomainError(ErrorTypeConflict, "request has no workflow to signal", nil)

	ErrEngineUnavailable = NewDomainError(ErrorTypeDispatch, "workflow engine unavailable", nil)

	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return isType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return isType(err, ErrorTypeForbidden) }

// IsQuotaError checks if an error is a quota error
func IsQuotaError(err error) bool { return isType(err, ErrorTypeQuota) }

// IsConflictError checks if an error is a status guard conflict
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// IsDispatchError reports whether the workflow engine could not be reached.
// Such errors are safe to retry.
func IsDispatchError(err error) bool { return isType(err, ErrorTypeDispatch) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapDispatch wraps a transport failure reaching the workflow engine
func WrapDispatch(message string, err error) error {
	return NewDomainError(ErrorTypeDispatch, message, err)
}

// ValidationError builds a validation error carrying a field detail
func ValidationError(field, message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, nil).WithDetail("field", field)
}
