package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeDispatch,
				Message: "workflow engine unavailable",
				Err:     errors.New("nats: no servers available"),
			},
			wantMsg: "dispatch: workflow engine unavailable (nats: no servers available)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same error type", NewDomainError(ErrorTypeNotFound, "not found", nil), ErrRequestNotFound, true},
		{"different error type", NewDomainError(ErrorTypeValidation, "validation", nil), ErrRequestNotFound, false},
		{"not a domain error", NewDomainError(ErrorTypeNotFound, "not found", nil), errors.New("regular error"), false},
		{"conflict matches conflict", fmt.Errorf("approve: %w", ErrInvalidStatus), ErrConcurrentUpdate, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "name").WithDetail("value", "Orders!")

	assert.Equal(t, "name", err.Details["field"])
	assert.Equal(t, "Orders!", err.Details["value"])
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found", ErrRequestNotFound, IsNotFoundError, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrWorkspaceEnvironmentNotFound), IsNotFoundError, true},
		{"validation", ValidationError("name", "bad name"), IsValidationError, true},
		{"validation is not conflict", ErrInvalidInput, IsConflictError, false},
		{"conflict", ErrInvalidStatus, IsConflictError, true},
		{"quota", ErrQuotaExceeded, IsQuotaError, true},
		{"dispatch", WrapDispatch("publish", errors.New("timeout")), IsDispatchError, true},
		{"internal is not dispatch", WrapInternal("db", errors.New("boom")), IsDispatchError, false},
		{"internal", ErrDatabaseError, IsInternalError, true},
		{"unauthorized", ErrTokenExpired, IsUnauthorizedError, true},
		{"forbidden", ErrInsufficientPermissions, IsForbiddenError, true},
		{"regular error", errors.New("regular"), IsNotFoundError, false},
		{"nil error", nil, IsValidationError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeDispatch, GetErrorType(ErrEngineUnavailable))
	assert.Equal(t, ErrorTypeConflict, GetErrorType(fmt.Errorf("x: %w", ErrInvalidStatus)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
}

func TestGetErrorDetails(t *testing.T) {
	err := ValidationError("partitions", "must be positive")
	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "partitions", details["field"])

	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestWrapError(t *testing.T) {
	base := errors.New("connection refused")
	err := WrapError(ErrorTypeInternal, "failed to load policies", base)

	assert.True(t, IsInternalError(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "failed to load policies")
}
