package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "account", "server", "backend")
	Domain() string

	// Code returns a stable error code for API responses
	Code() string

	// Retryable indicates if the operation can be retried
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error with the key/value added.
// The receiver is not mutated so shared sentinel errors stay immutable.
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Standardized Error Codes
const (
	// Account Domain Errors
	ErrCodeAccountNotFound    = "account_not_found"
	ErrCodeDeviceLimitReached = "device_limit_reached"

	// Server Domain Errors
	ErrCodeServerNotFound      = "server_not_found"
	ErrCodeServerInactive      = "server_inactive"
	ErrCodeServerMisconfigured = "server_misconfigured"

	// Backend Errors
	ErrCodeBackendAuthFailed        = "backend_auth_failed"
	ErrCodeBackendUnavailable       = "backend_unavailable"
	ErrCodeBackendMalformedResponse = "backend_malformed_response"

	// Allocation Errors
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodePersistenceFailed = "persistence_failed"

	// Monitoring Errors
	ErrCodeProbeFailed = "probe_failed"
	ErrCodeSyncFailed  = "sync_failed"

	// System Errors
	ErrCodeDatabase      = "database_error"
	ErrCodeConfiguration = "config_error"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeTimeout       = "timeout"
)

// Domain Constants
const (
	DomainAccount    = "account"
	DomainServer     = "server"
	DomainBackend    = "backend"
	DomainAllocation = "allocation"
	DomainSync       = "sync"
	DomainHealth     = "health"
	DomainDatabase   = "database"
	DomainSystem     = "system"
	DomainAPI        = "api"
)

// Domain-specific error constructors

// NewAccountError creates a standardized account domain error
func NewAccountError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAccount, code, message, retryable, cause, nil)
}

// NewServerError creates a standardized server domain error
func NewServerError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainServer, code, message, retryable, cause, nil)
}

// NewBackendError creates a standardized backend error
func NewBackendError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainBackend, code, message, retryable, cause, nil)
}

// NewAllocationError creates a standardized allocation error
func NewAllocationError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAllocation, code, message, retryable, cause, nil)
}

// NewSyncError creates a standardized reconciliation error
func NewSyncError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSync, code, message, retryable, cause, nil)
}

// NewHealthError creates a standardized health monitoring error
func NewHealthError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainHealth, code, message, retryable, cause, nil)
}

// NewDatabaseError creates a standardized database error
func NewDatabaseError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainDatabase, code, message, retryable, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// NewDomainAPIError creates a standardized API error
func NewDomainAPIError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAPI, code, message, retryable, cause, nil)
}

// Domain Sentinel Errors - pre-created common errors for fast comparison
var (
	DomainErrAccountNotFound    = NewAccountError(ErrCodeAccountNotFound, "account not found", false, nil)
	DomainErrDeviceLimitReached = NewAccountError(ErrCodeDeviceLimitReached, "device limit reached", false, nil)

	DomainErrServerNotFound      = NewServerError(ErrCodeServerNotFound, "server not found", false, nil)
	DomainErrServerInactive      = NewServerError(ErrCodeServerInactive, "server is not active", false, nil)
	DomainErrServerMisconfigured = NewServerError(ErrCodeServerMisconfigured, "server backend is not configured", false, nil)

	DomainErrBackendUnavailable = NewBackendError(ErrCodeBackendUnavailable, "backend unavailable", true, nil)
	DomainErrPersistenceFailed  = NewAllocationError(ErrCodePersistenceFailed, "failed to persist connection config", true, nil)
	DomainErrDatabaseError      = NewDatabaseError(ErrCodeDatabase, "database error", true, nil)
)

// Helper functions for error checking

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	_, ok := err.(DomainError)
	return ok
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Retryable()
	}
	return false
}

// GetErrorCode returns the error code if it's a DomainError, otherwise returns "unknown"
func GetErrorCode(err error) string {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Code()
	}
	return "unknown"
}

// GetErrorDomain returns the error domain if it's a DomainError, otherwise returns "unknown"
func GetErrorDomain(err error) string {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Domain()
	}
	return "unknown"
}

// HasErrorCode checks if an error has a specific error code
func HasErrorCode(err error, code string) bool {
	return GetErrorCode(err) == code
}

// IsErrorCode checks if any error in the chain has the specified code
func IsErrorCode(err error, code string) bool {
	for err != nil {
		if HasErrorCode(err, code) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// WrapWithDomain wraps an existing error with domain context
func WrapWithDomain(err error, domain, code, message string, retryable bool) DomainError {
	return NewBaseError(domain, code, message, retryable, err, nil)
}
