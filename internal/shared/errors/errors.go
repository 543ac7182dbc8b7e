package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNoCredentials    = errors.New("no backend credentials configured")
	ErrTokenExpired     = errors.New("cached token expired")
	ErrConfigNotActive  = errors.New("connection config is not active")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrDatabaseError    = errors.New("database error")
	ErrBackendNoContent = errors.New("backend returned no content")
)

// BackendAPIError represents a non-2xx response from a backend control plane
type BackendAPIError struct {
	ServerID   string
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendAPIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend api error (server=%s, status=%d): %s", e.ServerID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("backend api error (server=%s, status=%d): %v", e.ServerID, e.StatusCode, e.Err)
}

func (e *BackendAPIError) Unwrap() error {
	return e.Err
}

// NewBackendAPIError creates a new backend API error
func NewBackendAPIError(serverID string, statusCode int, body string, err error) *BackendAPIError {
	return &BackendAPIError{
		ServerID:   serverID,
		StatusCode: statusCode,
		Body:       body,
		Err:        err,
	}
}

// AuthError represents a failed authentication against a backend
type AuthError struct {
	ServerID string
	Message  string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("backend auth failed (server=%s): %s: %v", e.ServerID, e.Message, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new authentication error
func NewAuthError(serverID, message string, err error) *AuthError {
	return &AuthError{
		ServerID: serverID,
		Message:  message,
		Err:      err,
	}
}

// CompensationError records a failed compensating action after a partial
// allocation. It never replaces the primary error returned to the caller.
type CompensationError struct {
	ServerID  string
	PublicKey string
	Err       error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensating peer delete failed (server=%s, public_key=%s): %v", e.ServerID, e.PublicKey, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// NewCompensationError records a failed compensating peer deletion
func NewCompensationError(serverID, publicKey string, err error) *CompensationError {
	return &CompensationError{
		ServerID:  serverID,
		PublicKey: publicKey,
		Err:       err,
	}
}
