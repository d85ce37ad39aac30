package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeAuthorization      ErrorType = "authorization"
	ErrorTypeAuthentication     ErrorType = "authentication"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeInternal           ErrorType = "internal"
	ErrorTypeStorageUnavailable ErrorType = "storage_unavailable"
	ErrorTypeRemoteApply        ErrorType = "remote_apply"
	ErrorTypeRateLimited        ErrorType = "rate_limited"
	ErrorTypeConflict           ErrorType = "conflict"
)

// MedrexError represents a structured error in the EMR service
type MedrexError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *MedrexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *MedrexError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeAuthorization,
		Code:    code,
		Message: message,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeAuthentication,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewStorageUnavailableError reports that the local database cannot be used
func NewStorageUnavailableError(message string, cause error) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeStorageUnavailable,
		Code:    ErrCodeStorageUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewRemoteApplyError reports a failed replay against the remote target
func NewRemoteApplyError(message string, cause error, details map[string]interface{}) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeRemoteApply,
		Code:    ErrCodeRemoteApplyFailed,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// NewRateLimitError reports that a caller exhausted its request budget
func NewRateLimitError(message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeRateLimited,
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewConflictError reports a create for an id that is already stored
func NewConflictError(message string, details map[string]interface{}) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeAlreadyExists,
		Message: message,
		Details: details,
	}
}

// ErrUnauthorized is returned by operations the current principal may not call
var ErrUnauthorized = NewAuthorizationError(ErrCodeUnauthorized, "Unauthorized")

func hasType(err error, t ErrorType) bool {
	var me *MedrexError
	return errors.As(err, &me) && me.Type == t
}

// IsStorageUnavailable reports whether err is a storage availability failure
func IsStorageUnavailable(err error) bool { return hasType(err, ErrorTypeStorageUnavailable) }

// IsUnauthorized reports whether err is an authorization failure
func IsUnauthorized(err error) bool { return hasType(err, ErrorTypeAuthorization) }

// IsUnauthenticated reports whether err is an authentication failure
func IsUnauthenticated(err error) bool { return hasType(err, ErrorTypeAuthentication) }

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsRemoteApply reports whether err is a remote replay failure
func IsRemoteApply(err error) bool { return hasType(err, ErrorTypeRemoteApply) }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return hasType(err, ErrorTypeConflict) }

// Common error codes
const (
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeStorageUnavailable   = "STORAGE_UNAVAILABLE"
	ErrCodeRemoteApplyFailed    = "REMOTE_APPLY_FAILED"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeAlreadyExists        = "ALREADY_EXISTS"
)
