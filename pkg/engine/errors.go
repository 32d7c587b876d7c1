package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: dropped SSH channels, hosts still booting.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// On create the resource is considered created and polling continues.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid properties, permission denied, failed chef runs.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Code:    ErrCodeRateLimited,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a permanent error with the NOT_FOUND code.
func NewNotFoundError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Code:    ErrCodeNotFound,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsNotFound returns true if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeNotFound
	}
	return false
}

// IsRetryable returns true if running the action again may succeed.
// Transient and throttled errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// ClassOf returns the class and code of err, or permanent with no code for
// errors that were never classified.
func ClassOf(err error) (ErrorClass, string) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, e.Code
	}
	return ErrorClassPermanent, ""
}

// ResourceFailure is the terminal error reported for a resource action.
type ResourceFailure struct {
	Resource string
	Action   Action
	Err      error
}

func (f *ResourceFailure) Error() string {
	return fmt.Sprintf("%s failed for resource %s: %v", f.Action, f.Resource, f.Err)
}

func (f *ResourceFailure) Unwrap() error {
	return f.Err
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeCommandFailed    = "COMMAND_FAILED"
	ErrCodeConnection       = "CONNECTION_FAILED"
)
