package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the tier of an error and decides whether a run can continue.
type ErrorClass string

const (
	// ErrorClassFatal aborts the run.
	// Examples: result store unreachable, destination table missing, malformed configuration.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassIsolated is recorded against a single resource and the batch moves on.
	// Examples: backup write failed, native delete rejected, tag lookup failed.
	ErrorClassIsolated ErrorClass = "isolated"

	// ErrorClassNotFound indicates the resource no longer exists in the account.
	// During cleanup it is treated as isolated.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInvalid indicates invalid input such as a bad partition or query.
	ErrorClassInvalid ErrorClass = "invalid"
)

// Sentinel errors shared between packages.
var (
	// ErrNotFound is returned by collectors when a resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrSinkUnavailable is returned when the result store cannot be reached or its schema is missing.
	ErrSinkUnavailable = errors.New("result sink unavailable")

	// ErrInvalidTransition is returned when a cleanup transaction step runs out of order.
	ErrInvalidTransition = errors.New("invalid cleanup transition")
)

// RosieError represents a classified error with resource context.
// nolint:revive // RosieError is intentionally named to distinguish from standard errors
type RosieError struct {
	// Class is the error tier.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Kind is the resource kind involved, if any.
	Kind Kind `json:"kind,omitempty"`

	// Resource is the resource name involved, if any.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details carries additional context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RosieError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	switch {
	case e.Resource != "" && e.Kind != "":
		return fmt.Sprintf("[%s] %s (kind=%s, resource=%s)", e.Class, msg, e.Kind, e.Resource)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, msg, e.Resource)
	default:
		return fmt.Sprintf("[%s] %s", e.Class, msg)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RosieError) Unwrap() error {
	return e.Err
}

// Is matches another RosieError with the same class and code.
func (e *RosieError) Is(target error) bool {
	t, ok := target.(*RosieError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalError creates an error that aborts the run.
func NewFatalError(message string, err error) *RosieError {
	return &RosieError{Class: ErrorClassFatal, Message: message, Err: err}
}

// NewIsolatedError creates an error scoped to a single resource.
func NewIsolatedError(message string, err error) *RosieError {
	return &RosieError{Class: ErrorClassIsolated, Message: message, Err: err}
}

// NewNotFoundError creates an error for a resource missing from the account.
func NewNotFoundError(kind Kind, name string) *RosieError {
	return &RosieError{
		Class:    ErrorClassNotFound,
		Message:  "resource not found",
		Code:     ErrCodeNotFound,
		Kind:     kind,
		Resource: name,
		Err:      ErrNotFound,
	}
}

// NewInvalidError creates an error for rejected input.
func NewInvalidError(message string, err error) *RosieError {
	return &RosieError{Class: ErrorClassInvalid, Message: message, Code: ErrCodeValidation, Err: err}
}

// WithResource adds resource context to an error.
func (e *RosieError) WithResource(kind Kind, name string) *RosieError {
	e.Kind = kind
	e.Resource = name
	return e
}

// WithCode adds an error code to an error.
func (e *RosieError) WithCode(code string) *RosieError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *RosieError) WithDetail(key string, value interface{}) *RosieError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *RosieError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsFatal reports whether err must abort the run. Sink unavailability is always fatal.
func IsFatal(err error) bool {
	if errors.Is(err, ErrSinkUnavailable) {
		return true
	}
	c, ok := classOf(err)
	return ok && c == ErrorClassFatal
}

// IsIsolated reports whether err is scoped to a single resource.
// Not-found errors count as isolated.
func IsIsolated(err error) bool {
	c, ok := classOf(err)
	return ok && (c == ErrorClassIsolated || c == ErrorClassNotFound)
}

// IsNotFound reports whether err signals a missing resource.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	c, ok := classOf(err)
	return ok && c == ErrorClassNotFound
}

// Common error codes.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeBackupFailed = "BACKUP_FAILED"
	ErrCodeDeleteFailed = "DELETE_FAILED"
	ErrCodeDescribe     = "DESCRIBE_FAILED"
	ErrCodeSchema       = "SCHEMA_MISSING"
	ErrCodeUnreachable  = "STORE_UNREACHABLE"
)
