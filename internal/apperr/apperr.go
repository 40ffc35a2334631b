// Package apperr provides the structured error taxonomy shared by the
// ingestion, geofence and resolution layers. Every error carries a category
// and a code so callers can branch with errors.Is without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Category groups error codes by the layer that raised them.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryNotFound   Category = "NOT_FOUND"
	CategoryAuth       Category = "AUTH"
	CategoryResolution Category = "RESOLUTION"
	CategoryStorage    Category = "STORAGE"
	CategoryInternal   Category = "INTERNAL"
)

const (
	// Validation codes
	CodeInvalidGeometry = "INVALID_GEOMETRY"
	CodeInvalidFix      = "INVALID_FIX"
	CodeInvalidPayload  = "INVALID_PAYLOAD"

	// Lookup codes
	CodeNotFound  = "NOT_FOUND"
	CodeForbidden = "FORBIDDEN"

	// Resolution codes
	CodeLocationUnresolved = "LOCATION_UNRESOLVED"
	CodeProviderTimeout    = "PROVIDER_TIMEOUT"
	CodeProviderFailed     = "PROVIDER_FAILED"

	CodeStorage    = "STORAGE"
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the service.
type Error struct {
	Category Category
	Code     string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidGeometry    = &Error{Category: CategoryValidation, Code: CodeInvalidGeometry, Message: "invalid geometry"}
	ErrInvalidFix         = &Error{Category: CategoryValidation, Code: CodeInvalidFix, Message: "invalid fix"}
	ErrInvalidPayload     = &Error{Category: CategoryValidation, Code: CodeInvalidPayload, Message: "invalid payload"}
	ErrNotFound           = &Error{Category: CategoryNotFound, Code: CodeNotFound, Message: "not found"}
	ErrForbidden          = &Error{Category: CategoryAuth, Code: CodeForbidden, Message: "forbidden"}
	ErrLocationUnresolved = &Error{Category: CategoryResolution, Code: CodeLocationUnresolved, Message: "location unresolved"}
	ErrProviderTimeout    = &Error{Category: CategoryResolution, Code: CodeProviderTimeout, Message: "provider timeout"}
	ErrProviderFailed     = &Error{Category: CategoryResolution, Code: CodeProviderFailed, Message: "provider failed"}
)

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{Category: category, Code: code, Message: message, Cause: cause}
}

func InvalidGeometry(format string, args ...any) *Error {
	return New(CategoryValidation, CodeInvalidGeometry, fmt.Sprintf(format, args...))
}

func InvalidFix(format string, args ...any) *Error {
	return New(CategoryValidation, CodeInvalidFix, fmt.Sprintf(format, args...))
}

func InvalidPayload(format string, args ...any) *Error {
	return New(CategoryValidation, CodeInvalidPayload, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(CategoryNotFound, CodeNotFound, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) *Error {
	return New(CategoryAuth, CodeForbidden, fmt.Sprintf(format, args...))
}

func LocationUnresolved(message string, cause error) *Error {
	return Wrap(CategoryResolution, CodeLocationUnresolved, message, cause)
}

func ProviderTimeout(provider string, cause error) *Error {
	return Wrap(CategoryResolution, CodeProviderTimeout, "provider "+provider+" timed out", cause)
}

func ProviderFailed(provider string, cause error) *Error {
	return Wrap(CategoryResolution, CodeProviderFailed, "provider "+provider+" failed", cause)
}

func Storage(message string, cause error) *Error {
	return Wrap(CategoryStorage, CodeStorage, message, cause)
}

// CategoryOf extracts the category from an error chain.
// Returns empty string if the error is not an *Error.
func CategoryOf(err error) Category {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

// CodeOf extracts the code from an error chain.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
