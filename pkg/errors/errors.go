package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
	Err     error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrValidation             = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInvalidFields          = New("INVALID_FIELDS", http.StatusBadRequest, "invalid fields supplied")
	ErrInvalidFormat          = New("INVALID_FORMAT", http.StatusBadRequest, "invalid format")
	ErrInvalidQuery           = New("INVALID_QUERY", http.StatusBadRequest, "search query must be at least 2 characters")
	ErrDuplicateStudentNumber = New("DUPLICATE_STUDENT_NUMBER", http.StatusConflict, "student number already exists")
	ErrDuplicateEmail         = New("DUPLICATE_EMAIL", http.StatusConflict, "email already exists")
	ErrDuplicateID            = New("DUPLICATE_ID", http.StatusConflict, "student id already exists")
	ErrNotFound               = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrAuthRequired           = New("AUTH_REQUIRED", http.StatusUnauthorized, "authentication required")
	ErrStore                  = New("STORE_ERROR", http.StatusInternalServerError, "record store failure")
	ErrFetch                  = New("FETCH_ERROR", http.StatusInternalServerError, "failed to fetch records")
	ErrServer                 = New("SERVER_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss              = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrServer.Code, ErrServer.Status, ErrServer.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of err carrying the provided detail messages.
func WithDetails(err *Error, message string, details []string) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	clone.Details = append([]string(nil), details...)
	return clone
}

// Store wraps a persistence failure using the store's own message text.
func Store(err error, template *Error) *Error {
	if template == nil {
		template = ErrStore
	}
	return Wrap(err, template.Code, template.Status, err.Error())
}
