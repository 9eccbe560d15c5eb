package streams

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeNotFound    = "STREAM_NOT_FOUND"
	ErrCodeConflict    = "STREAM_CONFLICT"
	ErrCodeInvalidName = "INVALID_NAME"
	ErrCodeConfigError = "CONFIG_ERROR"
)

// StreamError is a domain-specific error with a stable code.
type StreamError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// NewError creates a new stream error.
func NewError(code, message string, cause error) *StreamError {
	return &StreamError{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err is a StreamError carrying the given code.
func IsCode(err error, code string) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Code == code
}
