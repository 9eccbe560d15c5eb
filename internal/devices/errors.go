package devices

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeNotFound          = "DEVICE_NOT_FOUND"
	ErrCodeBusy              = "DEVICE_BUSY"
	ErrCodeDisconnected      = "DEVICE_DISCONNECTED"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
)

// DeviceError is a domain-specific error with a stable code.
type DeviceError struct {
	Code    string
	Message string
	Cause   error
}

func (e *DeviceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// NewError creates a new device error.
func NewError(code, message string, cause error) *DeviceError {
	return &DeviceError{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err is a DeviceError carrying the given code.
func IsCode(err error, code string) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Code == code
}
