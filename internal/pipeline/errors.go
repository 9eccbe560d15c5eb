package pipeline

import (
	"errors"
	"fmt"
)

// Error codes, surfaced as the typed reason on an errored pipeline.
const (
	ErrCodeFormatNegotiation = "FORMAT_NEGOTIATION_FAILED"
	ErrCodeEncoderFailed     = "ENCODER_FAILED"
	ErrCodeSinkBindFailed    = "SINK_BIND_FAILED"
	ErrCodeDeviceVanished    = "DEVICE_VANISHED"
	ErrCodeStreamNotFound    = "STREAM_NOT_FOUND"
)

// PipelineError is a pipeline failure with a stable reason code.
type PipelineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new pipeline error.
func NewError(code, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err is a PipelineError carrying the given code.
func IsCode(err error, code string) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == code
}
