package types

import (
	"errors"
	"fmt"
)

// ErrMalformedRequest is wrapped by every request validation failure.
var ErrMalformedRequest = errors.New("malformed request")

// ValidationError describes one invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedRequest
}

// ExternalCallError is a failed call to a stage backend.
type ExternalCallError struct {
	Stage     StageName
	Op        string
	Cause     error
	Transient bool
}

func (e *ExternalCallError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s failed (%s): %v", e.Stage, e.Op, kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s failed (%s)", e.Stage, e.Op, kind)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Cause
}
