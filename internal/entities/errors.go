package entities

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures so callers can branch without
// matching on message text.
type ErrorKind string

const (
	ErrKindConfig      ErrorKind = "config"
	ErrKindProvider    ErrorKind = "provider"
	ErrKindValidation  ErrorKind = "validation"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindUnsupported ErrorKind = "unsupported"
)

// GatewayError carries a kind alongside the underlying cause. Permanent
// marks provider rejections that will not succeed on retry (4xx class).
type GatewayError struct {
	Kind      ErrorKind
	Op        string // e.g. "whatsapp.send"
	Message   string
	Permanent bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewError builds a GatewayError.
func NewError(kind ErrorKind, op, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the error kind, defaulting to provider for plain errors.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrKindProvider
}

// Retryable reports whether a failed send attempt with this error should be
// rescheduled. Config, validation, unsupported and permanent provider
// failures will never succeed on retry.
func Retryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		if ge.Permanent {
			return false
		}
		return ge.Kind == ErrKindProvider || ge.Kind == ErrKindTimeout
	}
	// Plain errors are transport-level; worth another attempt.
	return true
}
