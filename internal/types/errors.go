package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures surfaced by the core
type ErrorKind string

const (
	ErrKindValidation        ErrorKind = "validation"
	ErrKindConfiguration     ErrorKind = "configuration"
	ErrKindInputNotFound     ErrorKind = "input_not_found"
	ErrKindUnsupportedFormat ErrorKind = "unsupported_format"
	ErrKindCorruptedInput    ErrorKind = "corrupted_input"
	ErrKindRemoteAPI         ErrorKind = "remote_api"
	ErrKindEngine            ErrorKind = "engine"
	ErrKindCancelled         ErrorKind = "cancelled"
	ErrKindPersistence       ErrorKind = "persistence"
)

// Sentinels for errors.Is matching against *Error kinds.
var (
	ErrValidation        = &Error{Kind: ErrKindValidation}
	ErrConfiguration     = &Error{Kind: ErrKindConfiguration}
	ErrInputNotFound     = &Error{Kind: ErrKindInputNotFound}
	ErrUnsupportedFormat = &Error{Kind: ErrKindUnsupportedFormat}
	ErrCorruptedInput    = &Error{Kind: ErrKindCorruptedInput}
	ErrRemoteAPI         = &Error{Kind: ErrKindRemoteAPI}
	ErrEngine            = &Error{Kind: ErrKindEngine}
	ErrCancelled         = &Error{Kind: ErrKindCancelled}
	ErrPersistence       = &Error{Kind: ErrKindPersistence}
)

// Constraint names a store constraint that rejected a write
type Constraint string

const (
	ConstraintUnique  Constraint = "unique"
	ConstraintNotNull Constraint = "not_null"
)

// Error is the structured error carried by failed jobs.
// Message is safe to show to users; Err holds the cause for logs only.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Retryable  bool
	RetryAfter time.Duration
	Constraint Constraint
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
// A target with a Constraint also requires the same constraint.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Constraint != "" && t.Constraint != e.Constraint {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an error of the given kind with a user-facing message
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds an error of the given kind that keeps cause for logs
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validationf builds a validation error
func Validationf(format string, args ...any) *Error {
	return NewError(ErrKindValidation, fmt.Sprintf(format, args...))
}

// Cancelled returns the error an operation reports after honoring cancellation
func Cancelled(message string) *Error {
	return NewError(ErrKindCancelled, message)
}

// KindOf resolves the kind of err. Unclassified errors count as engine failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	return ErrKindEngine
}

// IsCancelled reports whether err represents an honored cancellation
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == ErrKindCancelled
}

var defaultMessages = map[ErrorKind]string{
	ErrKindValidation:        "The request is invalid.",
	ErrKindConfiguration:     "Transcription is not configured. Check API keys and installed tools in settings.",
	ErrKindInputNotFound:     "The input file could not be found.",
	ErrKindUnsupportedFormat: "The selected file format is not supported.",
	ErrKindCorruptedInput:    "The input file could not be read. It may be corrupted.",
	ErrKindRemoteAPI:         "The remote service request failed. Please try again.",
	ErrKindEngine:            "Transcription failed while processing the audio.",
	ErrKindCancelled:         "The operation was cancelled.",
	ErrKindPersistence:       "The result could not be saved.",
}

// UserMessage returns a short message for err without internal cause text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return defaultMessages[kind]
}
