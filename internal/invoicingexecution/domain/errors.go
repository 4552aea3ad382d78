package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
)

// ErrorKind is the closed set of failure categories an execution records.
type ErrorKind string

const (
	ErrorConfiguration   ErrorKind = "configuration"
	ErrorProvider        ErrorKind = "provider"
	ErrorDataConsistency ErrorKind = "data_consistency"
	ErrorInternal        ErrorKind = "internal"
)

// ErrorKinds lists every kind, in display order.
var ErrorKinds = []ErrorKind{ErrorConfiguration, ErrorProvider, ErrorDataConsistency, ErrorInternal}

func (k ErrorKind) Valid() bool {
	switch k {
	case ErrorConfiguration, ErrorProvider, ErrorDataConsistency, ErrorInternal:
		return true
	default:
		return false
	}
}

// Message is the operator-facing explanation of the kind.
func (k ErrorKind) Message() string {
	switch k {
	case ErrorConfiguration:
		return "the account or subject is not configured for invoicing; fix the configuration before retrying"
	case ErrorProvider:
		return "the invoicing provider rejected or failed the request; it is safe to retry"
	case ErrorDataConsistency:
		return "the subject is not in a state that allows invoicing"
	case ErrorInternal:
		return "an unexpected error occurred while invoicing"
	default:
		return "unknown error"
	}
}

// Error is a classified failure returned by units of work run under an
// execution.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Warning bool
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Message()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Configuration(code, message string, err error) *Error {
	return &Error{Kind: ErrorConfiguration, Code: code, Message: message, Err: err}
}

func Provider(code, message string, err error) *Error {
	return &Error{Kind: ErrorProvider, Code: code, Message: message, Err: err}
}

func DataConsistency(code, message string, err error) *Error {
	return &Error{Kind: ErrorDataConsistency, Code: code, Message: message, Err: err}
}

// Warning is a data consistency outcome that needs no operator action, such
// as a period that was already invoiced.
func Warning(code, message string, err error) *Error {
	return &Error{Kind: ErrorDataConsistency, Code: code, Message: message, Warning: true, Err: err}
}

func Internal(code, message string, err error) *Error {
	return &Error{Kind: ErrorInternal, Code: code, Message: message, Err: err}
}

// Classify maps any error to a classified one. Unknown errors are internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) && classified.Kind.Valid() {
		return classified
	}
	var providerErr *invoicing.ProviderError
	if errors.As(err, &providerErr) {
		return Provider("provider_error", providerErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Internal("timeout", "the execution ran out of time", err)
	}
	return Internal("unexpected", ErrorInternal.Message(), err)
}

// ResultFor converts a failure into the stored result payload.
func ResultFor(err error) Result {
	classified := Classify(err)
	if classified == nil {
		return Result{}
	}
	message := classified.Message
	if message == "" {
		message = classified.Kind.Message()
	}
	result := Result{
		ErrorKind: classified.Kind,
		Code:      classified.Code,
		Message:   message,
		Warning:   classified.Warning,
	}
	if classified.Err != nil {
		result.Detail = classified.Err.Error()
	}
	return result
}

var (
	ErrAlreadyRunning = errors.New("execution_already_running")
	ErrInvalidSubject = errors.New("invalid_subject")
	ErrNotFound       = errors.New("execution_not_found")
)
