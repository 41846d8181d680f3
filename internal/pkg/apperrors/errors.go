package apperrors

import "fmt"

// ErrorType is the benchmark's four-class error taxonomy (spec.md §7).
// Timeout is deliberately not a member: a step confirmation timing out is
// not an error, it is recorded as a note on the affected action record.
type ErrorType string

const (
	// ErrTransport is a venue-facing failure: a rejected order, a failed
	// cancel, a network error talking to the exchange. Captured into a
	// step's Ack; execution continues to the next step.
	ErrTransport ErrorType = "TRANSPORT_ERROR"
	// ErrFatal is unrecoverable for the current run: the event stream
	// closed underneath the Plan Executor, or a plan/policy file could
	// not be loaded at all.
	ErrFatal ErrorType = "FATAL_ERROR"
	// ErrNormalization marks a malformed or unrecognized action record
	// the Scoring Engine could not turn into a signature.
	ErrNormalization ErrorType = "NORMALIZATION_ERROR"
	// ErrPolicy marks a domain policy file that failed to parse or
	// otherwise could not be applied.
	ErrPolicy ErrorType = "POLICY_ERROR"
)

// AppError is the benchmark's standard error value, following the
// teacher's AppError{Type, Message, Cause} shape.
type AppError struct {
	Type    ErrorType `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{Type: errType, Message: msg, Cause: cause}
}

func NewTransportError(msg string, cause error) *AppError {
	return New(ErrTransport, msg, cause)
}

func NewFatalError(msg string, cause error) *AppError {
	return New(ErrFatal, msg, cause)
}

func NewNormalizationError(msg string) *AppError {
	return New(ErrNormalization, msg, nil)
}

func NewPolicyError(msg string, cause error) *AppError {
	return New(ErrPolicy, msg, cause)
}

// Wrap turns any error into an *AppError, preserving one that already is,
// and otherwise classifying it as fatal — the safest default for an error
// this taxonomy didn't already anticipate.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrFatal, err.Error(), err)
}
