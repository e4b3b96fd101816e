package types

import "errors"

// ErrorCode classifies simulator errors
type ErrorCode string

const (
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrorCodeInvalidSelection ErrorCode = "INVALID_SELECTION"
	ErrorCodeConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	ErrorCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; a *SimError matches the sentinel with the same code.
var (
	ErrNotFound         = &SimError{Code: ErrorCodeNotFound, Message: "not found"}
	ErrInvalidAmount    = &SimError{Code: ErrorCodeInvalidAmount, Message: "amount must be greater than zero"}
	ErrInvalidSelection = &SimError{Code: ErrorCodeInvalidSelection, Message: "invalid selection"}
	ErrConfiguration    = &SimError{Code: ErrorCodeConfiguration, Message: "invalid corridor configuration"}
)

// SimError represents a simulator error
type SimError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// NewError creates a SimError
func NewError(code ErrorCode, message, details string) *SimError {
	return &SimError{Code: code, Message: message, Details: details}
}

// WrapError creates a SimError carrying an underlying cause
func WrapError(code ErrorCode, message string, cause error) *SimError {
	return &SimError{Code: code, Message: message, Cause: cause}
}

func (e *SimError) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *SimError) Unwrap() error {
	return e.Cause
}

// Is matches any SimError with the same code
func (e *SimError) Is(target error) bool {
	var t *SimError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the error code of err, or ErrorCodeInternal when err is not a SimError
func CodeOf(err error) ErrorCode {
	var se *SimError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrorCodeInternal
}
