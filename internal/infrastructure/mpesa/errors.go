package mpesa

import (
	"errors"
	"fmt"
)

var (
	ErrConfig        = errors.New("mpesa: invalid configuration")
	ErrCredential    = errors.New("mpesa: credentials rejected by provider")
	ErrNetwork       = errors.New("mpesa: no response from provider")
	ErrProvider      = errors.New("mpesa: provider returned a failure")
	ErrInvalidPhone  = errors.New("mpesa: invalid phone number")
	ErrInvalidAmount = errors.New("mpesa: invalid amount")
)

// Error is returned by every Client call. Kind is one of the sentinel errors
// above, so callers can match with errors.Is.
type Error struct {
	Kind    error
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Message: message, Err: cause}
}
