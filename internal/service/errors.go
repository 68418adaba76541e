package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the HTTP boundary
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindPrecondition ErrorKind = "precondition"
	KindNotFound     ErrorKind = "not_found"
	KindAuth         ErrorKind = "auth"
	KindLockout      ErrorKind = "lockout"
	KindDependency   ErrorKind = "dependency"
	KindDuplicate    ErrorKind = "duplicate"
)

// Error is the structured failure returned by service operations
type Error struct {
	Kind    ErrorKind
	Message string
	// AttemptsRemaining is set on OTP mismatches
	AttemptsRemaining *int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func ValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PreconditionError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func AuthError(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

func LockoutError(msg string) *Error {
	return &Error{Kind: KindLockout, Message: msg}
}

func DependencyError(msg string, err error) *Error {
	return &Error{Kind: KindDependency, Message: msg, Err: err}
}

// OTPMismatchError reports a wrong code and how many tries are left
func OTPMismatchError(remaining int) *Error {
	return &Error{Kind: KindPrecondition, Message: "Invalid OTP", AttemptsRemaining: &remaining}
}

// KindOf returns the kind of a service error, or "" for anything else
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
