package domain

import (
	"errors"
	"fmt"
)

// Code classifies failures so callers can branch without matching strings.
type Code string

const (
	CodeNotAuthenticated Code = "not_authenticated"
	CodeNotAuthorized    Code = "not_authorized"
	CodeNotFound         Code = "not_found"
	CodeAlreadyInState   Code = "already_in_state"
	CodeRemoteFailure    Code = "remote_failure"
	CodeDecodeFailure    Code = "decode_failure"
	CodeInvalidInput     Code = "invalid_input"
)

// Error is the failure type returned by every service operation.
// Callers can use errors.As to extract the code:
//
//	var derr *domain.Error
//	if errors.As(err, &derr) && derr.Code == domain.CodeNotFound { ... }
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted message and no cause.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// RemoteFailure wraps a store or transport error. Errors that already carry
// a code are returned unchanged.
func RemoteFailure(message string, err error) error {
	var derr *Error
	if errors.As(err, &derr) {
		return err
	}
	return Wrap(CodeRemoteFailure, message, err)
}

// CodeOf reports the code carried by err, or "" when err has none.
func CodeOf(err error) Code {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code
	}
	return ""
}

// IsCode checks whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

var (
	ErrNotAuthenticated = &Error{Code: CodeNotAuthenticated, Message: "authentication required"}
	ErrTeamNotFound     = &Error{Code: CodeNotFound, Message: "team not found"}
	ErrNotTeamMember    = &Error{Code: CodeNotAuthorized, Message: "caller is not a member of this team"}
)
