// Package errors defines the coded error type shared by every warden
// component and the store-level sentinels returned by adapters.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

// Code is a stable, machine readable error identifier.
type Code string

const (
	CodeDuplicateAccount   Code = "duplicate_account"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeAccountDisabled    Code = "account_disabled"
	CodeAccountDeleted     Code = "account_deleted"
	CodeUnauthenticated    Code = "unauthenticated"
	CodePasswordMismatch   Code = "password_mismatch"
	CodeUserNotFound       Code = "user_not_found"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeLockAcquisition    Code = "lock_acquisition"
	CodeKeyResolution      Code = "key_resolution"
	CodeInvalidLockConfig  Code = "invalid_lock_config"
	CodeWorkFailed         Code = "work_failed"
	CodeStoreUnavailable   Code = "store_unavailable"
)

// Error is the structured error surfaced at every boundary. Any *Error is
// considered already classified and passes unchanged through the lock layer.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New returns an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error carrying cause. The cause never leaks into Message.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the kind sentinels below can
// be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Kind sentinels, compared by code.
var (
	ErrDuplicateAccount   = New(CodeDuplicateAccount, "account already exists")
	ErrInvalidCredentials = New(CodeInvalidCredentials, "invalid account or password")
	ErrAccountDisabled    = New(CodeAccountDisabled, "account is disabled")
	ErrAccountDeleted     = New(CodeAccountDeleted, "account has been deleted")
	ErrUnauthenticated    = New(CodeUnauthenticated, "not authenticated")
	ErrPasswordMismatch   = New(CodePasswordMismatch, "old password is incorrect")
	ErrUserNotFound       = New(CodeUserNotFound, "user not found")
	ErrInvalidArgument    = New(CodeInvalidArgument, "invalid argument")
	ErrLockAcquisition    = New(CodeLockAcquisition, "lock could not be acquired")
	ErrKeyResolution      = New(CodeKeyResolution, "lock key resolution failed")
	ErrInvalidLockConfig  = New(CodeInvalidLockConfig, "invalid lock configuration")
	ErrWorkFailed         = New(CodeWorkFailed, "operation failed")
	ErrStoreUnavailable   = New(CodeStoreUnavailable, "storage unavailable")
)

// CodeOf returns the code carried by err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsClassified reports whether err already carries a warden error code.
func IsClassified(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
