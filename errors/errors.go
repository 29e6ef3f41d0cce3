// Package errors provides error handling for Atelier.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Sentry integration
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "try increasing the timeout")
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Advanced features
var (
	Handled                 = crdb.Handled
	HandledWithMessage      = crdb.HandledWithMessage
	WithDomain              = crdb.WithDomain
	GetDomain               = crdb.GetDomain
	WithContextTags         = crdb.WithContextTags
	EncodeError             = crdb.EncodeError
	DecodeError             = crdb.DecodeError
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Assertions and panics
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Sentinel errors for the plugin runtime.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested plugin or resource does not exist
	ErrNotFound = New("not found")

	// ErrAlreadyExists indicates a registration under an id that is taken
	ErrAlreadyExists = New("already exists")

	// ErrDependency indicates a missing, incompatible, or circular dependency
	ErrDependency = New("dependency error")

	// ErrPermission indicates a plugin lacks a required capability grant
	ErrPermission = New("permission denied")

	// ErrState indicates an operation invalid for the current lifecycle state
	ErrState = New("invalid state")

	// ErrLoad indicates a lifecycle method failed while loading or unloading
	ErrLoad = New("load failed")

	// ErrTimeout indicates a bounded operation did not complete in time
	ErrTimeout = New("operation timed out")

	// ErrCommunication indicates a message could not reach its target
	ErrCommunication = New("communication error")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsAlreadyExistsError checks if an error is or wraps ErrAlreadyExists.
func IsAlreadyExistsError(err error) bool {
	return err != nil && Is(err, ErrAlreadyExists)
}

// IsDependencyError checks if an error is or wraps ErrDependency.
func IsDependencyError(err error) bool {
	return err != nil && Is(err, ErrDependency)
}

// IsPermissionError checks if an error is or wraps ErrPermission.
func IsPermissionError(err error) bool {
	return err != nil && Is(err, ErrPermission)
}

// IsStateError checks if an error is or wraps ErrState.
func IsStateError(err error) bool {
	return err != nil && Is(err, ErrState)
}

// IsLoadError checks if an error is or wraps ErrLoad.
func IsLoadError(err error) bool {
	return err != nil && Is(err, ErrLoad)
}

// IsTimeoutError checks if an error is or wraps ErrTimeout.
func IsTimeoutError(err error) bool {
	return err != nil && Is(err, ErrTimeout)
}

// IsCommunicationError checks if an error is or wraps ErrCommunication.
func IsCommunicationError(err error) bool {
	return err != nil && Is(err, ErrCommunication)
}

// WrapLoad wraps an error as a load error with context
func WrapLoad(err error, context string) error {
	return Wrap(Wrap(ErrLoad, err.Error()), context)
}

// WrapDependency wraps an error as a dependency error with context
func WrapDependency(err error, context string) error {
	return Wrap(Wrap(ErrDependency, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewAlreadyExistsError creates an already-exists error with a formatted message
func NewAlreadyExistsError(format string, args ...interface{}) error {
	return Wrap(ErrAlreadyExists, Newf(format, args...).Error())
}

// NewDependencyError creates a dependency error with a formatted message
func NewDependencyError(format string, args ...interface{}) error {
	return Wrap(ErrDependency, Newf(format, args...).Error())
}

// NewPermissionError creates a permission error with a formatted message
func NewPermissionError(format string, args ...interface{}) error {
	return Wrap(ErrPermission, Newf(format, args...).Error())
}

// NewStateError creates a state error with a formatted message
func NewStateError(format string, args ...interface{}) error {
	return Wrap(ErrState, Newf(format, args...).Error())
}

// NewLoadError creates a load error with a formatted message
func NewLoadError(format string, args ...interface{}) error {
	return Wrap(ErrLoad, Newf(format, args...).Error())
}

// NewTimeoutError creates a timeout error with a formatted message
func NewTimeoutError(format string, args ...interface{}) error {
	return Wrap(ErrTimeout, Newf(format, args...).Error())
}

// NewCommunicationError creates a communication error with a formatted message
func NewCommunicationError(format string, args ...interface{}) error {
	return Wrap(ErrCommunication, Newf(format, args...).Error())
}
