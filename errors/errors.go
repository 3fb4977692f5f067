// Package errors provides error handling for tempo.
//
// This package re-exports github.com/cockroachdb/errors so every layer wraps
// with stack traces, and defines the sentinels the scheduling engine branches on.
//
// Usage:
//
//	if err := repo.Open(ctx); err != nil {
//	    return errors.Wrap(err, "failed to open job repository")
//	}
//
//	if errors.Is(err, errors.ErrJobNotFound) {
//	    // passivate
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
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors. Wrap these with errors.Wrap() to add context while
// keeping errors.Is() checks working.
var (
	// ErrJobNotFound means the repository answered and the job is gone.
	// Executors passivate on it.
	ErrJobNotFound = New("job not found")

	// ErrUnknownRepository means a ref named a repository token that was
	// never registered on this node.
	ErrUnknownRepository = New("unknown repository")

	// ErrIdentityViolation means an executor received a reload for a
	// different job than the one it was started for.
	ErrIdentityViolation = New("executor identity violation")

	// ErrInvalidSchedule is returned by schedule constructors.
	ErrInvalidSchedule = New("invalid schedule")

	// ErrDeserialization is returned when an entity name cannot be parsed.
	ErrDeserialization = New("cannot deserialize job reference")

	// ErrRepositoryClosed is returned by repositories used after Close.
	ErrRepositoryClosed = New("repository closed")

	// ErrLeaseHeld means another node owns the entity lease.
	ErrLeaseHeld = New("lease held by another node")

	// ErrInvalidRequest indicates malformed input (CLI, import files).
	ErrInvalidRequest = New("invalid request")
)

// IsJobNotFound checks if an error is or wraps ErrJobNotFound.
func IsJobNotFound(err error) bool {
	return err != nil && Is(err, ErrJobNotFound)
}

// NewJobNotFoundError creates a job-not-found error with a formatted message
func NewJobNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrJobNotFound, format, args...)
}

// NewInvalidScheduleError creates an invalid-schedule error with a formatted message
func NewInvalidScheduleError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidSchedule, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}
