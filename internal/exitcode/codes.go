// Package exitcode maps sqlrestore errors onto BSD sysexits.h conventions
// See: https://man.freebsd.org/cgi/man.cgi?query=sysexits
package exitcode

import (
	"strings"

	apperrors "sqlrestore/internal/errors"
)

const (
	// Success - operation completed successfully
	Success = 0

	// General - general error (fallback)
	General = 1

	// UsageError - command line usage error
	UsageError = 2

	// DataError - backup history or chain data was incorrect
	DataError = 65

	// NoInput - input file did not exist or was not readable
	NoInput = 66

	// Unavailable - SQL Server unreachable
	Unavailable = 69

	// Software - internal software error
	Software = 70

	// IOError - error during I/O operation
	IOError = 74

	// TempFail - temporary failure, user can retry
	TempFail = 75

	// NoPerm - permission denied / login failed
	NoPerm = 77

	// Config - configuration error
	Config = 78

	// Timeout - operation timeout
	Timeout = 124

	// Cancelled - operation cancelled by user (Ctrl+C)
	Cancelled = 130
)

// FromError returns the exit code for an error. Structured errors are
// mapped by category; anything else falls back to message patterns.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryConfig:
		return Config
	case apperrors.CategoryAuth:
		return NoPerm
	case apperrors.CategoryConnection:
		return Unavailable
	case apperrors.CategoryData:
		return DataError
	case apperrors.CategoryInternal:
		return Software
	}

	errMsg := strings.ToLower(err.Error())

	if contains(errMsg, "login failed", "permission denied", "access denied", "authentication failed") {
		return NoPerm
	}
	if contains(errMsg, "connection refused", "could not connect", "no such host", "unknown host", "unable to open tcp connection") {
		return Unavailable
	}
	if contains(errMsg, "no such file", "file not found", "does not exist") {
		return NoInput
	}
	if contains(errMsg, "no space left", "disk full", "i/o error", "read-only file system") {
		return IOError
	}
	if contains(errMsg, "timeout", "timed out", "deadline exceeded") {
		return Timeout
	}
	if contains(errMsg, "context canceled", "operation canceled", "cancelled") {
		return Cancelled
	}
	if contains(errMsg, "invalid config", "configuration error", "bad config") {
		return Config
	}
	if contains(errMsg, "corrupted", "truncated", "not a valid backup", "incorrectly formed") {
		return DataError
	}

	return General
}

// contains checks if str contains any of the given substrings
func contains(str string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(str, substr) {
			return true
		}
	}
	return false
}
