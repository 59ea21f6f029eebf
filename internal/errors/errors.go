// Package errors provides structured error types for sqlrestore
// with error codes, categories, and remediation guidance
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error codes for sqlrestore
// Format: SQLRESTORE-<CATEGORY><NUMBER>
// Categories: C=Config, A=Auth, N=Network, D=Data(chain), S=Step, B=Bug
const (
	// Configuration errors (user fix, detected before any engine I/O)
	ErrCodeInvalidOption   ErrorCode = "SQLRESTORE-C001"
	ErrCodeMissingOption   ErrorCode = "SQLRESTORE-C002"
	ErrCodeKeepCDCConflict ErrorCode = "SQLRESTORE-C003"
	ErrCodeBadTuning       ErrorCode = "SQLRESTORE-C004"
	ErrCodeBadMapping      ErrorCode = "SQLRESTORE-C005"
	ErrCodeBadPageList     ErrorCode = "SQLRESTORE-C006"

	// Authentication errors (credential fix)
	ErrCodeAuthFailed   ErrorCode = "SQLRESTORE-A001"
	ErrCodeMissingCreds ErrorCode = "SQLRESTORE-A002"

	// Network / connection errors (fatal for the instance)
	ErrCodeConnFailed  ErrorCode = "SQLRESTORE-N001"
	ErrCodeConnTimeout ErrorCode = "SQLRESTORE-N002"
	ErrCodeTLSFailed   ErrorCode = "SQLRESTORE-N003"

	// Data errors (backup history / chain problems)
	ErrCodeEmptyHistory    ErrorCode = "SQLRESTORE-D001"
	ErrCodeUnknownType     ErrorCode = "SQLRESTORE-D002"
	ErrCodeChainBroken     ErrorCode = "SQLRESTORE-D003"
	ErrCodeNoFullBackup    ErrorCode = "SQLRESTORE-D004"
	ErrCodeBadHistoryInput ErrorCode = "SQLRESTORE-D005"

	// Step errors (one database aborted, batch continues)
	ErrCodeRestoreFailed ErrorCode = "SQLRESTORE-S001"
	ErrCodeVerifyFailed  ErrorCode = "SQLRESTORE-S002"
	ErrCodePrepareFailed ErrorCode = "SQLRESTORE-S003"

	// Internal errors (report to maintainers)
	ErrCodePanic        ErrorCode = "SQLRESTORE-B001"
	ErrCodeInvalidState ErrorCode = "SQLRESTORE-B002"
)

// Category represents error categories
type Category string

const (
	CategoryConfig     Category = "configuration"
	CategoryAuth       Category = "authentication"
	CategoryConnection Category = "connection"
	CategoryData       Category = "data"
	CategoryStep       Category = "step"
	CategoryInternal   Category = "internal"
)

// RestoreError is a structured error with code, category, and remediation
type RestoreError struct {
	Code        ErrorCode
	Category    Category
	Message     string
	Details     string
	Remediation string
	Cause       error
}

// Error implements error interface
func (e *RestoreError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf("\n\nDetails:\n  %s", e.Details)
	}
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n\nTo fix:\n  %s", e.Remediation)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *RestoreError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for error comparison
func (e *RestoreError) Is(target error) bool {
	if t, ok := target.(*RestoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails adds details to an error
func (e *RestoreError) WithDetails(details string) *RestoreError {
	e.Details = details
	return e
}

// WithCause adds an underlying cause
func (e *RestoreError) WithCause(cause error) *RestoreError {
	e.Cause = cause
	return e
}

// NewConfigError creates a configuration error
func NewConfigError(code ErrorCode, message string, remediation string) *RestoreError {
	return &RestoreError{
		Code:        code,
		Category:    CategoryConfig,
		Message:     message,
		Remediation: remediation,
	}
}

// NewDataError creates a backup-history data error
func NewDataError(code ErrorCode, message string, remediation string) *RestoreError {
	return &RestoreError{
		Code:        code,
		Category:    CategoryData,
		Message:     message,
		Remediation: remediation,
	}
}

// NewStepError creates a per-step execution error
func NewStepError(code ErrorCode, message string, cause error) *RestoreError {
	return &RestoreError{
		Code:     code,
		Category: CategoryStep,
		Message:  message,
		Cause:    cause,
	}
}

// NewInternalError creates an internal error (bugs)
func NewInternalError(code ErrorCode, message string, cause error) *RestoreError {
	return &RestoreError{
		Code:        code,
		Category:    CategoryInternal,
		Message:     message,
		Cause:       cause,
		Remediation: "This appears to be a bug in sqlrestore. Please file an issue with the full output.",
	}
}

// KeepCDCConflict flags the unreachable-recovery combination up front.
func KeepCDCConflict() *RestoreError {
	return &RestoreError{
		Code:     ErrCodeKeepCDCConflict,
		Category: CategoryConfig,
		Message:  "KEEP_CDC requires the restore to reach full recovery",
		Details:  "KeepCDC was combined with NoRecovery or a StandbyDirectory; Change Data Capture cannot survive a database left in RESTORING or STANDBY.",
		Remediation: `Drop either --keep-cdc or the --no-recovery/--standby-directory option.
CDC is re-enabled only when the final restore step recovers the database.`,
	}
}

// ConnectionFailed creates a connection failure error with a targeted hint
func ConnectionFailed(target string, cause error) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeConnFailed,
		Category: CategoryConnection,
		Message:  fmt.Sprintf("Failed to connect to SQL Server at %s", target),
		Details:  fmt.Sprintf("Error: %v", cause),
		Remediation: fmt.Sprintf(`This usually means:
  1. SQL Server is not running or not reachable at %s
  2. TCP/IP is disabled for the instance, or the port is firewalled
  3. The login or its password is wrong

To fix:
  1. Test connectivity:  sqlcmd -S %s -Q "SELECT @@VERSION"
  2. Check MSSQL_HOST / MSSQL_PORT / MSSQL_USER / MSSQL_PASSWORD
  3. For self-signed certificates set MSSQL_TRUST_CERT=true

Run with --debug for the full connection log.`, target, target),
		Cause: cause,
	}
}

// NoFullBackup reports an unrestorable chain: nothing to base it on.
func NoFullBackup(database string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeNoFullBackup,
		Category: CategoryData,
		Message:  fmt.Sprintf("No full backup found for database %q", database),
		Remediation: `A restore chain must start from a full backup.
Check the history window (--restore-time) or re-ingest a wider history.`,
	}
}

// UnknownBackupType reports a type code the ingestion could not classify.
func UnknownBackupType(database string, raw string) *RestoreError {
	return &RestoreError{
		Code:     ErrCodeUnknownType,
		Category: CategoryData,
		Message:  fmt.Sprintf("Unrecognized backup type %q for database %q", raw, database),
		Remediation: `Known types: 1/"Database" (full), 5/"Database Differential" (diff),
2/"Transaction Log" (log). Re-run without --strict-types to restore the
set as a database restore anyway (a warning is logged).`,
	}
}

// CodeOf extracts the ErrorCode from an error chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var re *RestoreError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// CategoryOf extracts the Category from an error chain, or "" if none.
func CategoryOf(err error) Category {
	var re *RestoreError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// IsFatal reports whether the error must abort the whole invocation
// (configuration, authentication, and connection errors) rather than
// just the current database.
func IsFatal(err error) bool {
	switch CategoryOf(err) {
	case CategoryConfig, CategoryAuth, CategoryConnection:
		return true
	}
	return false
}
