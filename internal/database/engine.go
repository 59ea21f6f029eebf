// Package database wraps the SQL Server connection for restore work. A
// Connector opens scoped Sessions; a Session exposes only the narrow
// engine capabilities the restore sequence needs, so tests can
// substitute a fake without a server.
package database

import (
	"context"

	"sqlrestore/internal/history"
)

// Edition mirrors SERVERPROPERTY('EngineEdition').
type Edition int

const (
	EditionUnknown         Edition = 0
	EditionPersonal        Edition = 1
	EditionStandard        Edition = 2
	EditionEnterprise      Edition = 3
	EditionExpress         Edition = 4
	EditionAzureDatabase   Edition = 5
	EditionAzureSynapse    Edition = 6
	EditionManagedInstance Edition = 8
	EditionAzureEdge       Edition = 9
)

func (e Edition) String() string {
	switch e {
	case EditionPersonal:
		return "Personal"
	case EditionStandard:
		return "Standard"
	case EditionEnterprise:
		return "Enterprise"
	case EditionExpress:
		return "Express"
	case EditionAzureDatabase:
		return "Azure SQL Database"
	case EditionAzureSynapse:
		return "Azure Synapse"
	case EditionManagedInstance:
		return "Azure SQL Managed Instance"
	case EditionAzureEdge:
		return "Azure SQL Edge"
	default:
		return "Unknown"
	}
}

// ManagedInstance reports whether the engine refuses replace-in-place
// restores; an existing database must be dropped there instead.
func (e Edition) ManagedInstance() bool {
	return e == EditionManagedInstance
}

// Connector opens sessions against one configured server.
type Connector interface {
	// Connect dials the server and returns a scoped session. Each
	// database restore sequence acquires its own session and the
	// executor reconnects around lock-clearing DDL.
	Connect(ctx context.Context) (Session, error)

	// Target names the server for logs and error messages.
	Target() string
}

// Session is one live connection scope.
type Session interface {
	// Execute runs a T-SQL batch and discards any result sets.
	Execute(ctx context.Context, script string) error

	// Verify runs a RESTORE VERIFYONLY script. The boolean reports
	// whether the backup set verified; the string is the outcome
	// message. Transport failures are returned as errors.
	Verify(ctx context.Context, script string) (bool, string, error)

	DatabaseExists(ctx context.Context, name string) (bool, error)
	EngineEdition(ctx context.Context) (Edition, error)

	// KillSessions terminates other sessions using the database and
	// returns how many were killed. Individual kill failures are
	// advisory and do not error.
	KillSessions(ctx context.Context, database string) (int, error)

	// ClearLocks cycles the database through single-user, offline,
	// online and restricted-user to break residual locks.
	ClearLocks(ctx context.Context, database string) error

	DropDatabase(ctx context.Context, name string) error

	// RestoreProgress reports the engine-side percent complete of a
	// running restore, or 0 when none is visible.
	RestoreProgress(ctx context.Context, database string) (float64, error)

	Close() error
}

// HistorySource reads backup history out of the server: the msdb
// catalog, or the media headers of backup files the server can reach.
type HistorySource interface {
	BackupHistory(ctx context.Context, database string) ([]history.BackupFile, error)
	ScanMedia(ctx context.Context, paths []string, credential string) ([]history.BackupFile, error)
}
