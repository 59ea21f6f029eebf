package database

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"sqlrestore/internal/logger"
)

func newMockSession(t *testing.T) (*sqlSession, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	s := &sqlSession{db: db, log: logger.NewNullLogger()}
	t.Cleanup(func() { _ = s.Close() })
	return s, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// msdb backup history
// ---------------------------------------------------------------------------

func TestBackupHistoryGroupsStripedSets(t *testing.T) {
	s, mock := newMockSession(t)

	start := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	cols := []string{"backup_set_id", "database_name", "type", "position",
		"server_name", "user_name", "first_lsn", "last_lsn",
		"checkpoint_lsn", "database_backup_lsn", "recovery_model",
		"backup_start_date", "backup_finish_date", "backup_size",
		"compressed_backup_size", "is_copy_only", "physical_device_name"}

	rows := sqlmock.NewRows(cols).
		// Set 7 is striped over two devices: two rows, one descriptor.
		AddRow(int64(7), "Sales", "D", 1, "SQL01", "sa",
			"1000", "2000", "1500", "0", "FULL",
			start, start.Add(time.Minute), int64(4<<20), int64(1<<20),
			false, `D:\backups\sales_1.bak`).
		AddRow(int64(7), "Sales", "D", 1, "SQL01", "sa",
			"1000", "2000", "1500", "0", "FULL",
			start, start.Add(time.Minute), int64(4<<20), int64(1<<20),
			false, `D:\backups\sales_2.bak`).
		AddRow(int64(8), "Sales", "L", 1, "SQL01", "sa",
			"2000", "3000", "", "1500", "FULL",
			start.Add(time.Hour), start.Add(time.Hour+time.Minute), int64(1<<20), int64(256<<10),
			false, `D:\backups\sales.trn`)

	mock.ExpectQuery(backupHistoryQuery).WithArgs("Sales").WillReturnRows(rows)

	files, err := s.BackupHistory(context.Background(), "Sales")
	if err != nil {
		t.Fatalf("BackupHistory: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(files))
	}

	full := files[0]
	if len(full.FullName) != 2 {
		t.Errorf("striped set should carry both devices, got %v", full.FullName)
	}
	if got := full.Type.String(); got != "Full" {
		t.Errorf("type %q, want Full", got)
	}
	if full.FirstLSN != "1000" || full.LastLSN != "2000" {
		t.Errorf("LSNs %s..%s, want 1000..2000", full.FirstLSN, full.LastLSN)
	}
	if full.TotalSize != 4<<20 {
		t.Errorf("TotalSize = %d", full.TotalSize)
	}

	logBackup := files[1]
	if got := logBackup.Type.String(); got != "Log" {
		t.Errorf("type %q, want Log", got)
	}
	if logBackup.DatabaseBackupLSN != "1500" {
		t.Errorf("DatabaseBackupLSN = %s", logBackup.DatabaseBackupLSN)
	}

	expectationsMet(t, mock)
}

// ---------------------------------------------------------------------------
// media header scanning
// ---------------------------------------------------------------------------

func TestScanMediaReadsHeadersAndFileList(t *testing.T) {
	s, mock := newMockSession(t)

	headerCols := []string{"BackupType", "DatabaseName", "ServerName", "UserName",
		"Position", "FirstLSN", "LastLSN", "CheckpointLSN", "DatabaseBackupLSN",
		"RecoveryModel", "BackupStartDate", "BackupFinishDate",
		"BackupSize", "CompressedBackupSize", "IsCopyOnly"}
	start := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`RESTORE HEADERONLY FROM DISK = N'D:\backups\sales.bak'`).
		WillReturnRows(sqlmock.NewRows(headerCols).
			AddRow(int64(1), "Sales", "SQL01", "sa",
				int64(1), "1000", "2000", "1500", "0",
				"FULL", start, start.Add(time.Minute),
				int64(4<<20), int64(1<<20), int64(0)))

	mock.ExpectQuery(`RESTORE FILELISTONLY FROM DISK = N'D:\backups\sales.bak' WITH FILE = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"LogicalName", "PhysicalName", "Type"}).
			AddRow("Sales_Data", `D:\data\Sales.mdf`, "D").
			AddRow("Sales_Log", `D:\data\Sales_log.ldf`, "L"))

	files, err := s.ScanMedia(context.Background(), []string{`D:\backups\sales.bak`}, "")
	if err != nil {
		t.Fatalf("ScanMedia: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(files))
	}

	f := files[0]
	if got := f.Type.String(); got != "Full" {
		t.Errorf("type %q, want Full", got)
	}
	if f.Position != 1 {
		t.Errorf("Position = %d", f.Position)
	}
	if len(f.FileList) != 2 || f.FileList[0].LogicalName != "Sales_Data" {
		t.Errorf("file list = %+v", f.FileList)
	}

	expectationsMet(t, mock)
}

func TestScanMediaURLDeviceUsesCredential(t *testing.T) {
	s, mock := newMockSession(t)

	url := "https://acct.blob.core.windows.net/backups/sales.bak"
	mock.ExpectQuery("RESTORE HEADERONLY FROM URL = N'" + url + "' WITH CREDENTIAL = N'BlobCred'").
		WillReturnRows(sqlmock.NewRows([]string{"BackupType", "DatabaseName", "Position"}).
			AddRow(int64(2), "Sales", int64(1)))
	mock.ExpectQuery("RESTORE FILELISTONLY FROM URL = N'" + url + "' WITH FILE = 1, CREDENTIAL = N'BlobCred'").
		WillReturnRows(sqlmock.NewRows([]string{"LogicalName", "PhysicalName", "Type"}))

	files, err := s.ScanMedia(context.Background(), []string{url}, "BlobCred")
	if err != nil {
		t.Fatalf("ScanMedia: %v", err)
	}
	if len(files) != 1 || files[0].Type.String() != "Log" {
		t.Fatalf("descriptors = %+v", files)
	}

	expectationsMet(t, mock)
}

// ---------------------------------------------------------------------------
// session operations
// ---------------------------------------------------------------------------

func TestDatabaseExists(t *testing.T) {
	s, mock := newMockSession(t)

	mock.ExpectQuery("SELECT COUNT(*) FROM sys.databases WHERE name = @name").
		WithArgs("Sales").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := s.DatabaseExists(context.Background(), "Sales")
	if err != nil {
		t.Fatalf("DatabaseExists: %v", err)
	}
	if !exists {
		t.Error("expected Sales to exist")
	}

	expectationsMet(t, mock)
}

func TestKillSessionsSkipsStubbornSpids(t *testing.T) {
	s, mock := newMockSession(t)

	mock.ExpectQuery(`SELECT session_id FROM sys.dm_exec_sessions
WHERE database_id = DB_ID(@database) AND session_id <> @@SPID AND is_user_process = 1`).
		WithArgs("Sales").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow(51).AddRow(52).AddRow(53))

	mock.ExpectExec("KILL 51").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("KILL 52").WillReturnError(errMockKill)
	mock.ExpectExec("KILL 53").WillReturnResult(sqlmock.NewResult(0, 0))

	killed, err := s.KillSessions(context.Background(), "Sales")
	if err != nil {
		t.Fatalf("KillSessions: %v", err)
	}
	if killed != 2 {
		t.Errorf("killed = %d, want 2", killed)
	}

	expectationsMet(t, mock)
}

func TestClearLocksRunsStagesInOrder(t *testing.T) {
	s, mock := newMockSession(t)

	for _, stmt := range []string{
		"ALTER DATABASE [Sales] SET SINGLE_USER WITH ROLLBACK IMMEDIATE",
		"ALTER DATABASE [Sales] SET OFFLINE",
		"ALTER DATABASE [Sales] SET ONLINE",
		"ALTER DATABASE [Sales] SET RESTRICTED_USER",
	} {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := s.ClearLocks(context.Background(), "Sales"); err != nil {
		t.Fatalf("ClearLocks: %v", err)
	}

	expectationsMet(t, mock)
}

func TestRestoreProgressNoActiveRestore(t *testing.T) {
	s, mock := newMockSession(t)

	mock.ExpectQuery(`SELECT TOP 1 r.percent_complete FROM sys.dm_exec_requests r
WHERE r.command LIKE 'RESTORE%' AND (@database = N'' OR DB_NAME(r.database_id) = @database)
ORDER BY r.start_time DESC`).
		WithArgs("Sales").
		WillReturnRows(sqlmock.NewRows([]string{"percent_complete"}))

	percent, err := s.RestoreProgress(context.Background(), "Sales")
	if err != nil {
		t.Fatalf("RestoreProgress: %v", err)
	}
	if percent != 0 {
		t.Errorf("percent = %v, want 0", percent)
	}

	expectationsMet(t, mock)
}

var errMockKill = &mockError{"login is a sysadmin"}

type mockError struct{ msg string }

func (e *mockError) Error() string { return e.msg }
