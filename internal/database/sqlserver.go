package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mssql "github.com/microsoft/go-mssqldb"

	"sqlrestore/internal/config"
	apperrors "sqlrestore/internal/errors"
	"sqlrestore/internal/logger"
)

// SQLServer opens sessions against one configured SQL Server instance.
type SQLServer struct {
	cfg *config.Config
	log logger.Logger
}

// NewSQLServer creates a connector for the configured server.
func NewSQLServer(cfg *config.Config, log logger.Logger) *SQLServer {
	return &SQLServer{cfg: cfg, log: log}
}

// Target names the server for logs and error messages.
func (s *SQLServer) Target() string {
	return s.cfg.ServerAddr()
}

// Connect dials the server with exponential backoff and returns a
// scoped session once a ping succeeds. Authentication failures are
// permanent and not retried.
func (s *SQLServer) Connect(ctx context.Context) (Session, error) {
	dsn := s.buildDSN()

	s.log.Debug("SQL Server connection attempt",
		"server", s.cfg.ServerAddr(),
		"user", s.cfg.User,
		"database", s.cfg.Database,
		"encrypt", s.cfg.Encrypt,
		"password_set", s.cfg.Password != "",
		"dsn", sanitizeDSN(dsn),
	)

	timeout := time.Duration(s.cfg.ConnectTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var db *sql.DB
	dial := func() error {
		handle, err := sql.Open("sqlserver", dsn)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse connection string: %w", err))
		}

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := handle.PingContext(pingCtx); err != nil {
			_ = handle.Close()
			if isPermanentConnectError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		db = handle
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = 15 * time.Second
	expBackoff.MaxElapsedTime = 2 * time.Minute
	expBackoff.Reset()

	var b backoff.BackOff = expBackoff
	if s.cfg.DialRetries > 0 {
		b = backoff.WithMaxRetries(expBackoff, uint64(s.cfg.DialRetries))
	}
	b = backoff.WithContext(b, ctx)

	notify := func(err error, wait time.Duration) {
		s.log.Warn("Connection failed, retrying",
			"server", s.cfg.ServerAddr(), "wait", wait.Round(time.Millisecond), "error", err)
	}
	if err := backoff.RetryNotify(dial, b, notify); err != nil {
		s.log.Error("Failed to connect to SQL Server",
			"server", s.cfg.ServerAddr(),
			"user", s.cfg.User,
			"error", err,
		)
		connErr := apperrors.ConnectionFailed(s.cfg.ServerAddr(), err)
		if hint := getConnectionHint(err.Error(), s.cfg.Host, s.cfg.Port, s.cfg.User); hint != "" {
			connErr = connErr.WithDetails(hint)
		}
		return nil, connErr
	}

	// The restore statement blocks its connection; the second slot
	// serves progress polling and control queries.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s.log.Info("Connected to SQL Server", "server", s.cfg.ServerAddr(), "database", s.cfg.Database)
	return &sqlSession{db: db, cfg: s.cfg, log: s.log}, nil
}

// buildDSN renders the sqlserver:// connection URL. Named instances
// ride the URL path and skip the port so the browser service resolves
// them.
func (s *SQLServer) buildDSN() string {
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
	}
	if s.cfg.Instance != "" {
		u.Host = s.cfg.Host
		u.Path = s.cfg.Instance
	}
	if s.cfg.User != "" {
		u.User = url.UserPassword(s.cfg.User, s.cfg.Password)
	}

	q := url.Values{}
	if s.cfg.Database != "" {
		q.Set("database", s.cfg.Database)
	}
	if s.cfg.AppName != "" {
		q.Set("app name", s.cfg.AppName)
	}
	if s.cfg.ConnectTimeoutSec > 0 {
		q.Set("dial timeout", strconv.Itoa(s.cfg.ConnectTimeoutSec))
	}
	if s.cfg.Encrypt != "" {
		q.Set("encrypt", s.cfg.Encrypt)
	}
	if s.cfg.TrustServerCert {
		q.Set("TrustServerCertificate", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// sanitizeDSN removes the password from a sqlserver:// URL for logging.
func sanitizeDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// isPermanentConnectError reports whether retrying the dial is
// pointless: bad credentials or a rejected database never self-heal.
func isPermanentConnectError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "login failed") ||
		strings.Contains(msg, "login error") ||
		strings.Contains(msg, "cannot open database")
}

// getConnectionHint maps common SQL Server connection error patterns to
// actionable fix suggestions. The returned string is empty when no hint
// applies.
func getConnectionHint(errMsg, host string, port int, user string) string {
	e := strings.ToLower(errMsg)

	switch {
	case strings.Contains(e, "login failed"):
		return fmt.Sprintf("Hint: login failed for user %q.\n"+
			"  Check MSSQL_USER and MSSQL_PASSWORD (or SQLCMDPASSWORD).\n"+
			"  Verify with: sqlcmd -S %s,%d -U %s -Q \"SELECT 1\"\n", user, host, port, user)

	case strings.Contains(e, "unable to open tcp connection"), strings.Contains(e, "connection refused"):
		return fmt.Sprintf("Hint: SQL Server is not reachable on %s:%d.\n"+
			"  Check: the instance is running and TCP/IP is enabled in its network configuration.\n"+
			"  Check: firewall rules for port %d.\n", host, port, port)

	case strings.Contains(e, "no such host"):
		return fmt.Sprintf("Hint: hostname %q could not be resolved. Check spelling or DNS.\n", host)

	case strings.Contains(e, "certificate"):
		return "Hint: TLS certificate validation failed.\n" +
			"  Set MSSQL_TRUST_CERT=true for a self-signed certificate, or MSSQL_ENCRYPT=disable.\n"

	case strings.Contains(e, "timeout"), strings.Contains(e, "timed out"):
		return fmt.Sprintf("Hint: connection to %s:%d timed out.\n"+
			"  Check: network path, firewall rules and that the instance accepts remote connections.\n", host, port)

	case strings.Contains(e, "cannot open database"):
		return "Hint: the initial catalog does not exist or is inaccessible. Check MSSQL_DATABASE.\n"

	default:
		return ""
	}
}

// sqlSession is a live connection scope over one *sql.DB pool.
type sqlSession struct {
	db        *sql.DB
	cfg       *config.Config
	log       logger.Logger
	closeOnce sync.Once
}

// Close is safe to call multiple times.
func (s *sqlSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

func (s *sqlSession) Execute(ctx context.Context, script string) error {
	if s.db == nil {
		return fmt.Errorf("not connected to database")
	}
	if _, err := s.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Verify runs a RESTORE VERIFYONLY script. A server-raised error means
// the backup set did not verify; only transport failures surface as
// errors.
func (s *sqlSession) Verify(ctx context.Context, script string) (bool, string, error) {
	if s.db == nil {
		return false, "", fmt.Errorf("not connected to database")
	}

	_, err := s.db.ExecContext(ctx, script)
	if err == nil {
		return true, "Verify successful", nil
	}

	var serverErr mssql.Error
	if errors.As(err, &serverErr) {
		s.log.Debug("Backup verification failed",
			"number", serverErr.Number, "message", serverErr.Message)
		return false, "Verify failed", nil
	}
	return false, "", fmt.Errorf("failed to run verification: %w", err)
}

func (s *sqlSession) DatabaseExists(ctx context.Context, name string) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("not connected to database")
	}

	var count int
	query := "SELECT COUNT(*) FROM sys.databases WHERE name = @name"
	if err := s.db.QueryRowContext(ctx, query, sql.Named("name", name)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	return count > 0, nil
}

func (s *sqlSession) EngineEdition(ctx context.Context) (Edition, error) {
	if s.db == nil {
		return EditionUnknown, fmt.Errorf("not connected to database")
	}

	var edition int
	query := "SELECT CAST(SERVERPROPERTY('EngineEdition') AS int)"
	if err := s.db.QueryRowContext(ctx, query).Scan(&edition); err != nil {
		return EditionUnknown, fmt.Errorf("failed to read engine edition: %w", err)
	}
	return Edition(edition), nil
}

// KillSessions terminates other user sessions in the database. A
// session that refuses to die is logged and skipped; only the listing
// query itself can fail.
func (s *sqlSession) KillSessions(ctx context.Context, database string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("not connected to database")
	}

	query := `SELECT session_id FROM sys.dm_exec_sessions
WHERE database_id = DB_ID(@database) AND session_id <> @@SPID AND is_user_process = 1`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("database", database))
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions for %s: %w", database, err)
	}
	defer func() { _ = rows.Close() }()

	var spids []int
	for rows.Next() {
		var spid int
		if err := rows.Scan(&spid); err != nil {
			return 0, fmt.Errorf("failed to scan session id: %w", err)
		}
		spids = append(spids, spid)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to list sessions for %s: %w", database, err)
	}

	killed := 0
	for _, spid := range spids {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("KILL %d", spid)); err != nil {
			s.log.Debug("Could not kill session", "spid", spid, "database", database, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

// ClearLocks cycles the database through single-user, offline, online
// and restricted-user. The user-mode changes need the database online,
// so restricted-user runs after the online stage.
func (s *sqlSession) ClearLocks(ctx context.Context, database string) error {
	if s.db == nil {
		return fmt.Errorf("not connected to database")
	}

	name := QuoteIdentifier(database)
	stages := []struct {
		stage string
		stmt  string
	}{
		{"single-user", fmt.Sprintf("ALTER DATABASE %s SET SINGLE_USER WITH ROLLBACK IMMEDIATE", name)},
		{"offline", fmt.Sprintf("ALTER DATABASE %s SET OFFLINE", name)},
		{"online", fmt.Sprintf("ALTER DATABASE %s SET ONLINE", name)},
		{"restricted-user", fmt.Sprintf("ALTER DATABASE %s SET RESTRICTED_USER", name)},
	}

	for _, st := range stages {
		s.log.Debug("Clearing locks", "database", database, "stage", st.stage)
		if _, err := s.db.ExecContext(ctx, st.stmt); err != nil {
			return fmt.Errorf("failed to set %s on %s: %w", st.stage, database, err)
		}
	}
	return nil
}

func (s *sqlSession) DropDatabase(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("not connected to database")
	}

	query := fmt.Sprintf("DROP DATABASE %s", QuoteIdentifier(name))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", name, err)
	}
	s.log.Info("Dropped database", "database", name)
	return nil
}

// RestoreProgress reads percent_complete of the most recent RESTORE
// request. No visible restore reports 0 without error.
func (s *sqlSession) RestoreProgress(ctx context.Context, database string) (float64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("not connected to database")
	}

	query := `SELECT TOP 1 r.percent_complete FROM sys.dm_exec_requests r
WHERE r.command LIKE 'RESTORE%' AND (@database = N'' OR DB_NAME(r.database_id) = @database)
ORDER BY r.start_time DESC`
	var percent float64
	err := s.db.QueryRowContext(ctx, query, sql.Named("database", database)).Scan(&percent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read restore progress: %w", err)
	}
	return percent, nil
}
