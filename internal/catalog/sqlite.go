// Package catalog - SQLite storage implementation
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// SQLiteCatalog implements Catalog with SQLite storage.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog opens (or creates) the catalog database.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	// WAL mode for concurrent readers, busy_timeout instead of
	// immediate lock failures, NORMAL synchronous for durability at
	// reasonable cost.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{db: db, path: dbPath}
	if err := c.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the catalog file location.
func (c *SQLiteCatalog) Path() string {
	return c.path
}

func (c *SQLiteCatalog) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS restores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server TEXT NOT NULL,
		database TEXT NOT NULL,
		action TEXT NOT NULL,
		backup_files TEXT,
		target_time TEXT,
		no_recovery INTEGER DEFAULT 0,
		standby INTEGER DEFAULT 0,
		size_bytes INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		success INTEGER NOT NULL,
		error TEXT,
		script_only INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_restores_database ON restores(database);
	CREATE INDEX IF NOT EXISTS idx_restores_created_at ON restores(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_restores_database_created ON restores(database, created_at DESC);

	CREATE TABLE IF NOT EXISTS catalog_meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO catalog_meta (key, value) VALUES ('schema_version', '1');
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return nil
}

// Record inserts one restore entry and fills its ID.
func (c *SQLiteCatalog) Record(ctx context.Context, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO restores (server, database, action, backup_files, target_time,
			no_recovery, standby, size_bytes, duration_ms, success, error, script_only, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Server, entry.Database, entry.Action, entry.BackupFiles, entry.TargetTime,
		entry.NoRecovery, entry.Standby, entry.SizeBytes, entry.DurationMS,
		entry.Success, entry.Error, entry.ScriptOnly, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record restore: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List returns entries matching the query, newest first.
func (c *SQLiteCatalog) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Database != "" {
		where = append(where, "database = ?")
		args = append(args, q.Database)
	}
	if q.Server != "" {
		where = append(where, "server = ?")
		args = append(args, q.Server)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UTC())
	}
	if q.OnlyOK {
		where = append(where, "success = 1")
	}

	query := "SELECT id, server, database, action, backup_files, target_time, no_recovery, standby, size_bytes, duration_ms, success, error, script_only, created_at FROM restores"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list restores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastSuccessful returns the newest successful restore of a database,
// or nil when there is none.
func (c *SQLiteCatalog) LastSuccessful(ctx context.Context, database string) (*Entry, error) {
	entries, err := c.List(ctx, Query{Database: database, OnlyOK: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// RestoredSince lists every entry recorded at or after t.
func (c *SQLiteCatalog) RestoredSince(ctx context.Context, t time.Time) ([]Entry, error) {
	return c.List(ctx, Query{Since: t})
}

// Prune deletes entries older than keepDays and returns how many went.
func (c *SQLiteCatalog) Prune(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, errors.New("prune retention must be at least one day")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)
	res, err := c.db.ExecContext(ctx, "DELETE FROM restores WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune catalog: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the catalog database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e       Entry
		errText sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Server, &e.Database, &e.Action, &e.BackupFiles,
		&e.TargetTime, &e.NoRecovery, &e.Standby, &e.SizeBytes, &e.DurationMS,
		&e.Success, &errText, &e.ScriptOnly, &e.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("failed to scan catalog entry: %w", err)
	}
	e.Error = errText.String
	return e, nil
}
