package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sqlrestore/internal/history"
)

// backupHistoryQuery reads one database's backup sets with their media
// families. The CASTs pin scan types across server versions; LSNs stay
// strings because numeric(25,0) exceeds int64.
const backupHistoryQuery = `SELECT bs.backup_set_id, bs.database_name, bs.type, bs.position,
       ISNULL(bs.server_name, ''), ISNULL(bs.user_name, ''),
       ISNULL(CAST(bs.first_lsn AS varchar(32)), ''), ISNULL(CAST(bs.last_lsn AS varchar(32)), ''),
       ISNULL(CAST(bs.checkpoint_lsn AS varchar(32)), ''), ISNULL(CAST(bs.database_backup_lsn AS varchar(32)), ''),
       ISNULL(bs.recovery_model, ''), bs.backup_start_date, bs.backup_finish_date,
       ISNULL(CAST(bs.backup_size AS bigint), 0), ISNULL(CAST(bs.compressed_backup_size AS bigint), 0),
       bs.is_copy_only, bmf.physical_device_name
FROM msdb.dbo.backupset bs
JOIN msdb.dbo.backupmediafamily bmf ON bs.media_set_id = bmf.media_set_id
WHERE (@database = N'' OR bs.database_name = @database)
ORDER BY bs.backup_start_date, bs.backup_set_id, bmf.family_sequence_number`

// BackupHistory reads backup descriptors from the msdb catalog. An
// empty database name returns the whole server's history. Striped sets
// come back as one descriptor with every media path.
func (s *sqlSession) BackupHistory(ctx context.Context, database string) ([]history.BackupFile, error) {
	if s.db == nil {
		return nil, fmt.Errorf("not connected to database")
	}

	rows, err := s.db.QueryContext(ctx, backupHistoryQuery, sql.Named("database", database))
	if err != nil {
		return nil, fmt.Errorf("failed to query backup history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sets := make(map[int64]*history.BackupFile)
	var order []int64
	for rows.Next() {
		var (
			setID                  int64
			dbName, rawType        string
			position               int
			serverName, userName   string
			firstLSN, lastLSN      string
			checkpointLSN, baseLSN string
			recoveryModel          string
			start, finish          time.Time
			size, compressed       int64
			isCopyOnly             bool
			device                 string
		)
		if err := rows.Scan(&setID, &dbName, &rawType, &position,
			&serverName, &userName,
			&firstLSN, &lastLSN, &checkpointLSN, &baseLSN,
			&recoveryModel, &start, &finish,
			&size, &compressed, &isCopyOnly, &device); err != nil {
			return nil, fmt.Errorf("failed to scan backup history row: %w", err)
		}

		if existing, ok := sets[setID]; ok {
			existing.FullName = append(existing.FullName, device)
			continue
		}

		f := &history.BackupFile{
			Database:          dbName,
			ServerName:        serverName,
			UserName:          userName,
			RawType:           history.TypeValue(rawType),
			Type:              history.ParseBackupType(rawType),
			FullName:          history.PathList{device},
			Position:          position,
			FirstLSN:          history.LSN(firstLSN),
			LastLSN:           history.LSN(lastLSN),
			CheckpointLSN:     history.LSN(checkpointLSN),
			DatabaseBackupLSN: history.LSN(baseLSN),
			RecoveryModel:     recoveryModel,
			Start:             start,
			End:               finish,
			TotalSize:         size,
			CompressedSize:    compressed,
			IsCopyOnly:        isCopyOnly,
		}
		sets[setID] = f
		order = append(order, setID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backup history: %w", err)
	}

	out := make([]history.BackupFile, 0, len(order))
	for _, id := range order {
		out = append(out, *sets[id])
	}
	return out, nil
}

// ScanMedia reads backup headers directly from media files the server
// can reach, one descriptor per backup set on each device, with the
// file list attached.
func (s *sqlSession) ScanMedia(ctx context.Context, paths []string, credential string) ([]history.BackupFile, error) {
	if s.db == nil {
		return nil, fmt.Errorf("not connected to database")
	}

	var out []history.BackupFile
	for _, path := range paths {
		headers, err := s.scanHeaders(ctx, path, credential)
		if err != nil {
			return nil, err
		}
		for i := range headers {
			fileList, err := s.scanFileList(ctx, path, headers[i].Position, credential)
			if err != nil {
				s.log.Warn("Could not read file list from media",
					"file", path, "error", err)
			} else {
				headers[i].FileList = fileList
			}
		}
		out = append(out, headers...)
	}
	return out, nil
}

func (s *sqlSession) scanHeaders(ctx context.Context, path, credential string) ([]history.BackupFile, error) {
	script := fmt.Sprintf("RESTORE HEADERONLY FROM %s = N'%s'", mediaDevice(path), EscapeLiteral(path))
	if credential != "" {
		script += fmt.Sprintf(" WITH CREDENTIAL = N'%s'", EscapeLiteral(credential))
	}

	rows, err := s.db.QueryContext(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup header from %s: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	maps, err := rowMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan backup header from %s: %w", path, err)
	}

	out := make([]history.BackupFile, 0, len(maps))
	for _, m := range maps {
		rawType := colString(m, "backuptype")
		f := history.BackupFile{
			Database:          colString(m, "databasename"),
			ServerName:        colString(m, "servername"),
			UserName:          colString(m, "username"),
			RawType:           history.TypeValue(rawType),
			Type:              history.ParseBackupType(rawType),
			FullName:          history.PathList{path},
			Position:          int(colInt(m, "position")),
			FirstLSN:          history.LSN(colString(m, "firstlsn")),
			LastLSN:           history.LSN(colString(m, "lastlsn")),
			CheckpointLSN:     history.LSN(colString(m, "checkpointlsn")),
			DatabaseBackupLSN: history.LSN(colString(m, "databasebackuplsn")),
			RecoveryModel:     colString(m, "recoverymodel"),
			Start:             colTime(m, "backupstartdate"),
			End:               colTime(m, "backupfinishdate"),
			TotalSize:         colInt(m, "backupsize"),
			CompressedSize:    colInt(m, "compressedbackupsize"),
			IsCopyOnly:        colInt(m, "iscopyonly") != 0,
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *sqlSession) scanFileList(ctx context.Context, path string, position int, credential string) ([]history.FileMapping, error) {
	script := fmt.Sprintf("RESTORE FILELISTONLY FROM %s = N'%s'", mediaDevice(path), EscapeLiteral(path))
	var with []string
	if position > 0 {
		with = append(with, fmt.Sprintf("FILE = %d", position))
	}
	if credential != "" {
		with = append(with, fmt.Sprintf("CREDENTIAL = N'%s'", EscapeLiteral(credential)))
	}
	if len(with) > 0 {
		script += " WITH " + strings.Join(with, ", ")
	}

	rows, err := s.db.QueryContext(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to read file list from %s: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	maps, err := rowMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan file list from %s: %w", path, err)
	}

	out := make([]history.FileMapping, 0, len(maps))
	for _, m := range maps {
		out = append(out, history.FileMapping{
			LogicalName:  colString(m, "logicalname"),
			PhysicalName: colString(m, "physicalname"),
			FileType:     colString(m, "type"),
		})
	}
	return out, nil
}

func mediaDevice(path string) string {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "s3://") {
		return "URL"
	}
	return "DISK"
}

// rowMaps reads every row into a lowercase-column-keyed map. HEADERONLY
// and FILELISTONLY change their column sets across server versions, so
// positional scanning is not an option.
func rowMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[strings.ToLower(c)] = vals[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func colString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", v), ".")
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

func colInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case []byte:
		var n int64
		_, _ = fmt.Sscanf(string(v), "%d", &n)
		return n
	case string:
		var n int64
		_, _ = fmt.Sscanf(v, "%d", &n)
		return n
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func colTime(m map[string]any, key string) time.Time {
	if t, ok := m[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}
