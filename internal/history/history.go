// Package history models SQL Server backup history: the descriptors a
// restore sequence is planned from, their type classification, and
// LSN ordering. Descriptors arrive from a JSON export, from msdb, or
// from RESTORE HEADERONLY scans; they are read-only inputs from the
// planner's point of view.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "sqlrestore/internal/errors"
	"sqlrestore/internal/logger"
)

// BackupType is the closed classification of a backup set, decided once
// at ingestion. Engine type codes: 1 = full, 5 = differential, 2 = log.
type BackupType int

const (
	TypeUnknown BackupType = iota
	TypeFull
	TypeDifferential
	TypeLog
)

func (t BackupType) String() string {
	switch t {
	case TypeFull:
		return "Full"
	case TypeDifferential:
		return "Differential"
	case TypeLog:
		return "Log"
	default:
		return "Unknown"
	}
}

// SortRank orders backup sets for restore: full, then differential,
// then logs. Unknown sets restore as database restores, so they rank
// with fulls rather than floating to an arbitrary position.
func (t BackupType) SortRank() int {
	switch t {
	case TypeDifferential:
		return 2
	case TypeLog:
		return 3
	default:
		return 1
	}
}

// ParseBackupType classifies a raw type value (numeric code or name).
func ParseBackupType(raw string) BackupType {
	// Codes 1/5/2 come from RESTORE HEADERONLY, letters D/I/L from the
	// msdb backupset catalog, names from JSON exports.
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "d", "database", "full", "full database backup":
		return TypeFull
	case "5", "i", "database differential", "differential", "diff":
		return TypeDifferential
	case "2", "l", "transaction log", "log":
		return TypeLog
	default:
		return TypeUnknown
	}
}

// LSN is a log sequence number: a decimal numeric(25,0) rendered as a
// string, since the value range exceeds uint64.
type LSN string

// IsZero reports whether the LSN is empty or all zeros.
func (l LSN) IsZero() bool {
	s := strings.TrimLeft(strings.TrimSpace(string(l)), "0")
	return s == ""
}

// Compare returns -1, 0, or 1 ordering two LSNs numerically.
func (l LSN) Compare(other LSN) int {
	a := strings.TrimLeft(strings.TrimSpace(string(l)), "0")
	b := strings.TrimLeft(strings.TrimSpace(string(other)), "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Less reports whether l orders before other.
func (l LSN) Less(other LSN) bool {
	return l.Compare(other) < 0
}

func (l LSN) String() string {
	return string(l)
}

// UnmarshalJSON accepts both string and numeric JSON encodings; numeric
// digits are taken verbatim so precision is never lost to float64.
func (l *LSN) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = LSN(s)
		return nil
	}
	*l = LSN(string(b))
	return nil
}

// TypeValue carries the raw backup type as ingested: engine history
// encodes it both as numeric codes and as names, so both are accepted.
type TypeValue string

// UnmarshalJSON accepts a JSON string or number.
func (t *TypeValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = TypeValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("backup type must be a string or number: %w", err)
	}
	*t = TypeValue(n.String())
	return nil
}

// PathList accepts a single path or an array of paths: one backup set
// may be striped across multiple media files.
type PathList []string

// UnmarshalJSON accepts a JSON string or array of strings.
func (p *PathList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = PathList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*p = PathList(list)
	return nil
}

// FileMapping is one logical-to-physical file pair from the backup's
// file list. FileType is the engine's file class: D = data, L = log,
// F = full-text, S = filestream.
type FileMapping struct {
	LogicalName  string `json:"logical_name"`
	PhysicalName string `json:"physical_name"`
	FileType     string `json:"file_type,omitempty"`
}

// BackupFile describes one backup set to restore. Produced upstream,
// treated as read-only here.
type BackupFile struct {
	Database   string `json:"database"`
	ServerName string `json:"server_name,omitempty"`
	UserName   string `json:"user_name,omitempty"`

	RawType TypeValue  `json:"type"`
	Type    BackupType `json:"-"`

	FullName PathList `json:"full_name"`
	Position int      `json:"position,omitempty"`

	FirstLSN          LSN `json:"first_lsn,omitempty"`
	LastLSN           LSN `json:"last_lsn,omitempty"`
	CheckpointLSN     LSN `json:"checkpoint_lsn,omitempty"`
	DatabaseBackupLSN LSN `json:"database_backup_lsn,omitempty"`

	RecoveryModel string        `json:"recovery_model,omitempty"`
	FileList      []FileMapping `json:"file_list,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// RestoreTime is a per-file point-in-time override set by upstream
	// filtering; zero means no file-level override.
	RestoreTime time.Time `json:"restore_time,omitempty"`

	TotalSize      int64 `json:"total_size,omitempty"`
	CompressedSize int64 `json:"compressed_size,omitempty"`

	IsCopyOnly bool `json:"is_copy_only,omitempty"`
}

// Leaf returns the base names of the media files, joined.
func (f *BackupFile) Leaf() string {
	names := make([]string, 0, len(f.FullName))
	for _, p := range f.FullName {
		names = append(names, baseName(p))
	}
	return strings.Join(names, ", ")
}

func baseName(p string) string {
	// Media paths may be server-side Windows paths or URLs; pick the
	// final component regardless of separator convention.
	idx := strings.LastIndexAny(p, `\/`)
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// Normalize decides the closed BackupType for every descriptor. An
// unrecognized raw type is never silently restored as a full backup:
// it is logged as a warning, or rejected outright in strict mode.
func Normalize(files []BackupFile, strict bool, log logger.Logger) ([]BackupFile, error) {
	out := make([]BackupFile, len(files))
	for i, f := range files {
		f.Type = ParseBackupType(string(f.RawType))
		if f.Type == TypeUnknown {
			if strict {
				return nil, apperrors.UnknownBackupType(f.Database, string(f.RawType))
			}
			log.Warn("Unrecognized backup type, restoring as a database restore",
				"database", f.Database, "type", string(f.RawType), "file", f.Leaf())
		}
		out[i] = f
	}
	return out, nil
}

// GroupByDatabase splits descriptors per database, preserving the
// first-seen order of database names for stable batch processing.
func GroupByDatabase(files []BackupFile) (map[string][]BackupFile, []string) {
	groups := make(map[string][]BackupFile)
	var order []string
	for _, f := range files {
		if _, seen := groups[f.Database]; !seen {
			order = append(order, f.Database)
		}
		groups[f.Database] = append(groups[f.Database], f)
	}
	return groups, order
}

// SortForRestore orders one database's descriptors for application:
// ascending (type rank, FirstLSN). The sort is stable so equal keys
// keep their ingestion order.
func SortForRestore(files []BackupFile) {
	sort.SliceStable(files, func(i, j int) bool {
		ri, rj := files[i].Type.SortRank(), files[j].Type.SortRank()
		if ri != rj {
			return ri < rj
		}
		return files[i].FirstLSN.Less(files[j].FirstLSN)
	})
}
