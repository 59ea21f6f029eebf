package history

import (
	"fmt"
	"sort"
	"time"

	apperrors "sqlrestore/internal/errors"
)

// ChainValidation summarizes an advisory contiguity check over one
// database's descriptors. Validation never filters or reorders; the
// planner applies whatever it is given.
type ChainValidation struct {
	Database  string    `json:"database"`
	Valid     bool      `json:"valid"`
	FullCount int       `json:"full_count"`
	DiffCount int       `json:"diff_count"`
	LogCount  int       `json:"log_count"`
	TotalSize int64     `json:"total_size"`
	FirstLSN  LSN       `json:"first_lsn,omitempty"`
	LastLSN   LSN       `json:"last_lsn,omitempty"`
	Gaps      []LogGap  `json:"gaps,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	CoversTo  time.Time `json:"covers_to,omitempty"`
}

// LogGap is a hole in the log chain: the next log starts past the end
// of the previous one.
type LogGap struct {
	AfterLSN  LSN       `json:"after_lsn"`
	NextLSN   LSN       `json:"next_lsn"`
	PrevEnd   time.Time `json:"prev_end"`
	NextStart time.Time `json:"next_start"`
}

// SelectChain picks the minimal restore chain for one database from its
// full history: the newest full backup finished at or before target,
// the newest compatible differential on top of it, and the log tail —
// including the first log that carries past target so a point-in-time
// stop inside it is reachable. A zero target means latest.
//
// Copy-only full backups never anchor a chain and are skipped.
func SelectChain(files []BackupFile, target time.Time) ([]BackupFile, error) {
	if len(files) == 0 {
		return nil, apperrors.NewDataError(apperrors.ErrCodeEmptyHistory,
			"no backup history supplied for chain selection", "")
	}
	database := files[0].Database

	var full *BackupFile
	for i := range files {
		f := &files[i]
		if f.Type != TypeFull || f.IsCopyOnly {
			continue
		}
		if !target.IsZero() && f.End.After(target) {
			continue
		}
		if full == nil || !f.End.Before(full.End) {
			full = f
		}
	}
	if full == nil {
		return nil, apperrors.NoFullBackup(database)
	}

	var diff *BackupFile
	for i := range files {
		f := &files[i]
		if f.Type != TypeDifferential {
			continue
		}
		if !target.IsZero() && f.End.After(target) {
			continue
		}
		// A differential applies only on top of the full it was taken
		// against: its base LSN must equal the full's checkpoint LSN.
		if f.DatabaseBackupLSN.IsZero() || full.CheckpointLSN.IsZero() {
			continue
		}
		if f.DatabaseBackupLSN.Compare(full.CheckpointLSN) != 0 {
			continue
		}
		if diff == nil || !f.End.Before(diff.End) {
			diff = f
		}
	}

	base := full
	if diff != nil {
		base = diff
	}

	var logs []BackupFile
	for i := range files {
		f := files[i]
		if f.Type != TypeLog {
			continue
		}
		if !f.LastLSN.IsZero() && !base.LastLSN.IsZero() && f.LastLSN.Compare(base.LastLSN) <= 0 {
			continue
		}
		logs = append(logs, f)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].FirstLSN.Less(logs[j].FirstLSN)
	})

	if !target.IsZero() {
		// Keep logs up to and including the first one that passes target.
		cut := len(logs)
		for i, f := range logs {
			if f.End.After(target) || f.End.Equal(target) {
				cut = i + 1
				break
			}
		}
		logs = logs[:cut]
	}

	chain := make([]BackupFile, 0, 2+len(logs))
	chain = append(chain, *full)
	if diff != nil {
		chain = append(chain, *diff)
	}
	chain = append(chain, logs...)
	return chain, nil
}

// ValidateChain inspects one database's descriptors in restore order
// and reports contiguity problems without fixing or filtering them.
func ValidateChain(files []BackupFile) ChainValidation {
	result := ChainValidation{Valid: true}
	if len(files) == 0 {
		result.Valid = false
		result.Warnings = append(result.Warnings, "chain is empty")
		return result
	}
	result.Database = files[0].Database

	ordered := make([]BackupFile, len(files))
	copy(ordered, files)
	SortForRestore(ordered)

	if ordered[0].Type != TypeFull && ordered[0].Type != TypeUnknown {
		result.Valid = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("chain does not start with a full backup (first is %s)", ordered[0].Type))
	}

	var full *BackupFile
	var prevLog *BackupFile
	for i := range ordered {
		f := &ordered[i]
		result.TotalSize += f.TotalSize
		if result.FirstLSN.IsZero() || f.FirstLSN.Less(result.FirstLSN) {
			result.FirstLSN = f.FirstLSN
		}
		if result.LastLSN.IsZero() || result.LastLSN.Less(f.LastLSN) {
			result.LastLSN = f.LastLSN
		}
		if f.End.After(result.CoversTo) {
			result.CoversTo = f.End
		}

		switch f.Type {
		case TypeFull, TypeUnknown:
			result.FullCount++
			full = f
		case TypeDifferential:
			result.DiffCount++
			if full != nil && !f.DatabaseBackupLSN.IsZero() && !full.CheckpointLSN.IsZero() &&
				f.DatabaseBackupLSN.Compare(full.CheckpointLSN) != 0 {
				result.Valid = false
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("differential base LSN %s does not match full checkpoint LSN %s",
						f.DatabaseBackupLSN, full.CheckpointLSN))
			}
		case TypeLog:
			result.LogCount++
			if prevLog != nil && !f.FirstLSN.IsZero() && !prevLog.LastLSN.IsZero() &&
				prevLog.LastLSN.Less(f.FirstLSN) {
				result.Valid = false
				result.Gaps = append(result.Gaps, LogGap{
					AfterLSN:  prevLog.LastLSN,
					NextLSN:   f.FirstLSN,
					PrevEnd:   prevLog.End,
					NextStart: f.Start,
				})
			}
			prevLog = f
		}
	}

	return result
}
