// Package report shapes restore outcomes into the structured records
// callers consume. Building a result is a pure projection from the
// planned step and its execution outcome; no decisions are made here.
package report

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"sqlrestore/internal/plan"
)

// RestoreResult is one output record per attempted restore step.
// Immutable once emitted.
type RestoreResult struct {
	SQLInstance string `json:"sql_instance"`
	Database    string `json:"database"`

	// BackupFiles lists the leaf names of the step's media files.
	BackupFiles string `json:"backup_files"`
	FileCount   int    `json:"file_count"`

	// BackupSize and CompressedSize are per-file averages across a
	// striped set, humanized; empty when the history carried no sizes.
	BackupSize     string `json:"backup_size,omitempty"`
	CompressedSize string `json:"compressed_size,omitempty"`

	Action   string `json:"action"`
	Position int    `json:"position,omitempty"`
	FirstLSN string `json:"first_lsn,omitempty"`

	NoRecovery bool   `json:"no_recovery"`
	Standby    string `json:"standby,omitempty"`

	// RestoreTargetTime is "Latest" when no stop condition bounded the
	// step, otherwise the bound rendered invariantly.
	RestoreTargetTime string `json:"restore_target_time"`

	RestoreTime    string `json:"restore_time"`
	CumulativeTime string `json:"cumulative_time"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Script string `json:"script,omitempty"`
}

const targetTimeFormat = "2006-01-02T15:04:05.000"

// Outcome carries what the executor measured for one step.
type Outcome struct {
	Success bool
	Err     error
	Elapsed time.Duration
	Total   time.Duration
	Script  string
}

// FromStep projects one planned step plus its outcome into a result.
func FromStep(instance string, step *plan.Step, out Outcome) RestoreResult {
	r := RestoreResult{
		SQLInstance:       instance,
		Database:          step.Database,
		BackupFiles:       leafNames(step.Files),
		FileCount:         len(step.Files),
		Action:            step.Action.String(),
		Position:          step.Position,
		FirstLSN:          step.FirstLSN.String(),
		NoRecovery:        step.NoRecovery,
		Standby:           step.StandbyFile,
		RestoreTargetTime: targetTime(step),
		RestoreTime:       formatDuration(out.Elapsed),
		CumulativeTime:    formatDuration(out.Total),
		Success:           out.Success,
		Script:            out.Script,
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	if size := averageSize(step.TotalSize, len(step.Files)); size != "" {
		r.BackupSize = size
	}
	if size := averageSize(step.CompressedSize, len(step.Files)); size != "" {
		r.CompressedSize = size
	}
	return r
}

// targetTime names the stop bound of a step for humans. An unbounded
// step restores to the end of its backup: "Latest".
func targetTime(step *plan.Step) string {
	switch {
	case step.StopAtMark != "":
		return "Mark: " + step.StopAtMark
	case step.StopBeforeMark != "":
		return "Before mark: " + step.StopBeforeMark
	case !step.ToPointInTime.IsZero():
		return step.ToPointInTime.Format(targetTimeFormat)
	default:
		return "Latest"
	}
}

// averageSize renders the mean media-file size of a striped set, or ""
// when the history carried no size (0 means unknown, not empty).
func averageSize(total int64, files int) string {
	if total <= 0 || files <= 0 {
		return ""
	}
	return humanize.IBytes(uint64(total / int64(files)))
}

func leafNames(paths []string) string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		idx := strings.LastIndexAny(p, `\/`)
		if idx < 0 {
			names = append(names, p)
			continue
		}
		names = append(names, p[idx+1:])
	}
	return strings.Join(names, ", ")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
