// Package catalog provides the local restore catalog: a durable record
// of every restore this tool has issued, for downstream tooling and
// audit. It complements the executor's in-memory restored-names cache.
package catalog

import (
	"context"
	"time"

	"sqlrestore/internal/plan"
)

// Entry is one recorded restore step.
type Entry struct {
	ID          int64     `json:"id"`
	Server      string    `json:"server"`
	Database    string    `json:"database"`
	Action      string    `json:"action"`
	BackupFiles string    `json:"backup_files"`
	TargetTime  string    `json:"target_time"`
	NoRecovery  bool      `json:"no_recovery"`
	Standby     bool      `json:"standby"`
	SizeBytes   int64     `json:"size_bytes"`
	DurationMS  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	ScriptOnly  bool      `json:"script_only"`
	CreatedAt   time.Time `json:"created_at"`
}

// Query filters List results. Zero values mean no filter.
type Query struct {
	Database string
	Server   string
	Since    time.Time
	OnlyOK   bool
	Limit    int
}

// Catalog is the restore catalog surface.
type Catalog interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
	LastSuccessful(ctx context.Context, database string) (*Entry, error)
	RestoredSince(ctx context.Context, t time.Time) ([]Entry, error)
	Prune(ctx context.Context, keepDays int) (int64, error)
	Close() error
}

// EntryFromStep projects one executed step into a catalog entry.
func EntryFromStep(server string, step *plan.Step, success bool, err error, elapsed time.Duration, scriptOnly bool) *Entry {
	target := "Latest"
	switch {
	case step.StopAtMark != "":
		target = "mark:" + step.StopAtMark
	case step.StopBeforeMark != "":
		target = "before-mark:" + step.StopBeforeMark
	case !step.ToPointInTime.IsZero():
		target = step.ToPointInTime.UTC().Format(time.RFC3339)
	}

	entry := &Entry{
		Server:      server,
		Database:    step.Database,
		Action:      step.Action.String(),
		BackupFiles: joinFiles(step.Files),
		TargetTime:  target,
		NoRecovery:  step.NoRecovery,
		Standby:     step.StandbyFile != "",
		SizeBytes:   step.TotalSize,
		DurationMS:  elapsed.Milliseconds(),
		Success:     success,
		ScriptOnly:  scriptOnly,
		CreatedAt:   time.Now().UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

func joinFiles(files []string) string {
	out := ""
	for i, f := range files {
		if i > 0 {
			out += ";"
		}
		out += f
	}
	return out
}
