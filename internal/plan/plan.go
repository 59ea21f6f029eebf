// Package plan turns one database's backup history into an ordered
// sequence of restore steps. Building a plan is pure computation: the
// builder sorts, validates, and derives per-step settings, but never
// touches the network or the filesystem.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "sqlrestore/internal/errors"
	"sqlrestore/internal/history"
)

// ConfirmPolicy is the explicit confirmation mode threaded through the
// planner and executor. There is no ambient confirmation state.
type ConfirmPolicy int

const (
	// ConfirmPrompt gates each mutating stage behind an interactive
	// yes/no/all prompt.
	ConfirmPrompt ConfirmPolicy = iota
	// ConfirmNone proceeds without prompting.
	ConfirmNone
	// ConfirmDryRun announces each mutating stage without executing it.
	ConfirmDryRun
)

func (c ConfirmPolicy) String() string {
	switch c {
	case ConfirmNone:
		return "none"
	case ConfirmDryRun:
		return "dry-run"
	default:
		return "prompt"
	}
}

// Action selects the restore statement verb.
type Action int

const (
	ActionDatabase Action = iota
	ActionLog
)

func (a Action) String() string {
	if a == ActionLog {
		return "Log"
	}
	return "Database"
}

// Page identifies one damaged page for a page-level restore.
type Page struct {
	FileID int
	PageID int64
}

// Relocation maps one logical file to its restored physical path.
type Relocation struct {
	Logical  string
	Physical string
}

// Options are the global restore options applied across every step of
// a plan. The zero value restores to the latest point with recovery.
type Options struct {
	// RestoreTime bounds the restore to a point in time. Zero or a
	// future time means restore to latest.
	RestoreTime time.Time

	// NoRecovery leaves the database in RESTORING after the last step.
	NoRecovery bool

	// StandbyDirectory, when set, leaves the database read-only standby
	// after the last step, with the undo file placed in this directory.
	StandbyDirectory string

	// WithReplace overwrites an existing database.
	WithReplace bool

	KeepReplication bool

	// KeepCDC preserves Change Data Capture; it requires the restore to
	// end in a recovered state.
	KeepCDC bool

	// StopMark restores to a named transaction mark and takes priority
	// over RestoreTime. StopBefore selects STOPBEFOREMARK over
	// STOPATMARK; StopAfterDate bounds the mark search.
	StopMark      string
	StopBefore    bool
	StopAfterDate time.Time

	// Pages requests a page-level restore; every step is then forced to
	// NoRecovery and the page list rendered on database actions only.
	Pages []Page

	// FileMappings relocates individual logical files. Every key must
	// match a logical name in the backup file list.
	FileMappings map[string]string

	// DataDirectory and LogDirectory relocate all files by type,
	// preserving base names. DestinationFilePrefix and
	// DestinationFileSuffix rename the restored files.
	DataDirectory         string
	LogDirectory          string
	DestinationFilePrefix string
	DestinationFileSuffix string

	// Engine tuning, validated in Build.
	MaxTransferSize int
	BlockSize       int
	BufferCount     int

	// AzureCredential names the server credential for URL devices.
	AzureCredential string

	// ExecuteAs prepends an EXECUTE AS LOGIN statement to each script.
	ExecuteAs string

	Confirm ConfirmPolicy

	// Clock supplies "now" for future-time checks and the standby file
	// name. Nil means time.Now.
	Clock func() time.Time
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Step is one planned restore statement, derived from one backup file.
type Step struct {
	Database string
	Action   Action

	// Media: one or more device paths for a striped backup set, plus
	// the file number within the media.
	Files    []string
	Position int

	FirstLSN history.LSN

	NoRecovery  bool
	StandbyFile string

	ToPointInTime  time.Time
	StopAtMark     string
	StopBeforeMark string
	StopAfterDate  time.Time

	Relocations []Relocation
	Replace     bool

	KeepReplication bool
	PageList        string
	Credential      string
	ExecuteAs       string

	MaxTransferSize int
	BlockSize       int
	BufferCount     int

	TotalSize      int64
	CompressedSize int64
	BackupStart    time.Time
	BackupEnd      time.Time
}

// Last reports whether this is the terminal step of its plan: the one
// that may recover the database or drop it into standby.
func (s *Step) Last() bool {
	return !s.NoRecovery || s.StandbyFile != ""
}

const standbyTimeFormat = "20060102150405"

// Build produces the ordered restore plan for one database. The input
// is that database's complete descriptor list in any order; Build
// sorts ascending by (type rank, FirstLSN) itself.
func Build(files []history.BackupFile, opts Options) ([]Step, error) {
	if len(files) == 0 {
		return nil, apperrors.NewDataError(apperrors.ErrCodeEmptyHistory,
			"no backup files to plan a restore from", "")
	}
	if err := validate(files, opts); err != nil {
		return nil, err
	}

	ordered := make([]history.BackupFile, len(files))
	copy(ordered, files)
	history.SortForRestore(ordered)

	database := ordered[0].Database
	now := opts.now()
	pageList := renderPageList(opts.Pages)

	// The standby directory is a server-side path; keep its separator
	// convention instead of the local one.
	var standbyFile string
	if opts.StandbyDirectory != "" && pageList == "" {
		standbyFile = joinPath(opts.StandbyDirectory,
			fmt.Sprintf("%s_%s.standby", database, now.Format(standbyTimeFormat)))
	}

	steps := make([]Step, 0, len(ordered))
	for i, f := range ordered {
		last := i == len(ordered)-1

		step := Step{
			Database:        database,
			Action:          actionFor(f.Type),
			Files:           append([]string(nil), f.FullName...),
			Position:        f.Position,
			FirstLSN:        f.FirstLSN,
			Replace:         opts.WithReplace,
			KeepReplication: opts.KeepReplication,
			PageList:        pageList,
			Credential:      opts.AzureCredential,
			ExecuteAs:       opts.ExecuteAs,
			MaxTransferSize: opts.MaxTransferSize,
			BlockSize:       opts.BlockSize,
			BufferCount:     opts.BufferCount,
			TotalSize:       f.TotalSize,
			CompressedSize:  f.CompressedSize,
			BackupStart:     f.Start,
			BackupEnd:       f.End,
		}

		// Recovery disposition. Standby keeps every step restorable,
		// with the undo file on the terminal step only.
		switch {
		case pageList != "":
			step.NoRecovery = true
		case standbyFile != "":
			step.NoRecovery = true
			if last {
				step.StandbyFile = standbyFile
			}
		default:
			step.NoRecovery = !last || opts.NoRecovery
		}

		applyStopCondition(&step, f, opts, now)

		step.Relocations = relocate(f, opts)
		steps = append(steps, step)
	}
	return steps, nil
}

func actionFor(t history.BackupType) Action {
	if t == history.TypeLog {
		return ActionLog
	}
	return ActionDatabase
}

// applyStopCondition sets the step's stop clause. A named mark beats
// point-in-time; point-in-time is skipped entirely when the requested
// time is in the future or the backup came from a SIMPLE database.
func applyStopCondition(step *Step, f history.BackupFile, opts Options, now time.Time) {
	if opts.StopMark != "" {
		if opts.StopBefore {
			step.StopBeforeMark = opts.StopMark
		} else {
			step.StopAtMark = opts.StopMark
		}
		step.StopAfterDate = opts.StopAfterDate
		return
	}

	switch {
	case !opts.RestoreTime.IsZero() && opts.RestoreTime.After(now):
		return
	case !f.RestoreTime.IsZero() && f.RestoreTime.After(now):
		return
	case strings.EqualFold(strings.TrimSpace(f.RecoveryModel), "SIMPLE"):
		return
	}

	// The file's own restore time is more specific than the global one.
	switch {
	case !f.RestoreTime.IsZero():
		step.ToPointInTime = f.RestoreTime
	case !opts.RestoreTime.IsZero():
		step.ToPointInTime = opts.RestoreTime
	}
}

// relocate derives the MOVE list for one backup file. Explicit mappings
// win per logical name; directory options relocate the rest by file
// type; unmapped files keep their original paths.
func relocate(f history.BackupFile, opts Options) []Relocation {
	var out []Relocation
	for _, file := range f.FileList {
		logical := file.LogicalName
		if target, ok := lookupMapping(opts.FileMappings, logical); ok {
			out = append(out, Relocation{Logical: logical, Physical: target})
			continue
		}

		dir := ""
		if strings.EqualFold(file.FileType, "L") {
			if opts.LogDirectory != "" {
				dir = opts.LogDirectory
			} else {
				dir = opts.DataDirectory
			}
		} else {
			dir = opts.DataDirectory
		}
		renamed := renameFile(baseNameAnyOS(file.PhysicalName), opts)
		if dir == "" {
			if renamed == baseNameAnyOS(file.PhysicalName) {
				continue
			}
			dir = dirNameAnyOS(file.PhysicalName)
		}
		out = append(out, Relocation{Logical: logical, Physical: joinPath(dir, renamed)})
	}
	return out
}

func lookupMapping(mappings map[string]string, logical string) (string, bool) {
	if len(mappings) == 0 {
		return "", false
	}
	if target, ok := mappings[logical]; ok {
		return target, true
	}
	for key, target := range mappings {
		if strings.EqualFold(key, logical) {
			return target, true
		}
	}
	return "", false
}

func renameFile(base string, opts Options) string {
	if opts.DestinationFilePrefix == "" && opts.DestinationFileSuffix == "" {
		return base
	}
	ext := ""
	if idx := strings.LastIndex(base, "."); idx > 0 {
		ext = base[idx:]
		base = base[:idx]
	}
	return opts.DestinationFilePrefix + base + opts.DestinationFileSuffix + ext
}

// Backup media paths are server-side paths and keep the server's
// separator convention, which need not match the local OS.
func baseNameAnyOS(p string) string {
	if idx := strings.LastIndexAny(p, `\/`); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func dirNameAnyOS(p string) string {
	if idx := strings.LastIndexAny(p, `\/`); idx >= 0 {
		return p[:idx]
	}
	return ""
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	sep := "/"
	if strings.Contains(dir, `\`) && !strings.Contains(dir, "/") {
		sep = `\`
	}
	return strings.TrimRight(dir, `\/`) + sep + name
}

func renderPageList(pages []Page) string {
	if len(pages) == 0 {
		return ""
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d:%d", p.FileID, p.PageID)
	}
	return strings.Join(parts, ",")
}

var validBlockSizes = []int{512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

func validate(files []history.BackupFile, opts Options) error {
	if opts.KeepCDC && (opts.NoRecovery || opts.StandbyDirectory != "") {
		return apperrors.KeepCDCConflict()
	}

	if opts.MaxTransferSize != 0 {
		if opts.MaxTransferSize%65536 != 0 || opts.MaxTransferSize > 4*1024*1024 {
			return apperrors.NewConfigError(apperrors.ErrCodeBadTuning,
				fmt.Sprintf("max transfer size %d is not a 64 KB multiple up to 4 MB", opts.MaxTransferSize),
				"Use a multiple of 65536 no larger than 4194304.")
		}
	}
	if opts.BlockSize != 0 {
		ok := false
		for _, v := range validBlockSizes {
			if opts.BlockSize == v {
				ok = true
				break
			}
		}
		if !ok {
			return apperrors.NewConfigError(apperrors.ErrCodeBadTuning,
				fmt.Sprintf("block size %d is not a supported device block size", opts.BlockSize),
				"Use one of 512, 1024, 2048, 4096, 8192, 16384, 32768 or 65536.")
		}
	}
	if opts.BufferCount < 0 {
		return apperrors.NewConfigError(apperrors.ErrCodeBadTuning,
			fmt.Sprintf("buffer count %d is negative", opts.BufferCount), "")
	}

	if len(opts.FileMappings) > 0 {
		known := make(map[string]bool)
		for _, f := range files {
			for _, file := range f.FileList {
				known[strings.ToLower(file.LogicalName)] = true
			}
		}
		var missing []string
		for logical := range opts.FileMappings {
			if !known[strings.ToLower(logical)] {
				missing = append(missing, logical)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return apperrors.NewConfigError(apperrors.ErrCodeBadMapping,
				fmt.Sprintf("file mapping names not present in the backup: %s", strings.Join(missing, ", ")),
				"Check logical file names with RESTORE FILELISTONLY.")
		}
	}

	return nil
}
