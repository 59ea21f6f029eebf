package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"sqlrestore/internal/catalog"
	"sqlrestore/internal/database"
	apperrors "sqlrestore/internal/errors"
	"sqlrestore/internal/history"
	"sqlrestore/internal/plan"
	"sqlrestore/internal/report"
	"sqlrestore/internal/restore"
)

var (
	// History sources (exactly one required)
	restoreHistoryFile string
	restoreFromServer  bool
	restoreScanPaths   []string

	restoreDatabases   []string
	restoreStrictTypes bool

	// Plan options, 1:1 with the planner
	restoreTimeStr        string
	restoreNoRecovery     bool
	restoreStandbyDir     string
	restoreWithReplace    bool
	restoreKeepReplicaton bool
	restoreKeepCDC        bool
	restoreStopMark       string
	restoreStopBefore     bool
	restoreStopAfterStr   string
	restorePages          []string
	restoreFileMappings   []string
	restoreDataDir        string
	restoreLogDir         string
	restoreFilePrefix     string
	restoreFileSuffix     string
	restoreMaxTransfer    int
	restoreBlockSize      int
	restoreBufferCount    int
	restoreAzureCred      string
	restoreExecuteAs      string

	// Execution modes and policy
	restoreScriptOnly bool
	restoreVerifyOnly bool
	restoreForce      bool
	restoreConfirm    bool
	restoreDryRun     bool
	restoreNoCatalog  bool
	restoreScriptOut  string
	restoreJSONOut    bool
)

// scriptFs lets tests swap the script-out target for an in-memory fs.
var scriptFs = afero.NewOsFs()

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Sequence and apply backup chains",
	Long: `Sequence backup chains into ordered RESTORE statements and apply
them to the configured server.

Each database's backup files are sorted by (type, first LSN), planned
into one restore sequence, and applied in order. A step failure
abandons that database's remaining steps; the batch continues with the
next database.

By default each mutating stage asks for confirmation. Use --force to
proceed without prompting, or --dry-run to announce without executing.

Examples:
  # Restore everything in a history export
  sqlrestore restore --history backups.json --with-replace --force

  # Leave the database in RESTORING for further log shipping
  sqlrestore restore --history backups.json --database Sales --no-recovery --force

  # Standby: read-only between log restores
  sqlrestore restore --history backups.json --database Sales \
    --standby-directory D:\standby --force

  # Stop before a named transaction mark
  sqlrestore restore --history backups.json --database Sales \
    --stop-mark deploy42 --stop-before --force

  # Page-level repair
  sqlrestore restore --history backups.json --database Sales \
    --page 1:402 --page 1:819 --force

  # Emit the T-SQL without executing
  sqlrestore restore --history backups.json --output-script-only --script-out restore.sql`,
	RunE: runRestore,
}

// addHistoryFlags registers the history-source flags shared by the
// commands that consume backup chains.
func addHistoryFlags(f *pflag.FlagSet) {
	f.StringVar(&restoreHistoryFile, "history", "", "backup history JSON file (.json, .json.gz, .json.zst)")
	f.BoolVar(&restoreFromServer, "from-server", false, "read backup history from the server's msdb catalog")
	f.StringArrayVar(&restoreScanPaths, "scan", nil, "scan backup media headers (repeatable; server-visible path or URL)")
	f.StringArrayVar(&restoreDatabases, "database", nil, "restore only these databases (repeatable)")
	f.BoolVar(&restoreStrictTypes, "strict-types", false, "reject unrecognized backup type codes instead of warning")
}

// addPlanFlags registers the planner option flags shared by restore
// and preview.
func addPlanFlags(f *pflag.FlagSet) {
	f.StringVar(&restoreTimeStr, "restore-time", "", "point in time to restore to (e.g. 2024-03-15T09:30:00)")
	f.BoolVar(&restoreNoRecovery, "no-recovery", false, "leave databases in RESTORING after the last step")
	f.StringVar(&restoreStandbyDir, "standby-directory", "", "leave databases in read-only standby; undo files go here")
	f.BoolVar(&restoreWithReplace, "with-replace", false, "overwrite existing databases")
	f.BoolVar(&restoreKeepReplicaton, "keep-replication", false, "preserve replication settings")
	f.BoolVar(&restoreKeepCDC, "keep-cdc", false, "preserve Change Data Capture (requires full recovery)")
	f.StringVar(&restoreStopMark, "stop-mark", "", "restore to a named transaction mark")
	f.BoolVar(&restoreStopBefore, "stop-before", false, "stop before the mark instead of at it")
	f.StringVar(&restoreStopAfterStr, "stop-after-date", "", "only consider marks after this time")
	f.StringArrayVar(&restorePages, "page", nil, "page to restore as fileid:pageid (repeatable)")
	f.StringArrayVar(&restoreFileMappings, "file-mapping", nil, "relocate a logical file: logical=physical (repeatable)")
	f.StringVar(&restoreDataDir, "data-directory", "", "relocate data files into this directory")
	f.StringVar(&restoreLogDir, "log-directory", "", "relocate log files into this directory")
	f.StringVar(&restoreFilePrefix, "destination-file-prefix", "", "prefix restored file names")
	f.StringVar(&restoreFileSuffix, "destination-file-suffix", "", "suffix restored file names (before the extension)")
	f.IntVar(&restoreMaxTransfer, "max-transfer-size", 0, "MAXTRANSFERSIZE in bytes (64 KiB multiple, max 4 MiB)")
	f.IntVar(&restoreBlockSize, "block-size", 0, "BLOCKSIZE in bytes (512 to 65536, power of two)")
	f.IntVar(&restoreBufferCount, "buffer-count", 0, "BUFFERCOUNT for the restore")
	f.StringVar(&restoreAzureCred, "azure-credential", "", "server credential name for URL media")
	f.StringVar(&restoreExecuteAs, "execute-as", "", "run restores as this login")
}

func init() {
	f := restoreCmd.Flags()
	addHistoryFlags(f)
	addPlanFlags(f)

	f.BoolVar(&restoreScriptOnly, "output-script-only", false, "render the T-SQL without executing")
	f.BoolVar(&restoreVerifyOnly, "verify-only", false, "verify backup media instead of restoring")
	f.BoolVar(&restoreForce, "force", false, "proceed without confirmation prompts")
	f.BoolVar(&restoreConfirm, "confirm", false, "prompt before each mutating stage (the default)")
	f.BoolVar(&restoreDryRun, "dry-run", false, "announce each stage without executing")
	f.BoolVar(&restoreNoCatalog, "no-catalog", false, "do not record restores in the local catalog")
	f.StringVar(&restoreScriptOut, "script-out", "", "write generated scripts to this file")
	f.BoolVar(&restoreJSONOut, "json", false, "emit results as JSON")

	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if restoreScriptOnly && restoreVerifyOnly {
		return apperrors.NewConfigError(apperrors.ErrCodeInvalidOption,
			"--output-script-only and --verify-only are mutually exclusive", "")
	}

	opts, err := buildPlanOptions()
	if err != nil {
		return err
	}

	connector := database.NewSQLServer(cfg, log)
	ctx := cmd.Context()

	plans, order, err := loadPlans(ctx, connector, opts)
	if err != nil {
		return err
	}

	mode := restore.ModeExecute
	switch {
	case restoreScriptOnly:
		mode = restore.ModeScriptOnly
	case restoreVerifyOnly:
		mode = restore.ModeVerifyOnly
	}

	var exec *restore.Executor
	if cfg.Quiet || mode != restore.ModeExecute {
		exec = restore.NewSilent(connector, log, opts, mode)
	} else {
		exec = restore.New(connector, log, opts, mode)
	}

	if mode == restore.ModeExecute && !restoreNoCatalog && !cfg.NoCatalog {
		cat, err := catalog.NewSQLiteCatalog(cfg.CatalogPath)
		if err != nil {
			log.Warn("Restore catalog unavailable, continuing without it", "error", err)
		} else {
			defer func() { _ = cat.Close() }()
			exec.SetRecorder(cat)
		}
	}

	run, runErr := exec.Run(ctx, plans, order)
	if runErr != nil && apperrors.IsFatal(runErr) {
		return runErr
	}

	if mode == restore.ModeScriptOnly {
		if err := emitScripts(run.Scripts()); err != nil {
			return err
		}
	} else if restoreJSONOut {
		if err := report.WriteJSON(os.Stdout, run.Results()); err != nil {
			return err
		}
	} else {
		for _, db := range run.Databases {
			if db.Skipped {
				report.WriteSkip(os.Stdout, db.Database, db.SkipReason)
			}
		}
		report.WriteBadges(os.Stdout, run.Results())
		report.WriteTable(os.Stdout, run.Results())
	}

	return runErr
}

// buildPlanOptions translates flags into planner options, parsing the
// composite flag values.
func buildPlanOptions() (plan.Options, error) {
	opts := plan.Options{
		NoRecovery:            restoreNoRecovery,
		StandbyDirectory:      restoreStandbyDir,
		WithReplace:           restoreWithReplace,
		KeepReplication:       restoreKeepReplicaton,
		KeepCDC:               restoreKeepCDC,
		StopMark:              restoreStopMark,
		StopBefore:            restoreStopBefore,
		DataDirectory:         restoreDataDir,
		LogDirectory:          restoreLogDir,
		DestinationFilePrefix: restoreFilePrefix,
		DestinationFileSuffix: restoreFileSuffix,
		MaxTransferSize:       restoreMaxTransfer,
		BlockSize:             restoreBlockSize,
		BufferCount:           restoreBufferCount,
		AzureCredential:       restoreAzureCred,
		ExecuteAs:             restoreExecuteAs,
	}

	switch {
	case restoreForce && restoreDryRun:
		return opts, apperrors.NewConfigError(apperrors.ErrCodeInvalidOption,
			"--force and --dry-run are mutually exclusive", "")
	case restoreForce:
		opts.Confirm = plan.ConfirmNone
	case restoreDryRun:
		opts.Confirm = plan.ConfirmDryRun
	default:
		// --confirm is the default; the flag exists to say so
		// explicitly in scripts.
		opts.Confirm = plan.ConfirmPrompt
	}

	var err error
	if opts.RestoreTime, err = parseTimeFlag("restore-time", restoreTimeStr); err != nil {
		return opts, err
	}
	if opts.StopAfterDate, err = parseTimeFlag("stop-after-date", restoreStopAfterStr); err != nil {
		return opts, err
	}
	if opts.Pages, err = parsePages(restorePages); err != nil {
		return opts, err
	}
	if opts.FileMappings, err = parseMappings(restoreFileMappings); err != nil {
		return opts, err
	}
	return opts, nil
}

// loadPlans runs the shared pipeline: load history, normalize, filter,
// group, and plan one restore sequence per database.
func loadPlans(ctx context.Context, connector database.Connector, opts plan.Options) (map[string][]plan.Step, []string, error) {
	files, err := loadHistory(ctx, connector)
	if err != nil {
		return nil, nil, err
	}
	files, err = history.Normalize(files, restoreStrictTypes, log)
	if err != nil {
		return nil, nil, err
	}
	files = filterDatabases(files, restoreDatabases)
	if len(files) == 0 {
		return nil, nil, apperrors.NewDataError(apperrors.ErrCodeEmptyHistory,
			"no backup history left after filtering", "Check --database names against the history.")
	}

	groups, order := history.GroupByDatabase(files)
	plans := make(map[string][]plan.Step, len(groups))
	for _, name := range order {
		steps, err := plan.Build(groups[name], opts)
		if err != nil {
			return nil, nil, err
		}
		plans[name] = steps
	}
	return plans, order, nil
}

// loadHistory reads descriptors from whichever source was selected.
func loadHistory(ctx context.Context, connector database.Connector) ([]history.BackupFile, error) {
	sources := 0
	if restoreHistoryFile != "" {
		sources++
	}
	if restoreFromServer {
		sources++
	}
	if len(restoreScanPaths) > 0 {
		sources++
	}
	if sources != 1 {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeMissingOption,
			"exactly one history source is required",
			"Use --history FILE, --from-server, or --scan PATH.")
	}

	if restoreHistoryFile != "" {
		return history.LoadFile(restoreHistoryFile)
	}

	sess, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	src, ok := sess.(database.HistorySource)
	if !ok {
		return nil, apperrors.NewInternalError(apperrors.ErrCodeInvalidState,
			"session does not expose backup history", nil)
	}

	if restoreFromServer {
		var dbName string
		if len(restoreDatabases) == 1 {
			dbName = restoreDatabases[0]
		}
		return src.BackupHistory(ctx, dbName)
	}
	return src.ScanMedia(ctx, restoreScanPaths, restoreAzureCred)
}

func filterDatabases(files []history.BackupFile, names []string) []history.BackupFile {
	if len(names) == 0 {
		return files
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	out := files[:0:0]
	for _, f := range files {
		if want[strings.ToLower(f.Database)] {
			out = append(out, f)
		}
	}
	return out
}

// timeLayouts are accepted by every time-valued flag, most specific
// first.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperrors.NewConfigError(apperrors.ErrCodeInvalidOption,
		fmt.Sprintf("--%s %q is not a recognized timestamp", name, value),
		"Use e.g. 2024-03-15T09:30:00 or 2024-03-15.")
}

func parsePages(values []string) ([]plan.Page, error) {
	if len(values) == 0 {
		return nil, nil
	}
	pages := make([]plan.Page, 0, len(values))
	for _, v := range values {
		fid, pid, ok := strings.Cut(v, ":")
		if !ok {
			return nil, apperrors.NewConfigError(apperrors.ErrCodeBadPageList,
				fmt.Sprintf("--page %q is not fileid:pageid", v), "")
		}
		fileID, err := strconv.Atoi(strings.TrimSpace(fid))
		if err != nil {
			return nil, apperrors.NewConfigError(apperrors.ErrCodeBadPageList,
				fmt.Sprintf("--page %q has a bad file id", v), "")
		}
		pageID, err := strconv.ParseInt(strings.TrimSpace(pid), 10, 64)
		if err != nil {
			return nil, apperrors.NewConfigError(apperrors.ErrCodeBadPageList,
				fmt.Sprintf("--page %q has a bad page id", v), "")
		}
		pages = append(pages, plan.Page{FileID: fileID, PageID: pageID})
	}
	return pages, nil
}

func parseMappings(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		logical, physical, ok := strings.Cut(v, "=")
		if !ok || logical == "" || physical == "" {
			return nil, apperrors.NewConfigError(apperrors.ErrCodeBadMapping,
				fmt.Sprintf("--file-mapping %q is not logical=physical", v), "")
		}
		out[logical] = physical
	}
	return out, nil
}

// emitScripts writes script-only output to --script-out or stdout.
func emitScripts(script string) error {
	if script == "" {
		log.Warn("No scripts were generated")
		return nil
	}
	if restoreScriptOut == "" {
		fmt.Println(script)
		return nil
	}
	if err := afero.WriteFile(scriptFs, restoreScriptOut, []byte(script+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write script file: %w", err)
	}
	log.Info("Wrote restore script", "file", restoreScriptOut)
	return nil
}
