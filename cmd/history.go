package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sqlrestore/internal/database"
	apperrors "sqlrestore/internal/errors"
	"sqlrestore/internal/history"
	"sqlrestore/internal/logger"
)

var (
	historyOutFile    string
	historySelectStr  string
	historyFetchSince string
	historyShowJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and export backup history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the backup sets in a history source",
	Long: `List every backup set the history source contains, in restore
order per database.

Examples:
  sqlrestore history show --history backups.json
  sqlrestore history show --from-server --database Sales`,
	RunE: runHistoryShow,
}

var historySelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Pick the minimal chain for a point in time",
	Long: `Reduce a database's full history to the minimal restore chain:
newest qualifying full, newest compatible differential, and the log
tail. With --to, the chain covers that point in time; without it, the
latest chain is selected.

Examples:
  sqlrestore history select --history backups.json --database Sales --to 2024-03-15T09:30:00
  sqlrestore history select --history backups.json --database Sales --out chain.json`,
	RunE: runHistorySelect,
}

var historyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check chains for gaps and missing anchors",
	RunE:  runHistoryValidate,
}

var historyFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Export backup history from the server's msdb catalog",
	Long: `Read backup history from msdb.dbo.backupset on the configured
server and write it as a JSON export other commands can consume.
Compression follows the file extension (.json, .json.gz, .json.zst).

Examples:
  sqlrestore history fetch --out backups.json.zst
  sqlrestore history fetch --database Sales --out sales.json`,
	RunE: runHistoryFetch,
}

var historyScanCmd = &cobra.Command{
	Use:   "scan PATH...",
	Short: "Build history from backup media headers",
	Long: `Ask the server to read the media headers (RESTORE HEADERONLY and
FILELISTONLY) of the given backup files and emit history descriptors
for them. Paths must be visible to the server, not this client.

Examples:
  sqlrestore history scan D:\backups\sales_full.bak D:\backups\sales_log1.trn
  sqlrestore history scan https://acct.blob.core.windows.net/backups/sales.bak \
    --azure-credential BlobCred --out scanned.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHistoryScan,
}

func init() {
	for _, c := range []*cobra.Command{historyShowCmd, historySelectCmd, historyValidateCmd} {
		addHistoryFlags(c.Flags())
	}
	historyShowCmd.Flags().BoolVar(&historyShowJSON, "json", false, "emit descriptors as JSON")
	historySelectCmd.Flags().StringVar(&historySelectStr, "to", "", "point in time the chain must cover (default latest)")
	historySelectCmd.Flags().StringVar(&historyOutFile, "out", "", "write the selected chain to this file (default stdout)")

	historyFetchCmd.Flags().StringArrayVar(&restoreDatabases, "database", nil, "fetch only these databases (repeatable)")
	historyFetchCmd.Flags().StringVar(&historyFetchSince, "since", "", "only backup sets finished after this time")
	historyFetchCmd.Flags().StringVar(&historyOutFile, "out", "", "write history to this file (default stdout)")

	historyScanCmd.Flags().StringVar(&restoreAzureCred, "azure-credential", "", "server credential name for URL media")
	historyScanCmd.Flags().StringVar(&historyOutFile, "out", "", "write history to this file (default stdout)")

	historyCmd.AddCommand(historyShowCmd, historySelectCmd, historyValidateCmd, historyFetchCmd, historyScanCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadNormalizedHistory is the shared front half of the history
// subcommands: source, normalize, filter.
func loadNormalizedHistory(ctx context.Context, connector database.Connector) ([]history.BackupFile, error) {
	files, err := loadHistory(ctx, connector)
	if err != nil {
		return nil, err
	}
	files, err = history.Normalize(files, restoreStrictTypes, log)
	if err != nil {
		return nil, err
	}
	files = filterDatabases(files, restoreDatabases)
	if len(files) == 0 {
		return nil, apperrors.NewDataError(apperrors.ErrCodeEmptyHistory,
			"no backup history left after filtering", "Check --database names against the history.")
	}
	return files, nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	connector := database.NewSQLServer(cfg, log)
	files, err := loadNormalizedHistory(cmd.Context(), connector)
	if err != nil {
		return err
	}

	if historyShowJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(files)
	}

	groups, order := history.GroupByDatabase(files)
	for _, name := range order {
		set := groups[name]
		history.SortForRestore(set)
		logger.Header("%s (%d backup sets)", name, len(set))
		for i := range set {
			f := &set[i]
			size := ""
			if f.TotalSize > 0 {
				size = humanize.IBytes(uint64(f.TotalSize))
			}
			copyOnly := ""
			if f.IsCopyOnly {
				copyOnly = " copy-only"
			}
			fmt.Printf("  %-4s %s  lsn=%s  %s%s  %s\n",
				f.Type, f.End.Format("2006-01-02 15:04:05"), f.FirstLSN, size, copyOnly, f.Leaf())
		}
		fmt.Println()
	}
	return nil
}

func runHistorySelect(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	target, err := parseTimeFlag("to", historySelectStr)
	if err != nil {
		return err
	}

	connector := database.NewSQLServer(cfg, log)
	files, err := loadNormalizedHistory(cmd.Context(), connector)
	if err != nil {
		return err
	}

	groups, order := history.GroupByDatabase(files)
	var selected []history.BackupFile
	for _, name := range order {
		chain, err := history.SelectChain(groups[name], target)
		if err != nil {
			return err
		}
		selected = append(selected, chain...)
	}
	return writeHistoryOut(selected)
}

func runHistoryValidate(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	connector := database.NewSQLServer(cfg, log)
	files, err := loadNormalizedHistory(cmd.Context(), connector)
	if err != nil {
		return err
	}

	groups, order := history.GroupByDatabase(files)
	broken := 0
	for _, name := range order {
		v := history.ValidateChain(groups[name])
		badge := color.GreenString("[OK]  ")
		if !v.Valid {
			badge = color.RedString("[FAIL]")
			broken++
		}
		fmt.Printf("%s %s  full=%d diff=%d log=%d  %s\n",
			badge, name, v.FullCount, v.DiffCount, v.LogCount,
			humanize.IBytes(uint64(v.TotalSize)))
		for _, g := range v.Gaps {
			fmt.Printf("       gap: log ending at LSN %s (%s) is not followed by LSN %s (%s)\n",
				g.AfterLSN, g.PrevEnd.Format("2006-01-02 15:04:05"),
				g.NextLSN, g.NextStart.Format("2006-01-02 15:04:05"))
		}
		for _, w := range v.Warnings {
			fmt.Printf("       %s\n", w)
		}
	}
	if broken > 0 {
		return apperrors.NewDataError(apperrors.ErrCodeChainBroken,
			fmt.Sprintf("%d database(s) have broken chains", broken),
			"Re-export the history or locate the missing backups.")
	}
	return nil
}

func runHistoryFetch(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	connector := database.NewSQLServer(cfg, log)
	sess, err := connector.Connect(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	src, ok := sess.(database.HistorySource)
	if !ok {
		return apperrors.NewInternalError(apperrors.ErrCodeInvalidState,
			"session does not expose backup history", nil)
	}
	var dbName string
	if len(restoreDatabases) == 1 {
		dbName = restoreDatabases[0]
	}
	files, err := src.BackupHistory(cmd.Context(), dbName)
	if err != nil {
		return err
	}
	files = filterDatabases(files, restoreDatabases)
	if since, err := parseTimeFlag("since", historyFetchSince); err != nil {
		return err
	} else if !since.IsZero() {
		kept := files[:0:0]
		for _, f := range files {
			if f.End.After(since) {
				kept = append(kept, f)
			}
		}
		files = kept
	}
	if len(files) == 0 {
		return apperrors.NewDataError(apperrors.ErrCodeEmptyHistory,
			"the server has no matching backup history", "")
	}
	log.Info("Fetched backup history", "sets", len(files))
	return writeHistoryOut(files)
}

func runHistoryScan(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	connector := database.NewSQLServer(cfg, log)
	sess, err := connector.Connect(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	src, ok := sess.(database.HistorySource)
	if !ok {
		return apperrors.NewInternalError(apperrors.ErrCodeInvalidState,
			"session does not expose media scanning", nil)
	}
	files, err := src.ScanMedia(cmd.Context(), args, restoreAzureCred)
	if err != nil {
		return err
	}
	log.Info("Scanned backup media", "files", len(args), "sets", len(files))
	return writeHistoryOut(files)
}

func writeHistoryOut(files []history.BackupFile) error {
	if historyOutFile != "" {
		if err := history.SaveFile(historyOutFile, files); err != nil {
			return err
		}
		log.Info("Wrote backup history", "file", historyOutFile, "sets", len(files))
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(files)
}
