package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sqlrestore/internal/catalog"
)

var (
	catalogListDatabase string
	catalogListServer   string
	catalogListSince    string
	catalogListOnlyOK   bool
	catalogListLimit    int
	catalogListJSON     bool
	catalogPruneDays    int
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the local restore catalog",
	Long: `The restore catalog is a local SQLite file recording every restore
this tool has issued: what, where, when, and how it ended. It exists
for audit and for downstream tooling; losing it never affects the
server.`,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded restores, newest first",
	Long: `Examples:
  sqlrestore catalog list
  sqlrestore catalog list --database Sales --ok --limit 20
  sqlrestore catalog list --since 2024-03-01 --json`,
	RunE: runCatalogList,
}

var catalogPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete catalog entries older than a retention window",
	RunE:  runCatalogPrune,
}

func init() {
	f := catalogListCmd.Flags()
	f.StringVar(&catalogListDatabase, "database", "", "only this database")
	f.StringVar(&catalogListServer, "server", "", "only this server")
	f.StringVar(&catalogListSince, "since", "", "only entries after this time")
	f.BoolVar(&catalogListOnlyOK, "ok", false, "only successful restores")
	f.IntVar(&catalogListLimit, "limit", 50, "maximum entries to show (0 = all)")
	f.BoolVar(&catalogListJSON, "json", false, "emit entries as JSON")

	catalogPruneCmd.Flags().IntVar(&catalogPruneDays, "keep-days", 90, "keep entries newer than this many days")

	catalogCmd.AddCommand(catalogListCmd, catalogPruneCmd)
	rootCmd.AddCommand(catalogCmd)
}

func openCatalog() (*catalog.SQLiteCatalog, error) {
	cat, err := catalog.NewSQLiteCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open restore catalog %s: %w", cfg.CatalogPath, err)
	}
	return cat, nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	since, err := parseTimeFlag("since", catalogListSince)
	if err != nil {
		return err
	}

	cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	entries, err := cat.List(cmd.Context(), catalog.Query{
		Database: catalogListDatabase,
		Server:   catalogListServer,
		Since:    since,
		OnlyOK:   catalogListOnlyOK,
		Limit:    catalogListLimit,
	})
	if err != nil {
		return err
	}

	if catalogListJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No catalog entries match.")
		return nil
	}
	for i := range entries {
		e := &entries[i]
		badge := color.GreenString("[OK]  ")
		if !e.Success {
			badge = color.RedString("[FAIL]")
		}
		mode := ""
		if e.ScriptOnly {
			mode = " script-only"
		}
		size := ""
		if e.SizeBytes > 0 {
			size = "  " + humanize.IBytes(uint64(e.SizeBytes))
		}
		fmt.Printf("%s %s  %s/%s %s  target=%s%s  %s%s\n",
			badge, e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Server, e.Database, e.Action, e.TargetTime, mode,
			(time.Duration(e.DurationMS) * time.Millisecond).Round(time.Millisecond), size)
		if e.Error != "" {
			fmt.Printf("       %s\n", e.Error)
		}
	}
	return nil
}

func runCatalogPrune(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	removed, err := cat.Prune(cmd.Context(), catalogPruneDays)
	if err != nil {
		return err
	}
	log.Info("Pruned restore catalog", "removed", removed, "keep_days", catalogPruneDays)
	return nil
}
