package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sqlrestore/internal/cloud"
	"sqlrestore/internal/database"
	"sqlrestore/internal/logger"
	"sqlrestore/internal/plan"
	"sqlrestore/internal/report"
)

var (
	previewScripts    bool
	previewJSON       bool
	previewCheckMedia bool
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the restore plan without touching the server",
	Long: `Build the restore plan and show what would run, without connecting
to the target (unless the history itself comes from the server).

With --check-media, each cloud media URL is probed for existence; local
and UNC paths are only reachable from the server and are skipped.

Examples:
  sqlrestore preview --history backups.json
  sqlrestore preview --history backups.json --database Sales --restore-time 2024-03-15T09:30:00
  sqlrestore preview --history backups.json --scripts
  sqlrestore preview --history backups.json --check-media`,
	RunE: runPreview,
}

func init() {
	f := previewCmd.Flags()
	addHistoryFlags(f)
	addPlanFlags(f)
	f.BoolVar(&previewScripts, "scripts", false, "render the full T-SQL instead of the plan table")
	f.BoolVar(&previewJSON, "json", false, "emit the plan as JSON")
	f.BoolVar(&previewCheckMedia, "check-media", false, "probe cloud media URLs for existence")

	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := buildPlanOptions()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	connector := database.NewSQLServer(cfg, log)

	plans, order, err := loadPlans(ctx, connector, opts)
	if err != nil {
		return err
	}

	switch {
	case previewJSON:
		all := make(map[string][]plan.Step, len(plans))
		for name, steps := range plans {
			all[name] = steps
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(all); err != nil {
			return err
		}
	case previewScripts:
		var parts []string
		for _, name := range order {
			for i := range plans[name] {
				parts = append(parts, plans[name][i].Script())
			}
		}
		fmt.Println(strings.Join(parts, "\nGO\n"))
	default:
		for _, name := range order {
			logger.Header("%s (%d steps)", name, len(plans[name]))
			report.PlanTable(os.Stdout, plans[name])
			fmt.Println()
		}
	}

	if previewCheckMedia {
		return checkMedia(cmd, plans, order)
	}
	return nil
}

// checkMedia probes each distinct media device referenced by the plan.
func checkMedia(cmd *cobra.Command, plans map[string][]plan.Step, order []string) error {
	seen := make(map[string]bool)
	var urls []string
	for _, name := range order {
		for _, step := range plans[name] {
			for _, f := range step.Files {
				if !seen[f] {
					seen[f] = true
					urls = append(urls, f)
				}
			}
		}
	}

	checker, err := cloud.NewChecker(cmd.Context())
	if err != nil {
		return fmt.Errorf("media check unavailable: %w", err)
	}

	missing := 0
	for _, st := range checker.CheckMedia(cmd.Context(), urls) {
		switch {
		case !st.Checked:
			fmt.Printf("  %s %s (%s)\n", color.YellowString("[SKIP]"), st.URL, st.Error)
		case st.Exists:
			fmt.Printf("  %s %s\n", color.GreenString("[OK]"), st.URL)
		default:
			missing++
			reason := st.Error
			if reason == "" {
				reason = "not found"
			}
			fmt.Printf("  %s %s (%s)\n", color.RedString("[MISS]"), st.URL, reason)
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d media device(s) missing", missing)
	}
	return nil
}
