package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"sqlrestore/internal/database"
	"sqlrestore/internal/diagnose"
)

var diagnoseJSON bool

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Collect environment diagnostics for bug reports",
	Long: `Collect host and connectivity diagnostics: OS, memory, disk and CPU
of this client, plus a short probe of the configured server. Attach
the output to bug reports.

Examples:
  sqlrestore diagnose
  sqlrestore diagnose --json > diagnostics.json`,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "emit diagnostics as JSON")
	rootCmd.AddCommand(diagnoseCmd)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	applyConnectionFlags(cmd)
	cfg.UpdateFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return err
	}

	connector := database.NewSQLServer(cfg, log)
	report := diagnose.Collect(cmd.Context(), cfg.Version, connector)

	if diagnoseJSON {
		return report.WriteJSON(os.Stdout)
	}
	report.WriteText(os.Stdout)
	return nil
}
