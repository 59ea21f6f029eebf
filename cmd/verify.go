package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"sqlrestore/internal/database"
	apperrors "sqlrestore/internal/errors"
	"sqlrestore/internal/report"
	"sqlrestore/internal/restore"
)

var verifyJSON bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify backup media with RESTORE VERIFYONLY",
	Long: `Run RESTORE VERIFYONLY against the first planned step of each
database's chain. Nothing is restored and no database is touched.

Examples:
  sqlrestore verify --history backups.json
  sqlrestore verify --history backups.json --database Sales --json`,
	RunE: runVerify,
}

func init() {
	f := verifyCmd.Flags()
	addHistoryFlags(f)
	addPlanFlags(f)
	f.BoolVar(&verifyJSON, "json", false, "emit results as JSON")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	exec := restore.NewSilent(connector, log, opts, restore.ModeVerifyOnly)
	run, runErr := exec.Run(ctx, plans, order)
	if runErr != nil && apperrors.IsFatal(runErr) {
		return runErr
	}

	if verifyJSON {
		if err := report.WriteJSON(os.Stdout, run.Results()); err != nil {
			return err
		}
	} else {
		report.WriteBadges(os.Stdout, run.Results())
	}
	return runErr
}
