// Package cmd implements the sqlrestore CLI.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"sqlrestore/internal/config"
	"sqlrestore/internal/logger"
)

// Shared across commands; set by Execute before any command runs.
var (
	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sqlrestore",
	Short: "SQL Server backup chain restore sequencer",
	Long: `sqlrestore sequences SQL Server backup chains — full, differential
and transaction-log backups — into ordered RESTORE statement streams
and applies them to a live engine.

The engine performs all media reads and log application; sqlrestore
plans the order, issues the statements, and tracks outcomes.

Connection settings come from MSSQL_* environment variables and can be
overridden with the persistent flags below.

Examples:
  # Restore every database in a history export, replacing existing ones
  sqlrestore restore --history backups.json --with-replace --force

  # Point-in-time restore of one database
  sqlrestore restore --history backups.json --database Sales \
    --restore-time "2024-03-15T09:30:00"

  # Preview the plan without touching a server
  sqlrestore preview --history backups.json

  # Verify backup media only
  sqlrestore verify --history backups.json`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("host", "", "SQL Server host (overrides MSSQL_HOST)")
	pf.Int("port", 0, "SQL Server port (overrides MSSQL_PORT)")
	pf.String("instance", "", "named instance (overrides MSSQL_INSTANCE)")
	pf.String("user", "", "login name (overrides MSSQL_USER)")
	pf.String("password", "", "login password (overrides MSSQL_PASSWORD)")
	pf.Bool("quiet", false, "suppress progress output")
	pf.Bool("debug", false, "enable debug logging")
}

// applyConnectionFlags copies persistent flag overrides into the config.
func applyConnectionFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if v, _ := flags.GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := flags.GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := flags.GetString("instance"); v != "" {
		cfg.Instance = v
	}
	if v, _ := flags.GetString("user"); v != "" {
		cfg.User = v
	}
	if v, _ := flags.GetString("password"); v != "" {
		cfg.Password = v
	}
	if v, _ := flags.GetBool("quiet"); v {
		cfg.Quiet = true
	}
	if v, _ := flags.GetBool("debug"); v {
		cfg.Debug = true
	}
}

// Execute runs the CLI with the prepared configuration and logger.
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l
	return rootCmd.ExecuteContext(ctx)
}
