// tminusd is the per-user calendar federation daemon: it hosts one actor per
// user database plus the mirror writer pool, and carries the operational
// subcommands (migrate, availability, version).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tminus/tminus/internal/config"
	"github.com/tminus/tminus/internal/logging"
	"github.com/tminus/tminus/internal/telemetry"
)

var (
	// Set via -ldflags at release build time.
	version = "dev"
	commit  = "none"
)

var (
	flagJSON     bool
	flagLogLevel string
	flagLogFile  string
	flagDataDir  string

	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tminusd",
	Short: "Per-user calendar federation engine",
	Long: `tminusd maintains one canonical calendar per user across provider
accounts: it ingests provider deltas, projects policy-scoped mirrors into
sibling accounts, schedules meetings with TTL holds, and answers
availability and relationship analytics queries.

Each user's state lives in an isolated SQLite database under data-dir; a
single-writer actor owns each database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		// Flags win over config file and environment.
		if cmd.Flags().Changed("json") {
			config.Set(config.KeyJSON, flagJSON)
		}
		if cmd.Flags().Changed("log-level") {
			config.Set(config.KeyLogLevel, flagLogLevel)
		}
		if cmd.Flags().Changed("log-file") {
			config.Set(config.KeyLogFile, flagLogFile)
		}
		if cmd.Flags().Changed("data-dir") {
			config.Set(config.KeyDataDir, flagDataDir)
		}

		log = logging.Init(logging.Config{
			Level: config.GetString(config.KeyLogLevel),
			JSON:  config.GetBool(config.KeyJSON),
			File:  config.GetString(config.KeyLogFile),
		})

		if err := telemetry.Init(cmd.Context(), "tminusd", version); err != nil {
			return fmt.Errorf("telemetry init: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

// Execute runs the command tree. Errors are printed by cobra; the exit code
// is the caller's concern.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagJSON, "json", false, "structured JSON log output")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFile, "log-file", "", "rotate logs into this file instead of stderr")
	pf.StringVar(&flagDataDir, "data-dir", "", "directory holding per-user databases")
}

func fatalErr(err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return err
}
