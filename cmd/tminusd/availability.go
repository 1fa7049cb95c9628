package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tminus/tminus/internal/analytics"
	"github.com/tminus/tminus/internal/config"
	"github.com/tminus/tminus/internal/storage/sqlite"
)

var (
	availFrom     string
	availTo       string
	availAccounts []string
	availJSON     bool
)

var availabilityCmd = &cobra.Command{
	Use:   "availability <user-id>",
	Short: "Compute free windows for a user",
	Long: `Compute availability over a range, honoring busy events, working
hours, cutoffs, buffers, trips, overrides and milestones. Timestamps accept
YYYY-MM-DD or RFC 3339.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := config.UserDBPath(args[0])
		if _, err := os.Stat(path); err != nil {
			return fatalErr(fmt.Errorf("no database for user %s (run 'tminusd migrate %s' first)", args[0], args[0]))
		}
		store, err := sqlite.New(ctx, path)
		if err != nil {
			return fatalErr(err)
		}
		defer func() { _ = store.Close() }()

		avail, err := analytics.New(store, log).ComputeAvailability(ctx, availFrom, availTo, availAccounts)
		if err != nil {
			return fatalErr(err)
		}

		if availJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(avail)
		}

		fmt.Printf("availability %s .. %s\n", avail.RangeStart.Format(time.RFC3339), avail.RangeEnd.Format(time.RFC3339))
		if len(avail.Gaps) == 0 {
			fmt.Println("  no free windows")
			return nil
		}
		for _, g := range avail.Gaps {
			fmt.Printf("  free %s .. %s (%s)\n",
				g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339), g.End.Sub(g.Start))
		}
		return nil
	},
}

func init() {
	availabilityCmd.Flags().StringVar(&availFrom, "from", "", "range start (required)")
	availabilityCmd.Flags().StringVar(&availTo, "to", "", "range end (required)")
	availabilityCmd.Flags().StringSliceVar(&availAccounts, "accounts", nil, "restrict busy events to these origin accounts")
	availabilityCmd.Flags().BoolVar(&availJSON, "output-json", false, "emit the full availability document as JSON")
	_ = availabilityCmd.MarkFlagRequired("from")
	_ = availabilityCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(availabilityCmd)
}
