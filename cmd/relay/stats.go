package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print outbox row counts by status",
	Long: `Prints the store's current aggregate statistics (row counts by
status, oldest/newest pending occurred_at). This reads live store state,
not a running relay process's in-memory counters — those only exist for
the lifetime of the "start" invocation that accumulated them.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print as JSON instead of a table")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := wire(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.store.Stats(context.Background())
	if err != nil {
		return err
	}

	if statsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "status       count")
	for status, count := range stats.ByStatus {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", status, count)
	}
	if stats.OldestPendingOccurredAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "oldest pending occurred_at: %s\n", stats.OldestPendingOccurredAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if stats.NewestPendingOccurredAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "newest pending occurred_at: %s\n", stats.NewestPendingOccurredAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
