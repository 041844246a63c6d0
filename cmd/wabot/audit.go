package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"wabot/internal/audit"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent executed actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Audit.DBPath); err != nil {
				return fmt.Errorf("no action log at %s (enable audit and serve first)", cfg.Audit.DBPath)
			}

			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read action log: %w", err)
			}

			counts, err := store.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("count action log: %w", err)
			}

			return writeAuditTable(os.Stdout, entries, counts)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

// writeAuditTable prints entries followed by a per-status summary line.
func writeAuditTable(out io.Writer, entries []audit.Entry, counts map[string]int64) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCHAT\tCOMMAND\tARG\tSTATUS\tLATENCY\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.ChatID, e.Command, e.Arg, e.Status, e.LatencyMs, e.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	ok, failed := counts[audit.StatusOK], counts[audit.StatusFailed]
	_, err := fmt.Fprintf(out, "\nShowing %d of %d actions (%d ok, %d failed)\n", len(entries), ok+failed, ok, failed)
	return err
}
