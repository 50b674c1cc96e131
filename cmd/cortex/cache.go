package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	var recent int
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.store.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dir:      %s\nEntries:  %d/%d\nBytes:    %d\n", stats.Dir, stats.Entries, stats.Capacity, stats.TotalBytes)

			if a.ledger == nil {
				return nil
			}
			summary, err := a.ledger.Summary(cmd.Context())
			if err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Fprintln(out, "No recorded cache events.")
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "OUTCOME\tCALLS\tBYTES")
			for _, s := range summary {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Outcome, s.Count, s.Bytes)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if recent <= 0 {
				return nil
			}

			events, err := a.ledger.Since(cmd.Context(), time.Time{}, recent)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tOUTCOME\tMODEL\tFINGERPRINT\tCHUNKS\tBYTES")
			for _, ev := range events {
				fp := ev.Fingerprint
				if len(fp) > 12 {
					fp = fp[:12]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
					ev.CreatedAt.Local().Format(time.DateTime), ev.Outcome, ev.Model, fp, ev.Chunks, ev.Bytes)
			}
			return tw.Flush()
		},
	}
	statsCmd.Flags().IntVar(&recent, "recent", 0, "also list the N most recent cache events")

	var withLedger bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached response",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.store.Clear(); err != nil {
				return err
			}
			if withLedger && a.ledger != nil {
				if err := a.ledger.Purge(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&withLedger, "ledger", false, "also purge recorded cache events")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
