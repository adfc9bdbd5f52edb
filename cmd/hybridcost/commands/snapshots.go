package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/storage"
)

func newLatestCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the most recently stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			snap, err := a.Store.Latest(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if snap == nil {
				fmt.Fprintln(w, warning.Render("No snapshot stored yet. Run 'hybridcost fetch' first."))
				return nil
			}
			if o.output == outputJSON {
				return writeJSON(w, snap)
			}
			renderSnapshot(w, snap)
			return nil
		},
	}
}

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored snapshots and price movement over a window",
		Long: `Lists snapshots captured between --from and --to (inclusive) in capture
order, followed by the change of every live price across the window.

Example:
  hybridcost history --from 2026-01-01 --to 2026-02-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			end := time.Now().UTC()
			if to != "" {
				t, err := parseTime(to)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				end = t
			}
			start := end.AddDate(0, 0, -30)
			if from != "" {
				t, err := parseTime(from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				start = t
			}
			if start.After(end) {
				return fmt.Errorf("--from %s is after --to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
			}

			a, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			snaps, err := storage.Collect(a.Store.History(cmd.Context(), start, end))
			if err != nil {
				return err
			}
			if snaps == nil {
				snaps = []*pricing.Snapshot{}
			}
			view := historyView{From: start, To: end, Snapshots: snaps, Trend: storage.AnalyzeTrend(snaps)}

			if o.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			renderHistory(cmd.OutOrStdout(), view)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, RFC 3339 or YYYY-MM-DD (default 30 days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC 3339 or YYYY-MM-DD (default now)")
	return cmd
}

// parseTime accepts RFC 3339 timestamps and plain UTC dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}
