package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newFetchCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one pricing cycle and store the result",
		Long: `Runs a single acquisition cycle with the configured retry policy, then
persists and prints the resulting snapshot. When every attempt fails the
last stored snapshot (or the static table) is used instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			res, err := a.Scheduler.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			snap := a.Cache.Current()

			w := cmd.OutOrStdout()
			if o.output == outputJSON {
				return writeJSON(w, snap)
			}
			renderCycle(w, res)
			if snap != nil {
				renderSnapshot(w, snap)
			}
			return nil
		},
	}
}
