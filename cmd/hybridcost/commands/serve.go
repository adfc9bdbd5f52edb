package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/hybridcost/pkg/config"
	"github.com/DrSkyle/hybridcost/pkg/version"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pricing scheduler and the HTTP API",
		Long: `Fetches prices immediately and then once per interval, persisting every
snapshot and serving the current one over HTTP until interrupted.

Example:
  hybridcost serve
  hybridcost serve --storage redis --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			a.Logger.Info("hybridcost starting",
				"version", version.Current,
				"addr", o.cfg.HTTP.Addr,
				"storage", o.cfg.Storage.Backend,
				"interval", o.cfg.Schedule.Interval,
				"mock", o.cfg.Pricing.Mock,
			)
			err = a.Serve(ctx)
			a.Logger.Info("hybridcost stopped")
			return err
		},
	}
	cmd.Flags().String("addr", config.DefaultHTTPAddr, "HTTP listen address")
	o.bind(cmd.Flags(), map[string]string{"http.addr": "addr"})
	return cmd
}
