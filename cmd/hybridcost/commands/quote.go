package commands

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/tco"
)

func newQuoteCmd(o *rootOptions) *cobra.Command {
	var (
		w           tco.Workload
		storageType string
		calibrate   bool
		discount    float64
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compare the AWS and on-premises cost of a workload",
		Long: `Prices a workload against the most recently stored snapshot and against
self-hosted hardware, then projects both year by year. When nothing has been
stored yet the static price table is used and the estimate is flagged
accordingly.

Example:
  hybridcost quote --cpu 4 --memory 16 --instances 3 --storage-gb 500 --years 3
  hybridcost quote --cpu 8 --memory 32 --calibrate
  hybridcost quote --instances 10 --bandwidth 200 --utilization 70 --years 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w.StorageType = tco.StorageType(storageType)

			a, err := o.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			if _, err := a.Scheduler.Restore(cmd.Context()); err != nil {
				return err
			}
			snap := a.Cache.Current()
			if snap == nil {
				a.Logger.Warn("no stored snapshot, quoting from static prices")
				snap = pricing.StaticFallback(time.Now())
			}

			override := decimal.NewFromFloat(discount)
			factor := override
			if calibrate {
				c, err := a.Calibrator(cmd.Context(), override)
				if err != nil {
					return err
				}
				factor = c.DiscountFactor(cmd.Context())
			}

			cmp, err := tco.Compare(snap, w, tco.WithComputeDiscount(factor))
			if err != nil {
				return err
			}
			if o.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), cmp)
			}
			renderComparison(cmd.OutOrStdout(), cmp)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&w.CPUCores, "cpu", 2, "vCPUs per instance")
	f.IntVar(&w.MemoryGB, "memory", 4, "memory per instance, GiB")
	f.IntVar(&w.InstanceCount, "instances", 1, "number of instances")
	f.IntVar(&w.HoursPerMonth, "hours", 730, "operating hours per month")
	f.IntVar(&w.StorageGB, "storage-gb", 0, "block storage, GB")
	f.StringVar(&storageType, "storage-type", string(tco.StorageSSD), "block storage type: SSD, HDD or NVME")
	f.IntVar(&w.StorageIOPS, "iops", 0, "provisioned IOPS (NVME only)")
	f.IntVar(&w.ObjectStorageGB, "object-gb", 0, "object storage, GB")
	f.IntVar(&w.DataTransferGB, "transfer-gb", 0, "monthly data transfer out, GB")
	f.IntVar(&w.BandwidthMbps, "bandwidth", 0, "on-premises leased line, Mbps")
	f.IntVar(&w.UtilizationPct, "utilization", 50, "on-premises average CPU utilization, percent")
	f.IntVar(&w.Years, "years", 3, "estimate horizon in years")
	f.BoolVar(&calibrate, "calibrate", false, "scale EC2 prices by the account discount from Cost Explorer")
	f.Float64Var(&discount, "discount", 0, "manual EC2 discount factor, e.g. 0.7 (fallback when --calibrate fails)")
	return cmd
}
