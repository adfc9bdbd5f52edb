package tco

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OnPremCategory is one cost family of self-hosted infrastructure.
type OnPremCategory string

const (
	OnPremHardware     OnPremCategory = "hardware"
	OnPremPower        OnPremCategory = "power"
	OnPremCooling      OnPremCategory = "cooling"
	OnPremMaintenance  OnPremCategory = "maintenance"
	OnPremDataTransfer OnPremCategory = "data_transfer"
)

// Industry averages used for on-premises estimates, in USD.
var (
	serverPerCore    = decimal.NewFromInt(100)
	serverPerGiB     = decimal.NewFromInt(10)
	wattsPerCore     = decimal.NewFromInt(50)
	pricePerKWh      = decimal.RequireFromString("0.12")
	coolingShare     = decimal.RequireFromString("0.40")
	maintenanceShare = decimal.RequireFromString("0.175")
	leasedLinePerMbp = decimal.NewFromInt(3)
	includedGBPerMbp = decimal.NewFromInt(10)
	overagePerGB     = decimal.RequireFromString("0.02")

	diskPerGB = map[StorageType]decimal.Decimal{
		StorageSSD:  decimal.RequireFromString("0.30"),
		StorageHDD:  decimal.RequireFromString("0.05"),
		StorageNVME: decimal.RequireFromString("0.50"),
	}

	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// OnPremItem is one cost family over the estimate horizon. Annual is zero
// for one-time costs.
type OnPremItem struct {
	Category    OnPremCategory  `json:"category"`
	Description string          `json:"description"`
	Annual      decimal.Decimal `json:"annual"`
	Amount      decimal.Decimal `json:"amount"`
	OneTime     bool            `json:"one_time"`
}

// OnPremEstimate is the self-hosted cost of a workload.
type OnPremEstimate struct {
	Years   int             `json:"years"`
	Items   []OnPremItem    `json:"items"`
	Upfront decimal.Decimal `json:"upfront"`
	Annual  decimal.Decimal `json:"annual"`
	Total   decimal.Decimal `json:"total"`
}

// CostAt returns the cumulative cost after y years.
func (e *OnPremEstimate) CostAt(y int) decimal.Decimal {
	return e.Upfront.Add(e.Annual.Mul(decimal.NewFromInt(int64(y))))
}

// EstimateOnPrem prices w as self-hosted hardware: servers and disks bought
// once, then power, cooling, maintenance and bandwidth every year.
func EstimateOnPrem(w Workload) (*OnPremEstimate, error) {
	if err := validateFields.Struct(w); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}

	hardware := hardwareCost(w)
	power := monthlyPower(w).Mul(monthsPerYear)
	cooling := power.Mul(coolingShare)
	maintenance := hardware.Mul(maintenanceShare)
	transfer := monthlyBandwidth(w).Mul(monthsPerYear)

	years := decimal.NewFromInt(int64(w.Years))
	recurring := func(c OnPremCategory, desc string, annual decimal.Decimal) OnPremItem {
		return OnPremItem{Category: c, Description: desc, Annual: annual, Amount: annual.Mul(years)}
	}
	storageType := w.StorageType
	if storageType == "" {
		storageType = StorageSSD
	}

	est := &OnPremEstimate{
		Years: w.Years,
		Items: []OnPremItem{
			{
				Category: OnPremHardware,
				Description: fmt.Sprintf("%d servers, %d cores, %d GiB RAM, %d GB %s",
					w.InstanceCount, w.CPUCores, w.MemoryGB, w.StorageGB, storageType),
				Amount:  hardware,
				OneTime: true,
			},
			recurring(OnPremPower, fmt.Sprintf("%d%% utilization, %d h/month", w.UtilizationPct, w.HoursPerMonth), power),
			recurring(OnPremCooling, "HVAC at 40% of power", cooling),
			recurring(OnPremMaintenance, "support at 17.5% of hardware per year", maintenance),
			recurring(OnPremDataTransfer, fmt.Sprintf("%d Mbps, %d GB/month", w.BandwidthMbps, w.DataTransferGB), transfer),
		},
		Upfront: hardware,
		Annual:  power.Add(cooling).Add(maintenance).Add(transfer),
	}
	est.Total = est.CostAt(w.Years)
	return est, nil
}

func hardwareCost(w Workload) decimal.Decimal {
	perServer := serverPerCore.Mul(decimal.NewFromInt(int64(w.CPUCores))).
		Add(serverPerGiB.Mul(decimal.NewFromInt(int64(w.MemoryGB))))
	disk, ok := diskPerGB[w.StorageType]
	if !ok {
		disk = diskPerGB[StorageSSD]
	}
	return perServer.Mul(decimal.NewFromInt(int64(w.InstanceCount))).
		Add(disk.Mul(decimal.NewFromInt(int64(w.StorageGB))))
}

func monthlyPower(w Workload) decimal.Decimal {
	watts := wattsPerCore.
		Mul(decimal.NewFromInt(int64(w.CPUCores * w.InstanceCount))).
		Mul(decimal.NewFromInt(int64(w.UtilizationPct))).
		Div(hundred)
	kwh := watts.Mul(decimal.NewFromInt(int64(w.HoursPerMonth))).Div(thousand)
	return kwh.Mul(pricePerKWh)
}

func monthlyBandwidth(w Workload) decimal.Decimal {
	mbps := decimal.NewFromInt(int64(w.BandwidthMbps))
	overage := decimal.Max(decimal.NewFromInt(int64(w.DataTransferGB)).Sub(mbps.Mul(includedGBPerMbp)), decimal.Zero)
	return mbps.Mul(leasedLinePerMbp).Add(overage.Mul(overagePerGB))
}
