// Package tco turns a pricing snapshot and a workload description into an
// AWS-side total cost of ownership estimate.
package tco

import (
	"errors"
	"fmt"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var ErrNoSnapshot = errors.New("no pricing snapshot available")

// StorageType is the generic block storage class of a workload.
type StorageType string

const (
	StorageSSD  StorageType = "SSD"
	StorageHDD  StorageType = "HDD"
	StorageNVME StorageType = "NVME"
)

// VolumeType maps a storage type to the EBS volume type used to price it.
func (t StorageType) VolumeType() string {
	switch t {
	case StorageHDD:
		return "st1"
	case StorageNVME:
		return "io2"
	default:
		return "gp3"
	}
}

// FreeEgressGB is the monthly internet egress AWS does not bill.
const FreeEgressGB = 100

var (
	interAZShare = decimal.RequireFromString("0.10")
	// io2 provisioned IOPS, per IOPS-month. Used when the snapshot has no "iops" key.
	io2IOPSRate    = decimal.RequireFromString("0.065")
	monthsPerYear  = decimal.NewFromInt(12)
	freeEgressDec  = decimal.NewFromInt(FreeEgressGB)
	validateFields = validator.New(validator.WithRequiredStructEnabled())
)

// Workload describes what is being priced. Zero quantities skip the
// corresponding line items. BandwidthMbps and UtilizationPct only affect the
// on-premises side.
type Workload struct {
	CPUCores        int         `json:"cpu_cores" validate:"min=0"`
	MemoryGB        int         `json:"memory_gb" validate:"min=0"`
	InstanceCount   int         `json:"instance_count" validate:"min=0"`
	HoursPerMonth   int         `json:"hours_per_month" validate:"min=0,max=744"`
	StorageGB       int         `json:"storage_gb" validate:"min=0"`
	StorageType     StorageType `json:"storage_type" validate:"omitempty,oneof=SSD HDD NVME"`
	StorageIOPS     int         `json:"storage_iops" validate:"min=0"`
	ObjectStorageGB int         `json:"object_storage_gb" validate:"min=0"`
	DataTransferGB  int         `json:"data_transfer_gb" validate:"min=0"`
	BandwidthMbps   int         `json:"bandwidth_mbps" validate:"min=0"`
	UtilizationPct  int         `json:"utilization_pct" validate:"min=0,max=100"`
	Years           int         `json:"years" validate:"min=1,max=10"`
}

// LineItem is one priced component of an estimate.
type LineItem struct {
	Category pricing.Category `json:"category"`
	Key      string           `json:"key"`
	Quantity decimal.Decimal  `json:"quantity"`
	Rate     decimal.Decimal  `json:"rate"`
	Monthly  decimal.Decimal  `json:"monthly"`
	Source   pricing.Source   `json:"source"`
}

// MissingPrice records a component that could not be priced.
type MissingPrice struct {
	Category pricing.Category `json:"category"`
	Key      string           `json:"key"`
}

func (m MissingPrice) String() string {
	return fmt.Sprintf("%s/%s", m.Category, m.Key)
}

// Estimate is the result of EstimateAWS. Missing components contribute
// nothing to the totals and are listed in Missing instead.
type Estimate struct {
	SnapshotID         string             `json:"snapshot_id"`
	Provenance         pricing.Provenance `json:"provenance"`
	Degraded           bool               `json:"degraded"`
	FallbackCategories []pricing.Category `json:"fallback_categories,omitempty"`
	ComputeDiscount    decimal.Decimal    `json:"compute_discount"`
	Years              int                `json:"years"`
	Items              []LineItem         `json:"items"`
	Missing            []MissingPrice     `json:"missing,omitempty"`
	Monthly            decimal.Decimal    `json:"monthly"`
	Total              decimal.Decimal    `json:"total"`
}

// Complete reports whether every requested component was priced.
func (e *Estimate) Complete() bool {
	return len(e.Missing) == 0
}

type EstimateOption func(*builder)

// WithComputeDiscount scales EC2 line items, e.g. by a Calibrator factor.
// Non-positive factors are ignored.
func WithComputeDiscount(factor decimal.Decimal) EstimateOption {
	return func(b *builder) {
		if factor.IsPositive() {
			b.discount = factor
		}
	}
}

// EstimateAWS prices w against snap.
func EstimateAWS(snap *pricing.Snapshot, w Workload, opts ...EstimateOption) (*Estimate, error) {
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	if err := validateFields.Struct(w); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}

	b := &builder{snap: snap, discount: decimal.NewFromInt(1)}
	for _, opt := range opts {
		opt(b)
	}
	b.compute(w)
	b.blockStorage(w)
	b.objectStorage(w)
	b.dataTransfer(w)

	est := &Estimate{
		SnapshotID:         snap.ID,
		Provenance:         snap.Provenance,
		Degraded:           snap.Provenance.Degraded(),
		FallbackCategories: snap.FallbackCategories(),
		ComputeDiscount:    b.discount,
		Years:              w.Years,
		Items:              b.items,
		Missing:            b.missing,
		Monthly:            decimal.Zero,
	}
	for _, it := range b.items {
		est.Monthly = est.Monthly.Add(it.Monthly)
	}
	est.Total = est.Monthly.Mul(monthsPerYear).Mul(decimal.NewFromInt(int64(w.Years)))
	return est, nil
}

type builder struct {
	snap     *pricing.Snapshot
	discount decimal.Decimal
	items    []LineItem
	missing  []MissingPrice
}

func (b *builder) add(c pricing.Category, key string, qty, rate decimal.Decimal, src pricing.Source) {
	b.items = append(b.items, LineItem{
		Category: c,
		Key:      key,
		Quantity: qty,
		Rate:     rate,
		Monthly:  qty.Mul(rate),
		Source:   src,
	})
}

// lookup adds a line item for key or records it as missing.
func (b *builder) lookup(c pricing.Category, key string, qty decimal.Decimal) {
	rate, ok := b.snap.Prices(c).Get(key)
	if !ok {
		b.missing = append(b.missing, MissingPrice{Category: c, Key: key})
		return
	}
	b.add(c, key, qty, rate, b.snap.Source(c))
}

func (b *builder) compute(w Workload) {
	if w.InstanceCount == 0 || w.HoursPerMonth == 0 {
		return
	}
	name, rate, ok := SelectInstance(w.CPUCores, w.MemoryGB, b.snap.EC2)
	if !ok {
		b.missing = append(b.missing, MissingPrice{
			Category: pricing.CategoryEC2,
			Key:      fmt.Sprintf(">=%dvcpu/%dgib", w.CPUCores, w.MemoryGB),
		})
		return
	}
	hours := decimal.NewFromInt(int64(w.HoursPerMonth * w.InstanceCount))
	b.items = append(b.items, LineItem{
		Category: pricing.CategoryEC2,
		Key:      name,
		Quantity: hours,
		Rate:     rate,
		Monthly:  hours.Mul(rate).Mul(b.discount),
		Source:   b.snap.Source(pricing.CategoryEC2),
	})
}

func (b *builder) blockStorage(w Workload) {
	if w.StorageGB == 0 {
		return
	}
	volume := w.StorageType.VolumeType()
	b.lookup(pricing.CategoryEBS, volume, decimal.NewFromInt(int64(w.StorageGB)))

	if volume != "io2" || w.StorageIOPS == 0 {
		return
	}
	iops := decimal.NewFromInt(int64(w.StorageIOPS))
	if rate, ok := b.snap.EBS.Get("iops"); ok {
		b.add(pricing.CategoryEBS, "iops", iops, rate, b.snap.Source(pricing.CategoryEBS))
		return
	}
	b.add(pricing.CategoryEBS, "iops", iops, io2IOPSRate, pricing.SourceFallback)
}

func (b *builder) objectStorage(w Workload) {
	if w.ObjectStorageGB == 0 {
		return
	}
	b.lookup(pricing.CategoryS3, "STANDARD", decimal.NewFromInt(int64(w.ObjectStorageGB)))
}

func (b *builder) dataTransfer(w Workload) {
	if w.DataTransferGB == 0 {
		return
	}
	total := decimal.NewFromInt(int64(w.DataTransferGB))
	billable := decimal.Max(total.Sub(freeEgressDec), decimal.Zero)
	b.lookup(pricing.CategoryDataTransfer, "internet_egress", billable)
	b.lookup(pricing.CategoryDataTransfer, "inter_az", total.Mul(interAZShare))
}
