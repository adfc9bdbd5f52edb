package tco

import (
	"slices"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/shopspring/decimal"
)

// InstanceSpecs defines the compute capacity of an instance type.
type InstanceSpecs struct {
	VCPU   int
	Memory int // GiB
}

// instanceCatalog lists the shapes considered when sizing a workload.
// Types absent from the snapshot's EC2 prices are skipped.
var instanceCatalog = map[string]InstanceSpecs{
	// T3 Family (Burstable)
	"t3.micro":   {VCPU: 2, Memory: 1},
	"t3.small":   {VCPU: 2, Memory: 2},
	"t3.medium":  {VCPU: 2, Memory: 4},
	"t3.large":   {VCPU: 2, Memory: 8},
	"t3.xlarge":  {VCPU: 4, Memory: 16},
	"t3.2xlarge": {VCPU: 8, Memory: 32},

	// M5 Family (General Purpose)
	"m5.large":    {VCPU: 2, Memory: 8},
	"m5.xlarge":   {VCPU: 4, Memory: 16},
	"m5.2xlarge":  {VCPU: 8, Memory: 32},
	"m5.4xlarge":  {VCPU: 16, Memory: 64},
	"m5.8xlarge":  {VCPU: 32, Memory: 128},
	"m5.12xlarge": {VCPU: 48, Memory: 192},
	"m5.16xlarge": {VCPU: 64, Memory: 256},
	"m5.24xlarge": {VCPU: 96, Memory: 384},

	// C5 Family (Compute Optimized)
	"c5.large":    {VCPU: 2, Memory: 4},
	"c5.xlarge":   {VCPU: 4, Memory: 8},
	"c5.2xlarge":  {VCPU: 8, Memory: 16},
	"c5.4xlarge":  {VCPU: 16, Memory: 32},
	"c5.9xlarge":  {VCPU: 36, Memory: 72},
	"c5.18xlarge": {VCPU: 72, Memory: 144},

	// R5 Family (Memory Optimized)
	"r5.large":    {VCPU: 2, Memory: 16},
	"r5.xlarge":   {VCPU: 4, Memory: 32},
	"r5.2xlarge":  {VCPU: 8, Memory: 64},
	"r5.4xlarge":  {VCPU: 16, Memory: 128},
	"r5.8xlarge":  {VCPU: 32, Memory: 256},
	"r5.12xlarge": {VCPU: 48, Memory: 384},
}

// Specs returns the catalog entry for an instance type.
func Specs(instanceType string) (InstanceSpecs, bool) {
	s, ok := instanceCatalog[instanceType]
	return s, ok
}

// SelectInstance picks the cheapest priced instance type that satisfies the
// CPU and memory requirement. Ties go to the lexically smaller type name.
func SelectInstance(cpu, memoryGB int, prices pricing.PriceMap) (string, decimal.Decimal, bool) {
	names := make([]string, 0, len(instanceCatalog))
	for name := range instanceCatalog {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		best     string
		bestRate decimal.Decimal
		found    bool
	)
	for _, name := range names {
		size := instanceCatalog[name]
		if size.VCPU < cpu || size.Memory < memoryGB {
			continue
		}
		rate, ok := prices.Get(name)
		if !ok {
			continue
		}
		if !found || rate.LessThan(bestRate) {
			best, bestRate, found = name, rate, true
		}
	}
	return best, bestRate, found
}
