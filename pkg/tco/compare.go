package tco

import (
	"github.com/shopspring/decimal"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

// Cheaper names the side with the lower total.
type Cheaper string

const (
	CheaperAWS    Cheaper = "aws"
	CheaperOnPrem Cheaper = "on_prem"
	CheaperEven   Cheaper = "even"
)

// YearCost is the cumulative cost of both sides at the end of a year.
// Savings is what moving to AWS saves; negative when on-premises is cheaper.
type YearCost struct {
	Year    int             `json:"year"`
	OnPrem  decimal.Decimal `json:"on_prem"`
	AWS     decimal.Decimal `json:"aws"`
	Savings decimal.Decimal `json:"savings"`
}

// Comparison holds both estimates and their year-by-year projection.
type Comparison struct {
	AWS        *Estimate       `json:"aws"`
	OnPrem     *OnPremEstimate `json:"on_prem"`
	Projection []YearCost      `json:"projection"`
	Cheaper    Cheaper         `json:"cheaper"`
	// BreakEvenYear is the first year the hardware has paid for itself:
	// on-premises is cumulatively cheaper after having cost more. Zero when
	// that never happens within the horizon.
	BreakEvenYear int `json:"break_even_year,omitempty"`
}

// Compare estimates w on both sides and projects cumulative costs for every
// year of the horizon. Hardware is paid once; everything else recurs.
func Compare(snap *pricing.Snapshot, w Workload, opts ...EstimateOption) (*Comparison, error) {
	aws, err := EstimateAWS(snap, w, opts...)
	if err != nil {
		return nil, err
	}
	onPrem, err := EstimateOnPrem(w)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{AWS: aws, OnPrem: onPrem}
	annualAWS := aws.Monthly.Mul(monthsPerYear)
	for y := 1; y <= w.Years; y++ {
		yc := YearCost{
			Year:   y,
			OnPrem: onPrem.CostAt(y),
			AWS:    annualAWS.Mul(decimal.NewFromInt(int64(y))),
		}
		yc.Savings = yc.OnPrem.Sub(yc.AWS)
		if cmp.BreakEvenYear == 0 && y > 1 && yc.Savings.IsNegative() && !cmp.Projection[y-2].Savings.IsNegative() {
			cmp.BreakEvenYear = y
		}
		cmp.Projection = append(cmp.Projection, yc)
	}

	switch aws.Total.Cmp(onPrem.Total) {
	case -1:
		cmp.Cheaper = CheaperAWS
	case 1:
		cmp.Cheaper = CheaperOnPrem
	default:
		cmp.Cheaper = CheaperEven
	}
	return cmp, nil
}
