package tco

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/shopspring/decimal"
)

// CostExplorerAPI is the subset of the Cost Explorer client used here.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

const (
	discountTTL    = 24 * time.Hour
	discountWindow = 7 * 24 * time.Hour
	ec2ComputeName = "Amazon Elastic Compute Cloud - Compute"
)

var (
	minDiscount = decimal.RequireFromString("0.1")
	maxDiscount = decimal.RequireFromString("1.5")
)

type discountCache struct {
	Factor    decimal.Decimal `json:"factor"`
	Timestamp int64           `json:"timestamp"`
}

// Calibrator derives the account's effective EC2 compute discount from
// Cost Explorer (amortized over unblended cost). It fails open to list
// prices, or to the manual override when one is set.
type Calibrator struct {
	api       CostExplorerAPI
	logger    *slog.Logger
	cachePath string
	override  decimal.Decimal
	now       func() time.Time
}

// NewCalibrator caches the factor under cacheDir for a day. A zero override
// means none.
func NewCalibrator(api CostExplorerAPI, logger *slog.Logger, cacheDir string, override decimal.Decimal) *Calibrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	return &Calibrator{
		api:       api,
		logger:    logger,
		cachePath: filepath.Join(cacheDir, "discounts.json"),
		override:  override,
		now:       time.Now,
	}
}

// NewCalibratorFromConfig builds the Cost Explorer client from cfg.
func NewCalibratorFromConfig(cfg aws.Config, logger *slog.Logger, cacheDir string, override decimal.Decimal) *Calibrator {
	return NewCalibrator(costexplorer.NewFromConfig(cfg), logger, cacheDir, override)
}

// DiscountFactor returns the multiplier to apply to EC2 list prices.
func (c *Calibrator) DiscountFactor(ctx context.Context) decimal.Decimal {
	if factor, ok := c.loadCache(); ok {
		return factor
	}

	factor, err := c.fetch(ctx)
	if err != nil {
		if c.override.IsPositive() {
			c.logger.Warn("calibration failed, using manual override", "error", err, "override", c.override)
			return c.override
		}
		c.logger.Warn("calibration failed, using standard list prices", "error", err)
		return decimal.NewFromInt(1)
	}

	c.saveCache(factor)
	return factor
}

func (c *Calibrator) loadCache() (decimal.Decimal, bool) {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return decimal.Decimal{}, false
	}
	var cache discountCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return decimal.Decimal{}, false
	}
	if c.now().Sub(time.Unix(cache.Timestamp, 0)) > discountTTL {
		return decimal.Decimal{}, false
	}
	return cache.Factor, true
}

func (c *Calibrator) saveCache(factor decimal.Decimal) {
	data, err := json.MarshalIndent(discountCache{Factor: factor, Timestamp: c.now().Unix()}, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		c.logger.Debug("discount cache not written", "error", err)
		return
	}
	if err := os.WriteFile(c.cachePath, data, 0o644); err != nil {
		c.logger.Debug("discount cache not written", "error", err)
	}
}

func (c *Calibrator) fetch(ctx context.Context) (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)
	if c.api == nil {
		return one, fmt.Errorf("cost explorer client not configured")
	}

	end := c.now().UTC()
	out, err := c.api.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(end.Add(-discountWindow).Format(time.DateOnly)),
			End:   aws.String(end.Format(time.DateOnly)),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{"AmortizedCost", "UnblendedCost"},
		Filter: &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionService,
				Values: []string{ec2ComputeName},
			},
		},
	})
	if err != nil {
		return one, err
	}

	amortized, unblended := decimal.Zero, decimal.Zero
	for _, byTime := range out.ResultsByTime {
		amortized = amortized.Add(metricAmount(byTime.Total, "AmortizedCost"))
		unblended = unblended.Add(metricAmount(byTime.Total, "UnblendedCost"))
	}
	if unblended.IsZero() {
		return one, nil
	}

	factor := amortized.Div(unblended).Round(4)
	if factor.LessThan(minDiscount) || factor.GreaterThan(maxDiscount) {
		c.logger.Warn("implausible discount factor ignored", "factor", factor)
		return one, nil
	}
	c.logger.Info("calibrated discount factor", "factor", factor, "source", "aws_cost_explorer")
	return factor, nil
}

func metricAmount(totals map[string]types.MetricValue, name string) decimal.Decimal {
	mv, ok := totals[name]
	if !ok || mv.Amount == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(*mv.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}
