package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

// DefaultLocation is the Pricing API location name for us-east-1.
const DefaultLocation = "US East (N. Virginia)"

// PricingAPI is the subset of the AWS Pricing client used by AWS.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *awspricing.GetProductsInput, optFns ...func(*awspricing.Options)) (*awspricing.GetProductsOutput, error)
	DescribeServices(ctx context.Context, params *awspricing.DescribeServicesInput, optFns ...func(*awspricing.Options)) (*awspricing.DescribeServicesOutput, error)
}

// AWS prices every category through the AWS Price List Query API.
type AWS struct {
	api      PricingAPI
	logger   *slog.Logger
	tracer   trace.Tracer
	limiter  *throttle
	rules    *pricing.RuleSet
	location string
}

type Option func(*AWS)

func WithLogger(l *slog.Logger) Option {
	return func(a *AWS) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(a *AWS) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithRateLimit bounds GetProducts calls across all categories. The rate
// backs off while the API reports throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *AWS) {
		if perSecond > 0 && burst > 0 {
			a.limiter = newThrottle(perSecond, burst)
		}
	}
}

// WithRules rejects categories containing a price that violates a rule.
func WithRules(rs *pricing.RuleSet) Option {
	return func(a *AWS) { a.rules = rs }
}

// WithLocation sets the Pricing API location name, e.g. "EU (Ireland)".
func WithLocation(location string) Option {
	return func(a *AWS) {
		if location != "" {
			a.location = location
		}
	}
}

func NewAWS(api PricingAPI, opts ...Option) *AWS {
	a := &AWS{
		api:      api,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("hybridcost/pricing/source"),
		limiter:  newThrottle(10, 5),
		location: DefaultLocation,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewAWSFromConfig builds the Pricing client from an SDK config.
// The Price List API is only served from a few regions; us-east-1 is used
// unless the config already points elsewhere.
func NewAWSFromConfig(cfg aws.Config, opts ...Option) *AWS {
	client := awspricing.NewFromConfig(cfg, func(o *awspricing.Options) {
		if o.Region == "" {
			o.Region = "us-east-1"
		}
	})
	return NewAWS(client, opts...)
}

func (a *AWS) Fetch(ctx context.Context) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "pricing.Fetch")
	defer span.End()

	if err := a.checkReachable(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport unavailable")
		return nil, err
	}

	res := newResult()
	prices := make([]pricing.PriceMap, len(pricing.Categories))
	failures := make([]*pricing.CategoryFetchError, len(pricing.Categories))

	var g errgroup.Group
	for i, c := range pricing.Categories {
		g.Go(func() error {
			prices[i], failures[i] = a.fetchCategory(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, c := range pricing.Categories {
		if failures[i] != nil {
			res.Failed[c] = failures[i]
			a.logger.Warn("category fetch failed, using fallback", "category", c, "key", failures[i].Key, "error", failures[i].Err)
			continue
		}
		res.Prices[c] = prices[i]
	}
	span.SetAttributes(attribute.Int("pricing.failed_categories", len(res.Failed)))
	return res, nil
}

// checkReachable checks that the Pricing API answers at all. A service-side API error
// proves reachability; anything else (DNS, TCP, credentials) does not.
func (a *AWS) checkReachable(ctx context.Context) error {
	_, err := a.api.DescribeServices(ctx, &awspricing.DescribeServicesInput{
		ServiceCode: aws.String("AmazonEC2"),
		MaxResults:  aws.Int32(1),
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, denied := credentialErrorCodes[apiErr.ErrorCode()]; denied {
			return &pricing.TransportUnavailableError{Err: err}
		}
		a.logger.Warn("pricing reachability check returned API error", "code", apiErr.ErrorCode(), "error", err)
		return nil
	}
	return &pricing.TransportUnavailableError{Err: err}
}

// credentialErrorCodes reject every request, so no category can succeed.
var credentialErrorCodes = map[string]struct{}{
	"ExpiredToken":                {},
	"ExpiredTokenException":       {},
	"UnrecognizedClient":          {},
	"UnrecognizedClientException": {},
	"InvalidClientTokenId":        {},
	"InvalidSignatureException":   {},
	"SignatureDoesNotMatch":       {},
	"AccessDenied":                {},
	"AccessDeniedException":       {},
	"MissingAuthenticationToken":  {},
	"IncompleteSignature":         {},
	"AuthFailure":                 {},
	"NotAuthorized":               {},
}

func (a *AWS) fetchCategory(ctx context.Context, c pricing.Category) (pricing.PriceMap, *pricing.CategoryFetchError) {
	ctx, span := a.tracer.Start(ctx, "pricing.FetchCategory", trace.WithAttributes(attribute.String("pricing.category", string(c))))
	defer span.End()

	fail := func(key string, err error) (pricing.PriceMap, *pricing.CategoryFetchError) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return pricing.PriceMap{}, &pricing.CategoryFetchError{Category: c, Key: key, Err: err}
	}

	raw := make(map[string]decimal.Decimal)
	for _, key := range pricing.Keys(c) {
		if err := a.limiter.Wait(ctx); err != nil {
			return fail(key, err)
		}
		start := time.Now()
		price, err := a.fetchPrice(ctx, c, key)
		if a.limiter.Feedback(time.Since(start), err) {
			a.logger.Warn("pricing API throttled, slowing down", "category", c, "limit", float64(a.limiter.Limit()))
		}
		if err != nil {
			return fail(key, err)
		}
		raw[key] = price
	}

	m, err := pricing.NewPriceMap(raw)
	if err != nil {
		return fail("", err)
	}
	if err := a.rules.Check(c, m); err != nil {
		return fail("", err)
	}
	return m, nil
}

func (a *AWS) fetchPrice(ctx context.Context, c pricing.Category, key string) (decimal.Decimal, error) {
	service, filters, err := a.query(c, key)
	if err != nil {
		return decimal.Zero, err
	}

	out, err := a.api.GetProducts(ctx, &awspricing.GetProductsInput{
		ServiceCode: aws.String(service),
		Filters:     filters,
		MaxResults:  aws.Int32(1),
	})
	if err != nil {
		return decimal.Zero, err
	}
	if len(out.PriceList) == 0 {
		return decimal.Zero, fmt.Errorf("no pricing found for %s %s", c, key)
	}
	return parseOnDemandPrice(out.PriceList[0])
}

var (
	s3VolumeTypes = map[string]string{
		"STANDARD":            "Standard",
		"INTELLIGENT_TIERING": "Intelligent-Tiering Frequent Access",
		"STANDARD_IA":         "Standard - Infrequent Access",
		"ONEZONE_IA":          "One Zone - Infrequent Access",
		"GLACIER":             "Amazon Glacier",
	}
	transferTypes = map[string]string{
		"internet_egress": "AWS Outbound",
		"inbound":         "AWS Inbound",
		"inter_region":    "InterRegion Outbound",
		"inter_az":        "IntraRegion",
	}
)

func termMatch(field, value string) types.Filter {
	return types.Filter{
		Type:  types.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

func (a *AWS) query(c pricing.Category, key string) (string, []types.Filter, error) {
	switch c {
	case pricing.CategoryEC2:
		return "AmazonEC2", []types.Filter{
			termMatch("instanceType", key),
			termMatch("location", a.location),
			termMatch("operatingSystem", "Linux"),
			termMatch("tenancy", "Shared"),
			termMatch("preInstalledSw", "NA"),
			termMatch("capacitystatus", "Used"),
		}, nil
	case pricing.CategoryEBS:
		return "AmazonEC2", []types.Filter{
			termMatch("productFamily", "Storage"),
			termMatch("volumeApiName", key),
			termMatch("location", a.location),
		}, nil
	case pricing.CategoryS3:
		volumeType, ok := s3VolumeTypes[key]
		if !ok {
			return "", nil, fmt.Errorf("unknown storage class %q", key)
		}
		return "AmazonS3", []types.Filter{
			termMatch("productFamily", "Storage"),
			termMatch("volumeType", volumeType),
			termMatch("location", a.location),
		}, nil
	case pricing.CategoryDataTransfer:
		transferType, ok := transferTypes[key]
		if !ok {
			return "", nil, fmt.Errorf("unknown transfer direction %q", key)
		}
		return "AWSDataTransfer", []types.Filter{
			termMatch("transferType", transferType),
			termMatch("fromLocation", a.location),
		}, nil
	}
	return "", nil, fmt.Errorf("unknown category %q", c)
}

// parseOnDemandPrice extracts the USD unit price from a price list document.
// Tiered products carry several dimensions; the highest rate is the one that
// applies to the first billed unit beyond any free tier.
func parseOnDemandPrice(doc string) (decimal.Decimal, error) {
	type priceDimension struct {
		PricePerUnit map[string]string `json:"pricePerUnit"`
	}
	type term struct {
		PriceDimensions map[string]priceDimension `json:"priceDimensions"`
	}
	type product struct {
		Terms map[string]map[string]term `json:"terms"`
	}

	var p product
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return decimal.Zero, fmt.Errorf("malformed price list: %w", err)
	}

	var (
		best  decimal.Decimal
		found bool
	)
	for _, t := range p.Terms["OnDemand"] {
		for _, dim := range t.PriceDimensions {
			raw, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return decimal.Zero, fmt.Errorf("malformed USD price %q: %w", raw, err)
			}
			if !found || d.GreaterThan(best) {
				best, found = d, true
			}
		}
	}
	if !found {
		return decimal.Zero, errors.New("price not found in price list")
	}
	return best, nil
}
