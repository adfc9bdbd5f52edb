// Package app wires configuration into a running pricing service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/DrSkyle/hybridcost/internal/httpapi"
	"github.com/DrSkyle/hybridcost/pkg/cloud"
	"github.com/DrSkyle/hybridcost/pkg/config"
	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/pricing/source"
	"github.com/DrSkyle/hybridcost/pkg/scheduler"
	"github.com/DrSkyle/hybridcost/pkg/storage"
	"github.com/DrSkyle/hybridcost/pkg/tco"
	"github.com/DrSkyle/hybridcost/pkg/telemetry"
	"github.com/DrSkyle/hybridcost/pkg/version"
)

// App holds every long-lived component of the service.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     storage.Store
	Source    source.Source
	Cache     *pricing.Cache
	Metrics   *telemetry.Metrics
	Scheduler *scheduler.Scheduler

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	closers []func(context.Context) error
}

type options struct {
	logger *slog.Logger
	clock  clock.Clock
	source source.Source
	store  storage.Store
}

type Option func(*options)

// WithLogger overrides the logger built from the log configuration.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the scheduler clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSource replaces the configured pricing source.
func WithSource(s source.Source) Option {
	return func(o *options) { o.source = s }
}

// WithStore replaces the configured snapshot store. The app does not close it.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// New builds the app. Close releases whatever New opened, also on error.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: o.logger}
	if a.Logger == nil {
		a.Logger = telemetry.NewLogger(os.Stderr, telemetry.LogOptions{Format: cfg.Log.Format, Level: cfg.Log.Level})
	}

	if !cfg.Telemetry.Disabled {
		shutdown, err := telemetry.InitTracing(ctx, telemetry.TracingOptions{
			ServiceName:     version.AppName,
			ServiceVersion:  version.Current,
			Endpoint:        cfg.Telemetry.OTLPEndpoint,
			SampleRatio:     cfg.Telemetry.SampleRatio,
			AWSRegion:       cfg.AWS.Region,
			PricingLocation: cfg.Pricing.Location,
			StorageBackend:  cfg.Storage.Backend,
			Mock:            cfg.Pricing.Mock,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
	}

	var err error
	a.Store = o.store
	if a.Store == nil {
		a.Store, err = a.openStore(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		store := a.Store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	}

	a.Source = o.source
	if a.Source == nil {
		a.Source, err = a.newSource(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	a.Cache = pricing.NewCache()
	a.Metrics = telemetry.NewMetrics()
	a.Metrics.Current = a.Cache.Current

	a.Scheduler, err = scheduler.New(a.Source, a.Store, a.Cache, cfg.Schedule,
		scheduler.WithClock(o.clock),
		scheduler.WithLogger(a.Logger),
		scheduler.WithTracer(telemetry.Tracer("hybridcost/scheduler")),
		scheduler.WithObserver(a.Metrics),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) awsConfig(ctx context.Context) (aws.Config, error) {
	a.awsOnce.Do(func() {
		a.awsCfg, a.awsErr = cloud.LoadConfig(ctx, cloud.Options{
			Region:   a.Config.AWS.Region,
			Profile:  a.Config.AWS.Profile,
			Endpoint: a.Config.AWS.Endpoint,
			Logger:   a.Logger,
		})
	})
	return a.awsCfg, a.awsErr
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	sc := a.Config.Storage
	a.Logger.Debug("opening snapshot store", "backend", sc.Backend)

	switch sc.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(), nil
	case config.BackendLocal:
		return storage.NewBlobSnapshotStore(storage.NewLocalStore(sc.Path)), nil
	case config.BackendS3:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		pathStyle := a.Config.AWS.Endpoint != ""
		blobs := storage.NewS3Store(awsCfg, sc.Bucket, sc.Prefix, func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		})
		return storage.NewBlobSnapshotStore(blobs), nil
	case config.BackendPostgres:
		return storage.OpenPostgres(ctx, sc.DatabaseURL)
	case config.BackendRedis:
		return storage.OpenRedis(ctx, sc.RedisURL, sc.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func (a *App) newSource(ctx context.Context) (source.Source, error) {
	pc := a.Config.Pricing
	if pc.Mock {
		outcomes := make([]source.Outcome, 0, pc.MockFailures+1)
		for range pc.MockFailures {
			outcomes = append(outcomes, source.Unreachable())
		}
		outcomes = append(outcomes, source.Succeed())
		a.Logger.Info("using scripted pricing source", "failures", pc.MockFailures)
		return source.NewScript(outcomes...), nil
	}

	rules, err := pricing.CompileRules(pc.Rules)
	if err != nil {
		return nil, fmt.Errorf("compile pricing rules: %w", err)
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return source.NewAWSFromConfig(awsCfg,
		source.WithLogger(a.Logger),
		source.WithTracer(telemetry.Tracer("hybridcost/source")),
		source.WithRateLimit(pc.RateLimit, pc.Burst),
		source.WithRules(rules),
		source.WithLocation(pc.Location),
	), nil
}

// Calibrator returns a Cost Explorer backed discount calibrator whose
// cache lives in the configured data directory.
func (a *App) Calibrator(ctx context.Context, override decimal.Decimal) (*tco.Calibrator, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return tco.NewCalibratorFromConfig(awsCfg, a.Logger, config.DefaultDataDir(), override), nil
}

// VerifyIdentity logs the principal behind the AWS credentials. Failures
// are logged and otherwise ignored; the source degrades on its own.
func (a *App) VerifyIdentity(ctx context.Context) {
	if a.Config.Pricing.Mock {
		return
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		a.Logger.Warn("aws config unavailable", "error", err)
		return
	}
	id, err := cloud.VerifyIdentityFromConfig(ctx, awsCfg)
	if err != nil {
		a.Logger.Warn("aws identity not verified", "error", err)
		return
	}
	a.Logger.Info("aws identity verified", "account", id.Account, "arn", id.ARN)
}

// HTTPServer builds the HTTP surface over the app's cache, store and scheduler.
func (a *App) HTTPServer() *httpapi.Server {
	return httpapi.NewServer(httpapi.Config{
		Addr:            a.Config.HTTP.Addr,
		ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
	}, httpapi.Deps{
		Cache:    a.Cache,
		History:  a.Store,
		Status:   a.Scheduler,
		Gatherer: a.Metrics.Registry,
		Logger:   a.Logger.With("component", "http"),
	})
}

// Serve runs the scheduler and the HTTP surface until ctx is cancelled or
// the server fails.
func (a *App) Serve(ctx context.Context) error {
	a.VerifyIdentity(ctx)
	if _, err := a.Scheduler.Restore(ctx); err != nil {
		a.Logger.Warn("serving without stored prices until the first cycle", "error", err)
	}
	srv := a.HTTPServer()
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx := context.WithoutCancel(ctx)
		return errors.Join(srv.Shutdown(stopCtx), a.Scheduler.Stop(stopCtx))
	})
	return g.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
