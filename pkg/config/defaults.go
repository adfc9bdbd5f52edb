// Package config defines the runtime configuration and its defaults.
package config

import (
	"time"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/pricing/source"
	"github.com/DrSkyle/hybridcost/pkg/scheduler"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Defaults.
const (
	DefaultRegion   = "us-east-1"
	DefaultHTTPAddr = ":8080"
)

// Config is the full runtime configuration.
type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	AWS       AWSConfig        `mapstructure:"aws"`
	Pricing   PricingConfig    `mapstructure:"pricing"`
	Schedule  scheduler.Config `mapstructure:"schedule"`
	Storage   StorageConfig    `mapstructure:"storage"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
}

type LogConfig struct {
	// Format is json, text or pretty.
	Format string `mapstructure:"format" validate:"oneof=json text pretty"`
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region" validate:"required"`
	Profile  string `mapstructure:"profile"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
}

// PricingConfig configures the pricing source.
type PricingConfig struct {
	// Mock replaces the AWS source with a scripted one.
	Mock bool `mapstructure:"mock"`
	// MockFailures makes the first N mock fetches fail at the transport.
	MockFailures int            `mapstructure:"mock_failures" validate:"gte=0"`
	Location     string         `mapstructure:"location" validate:"required"`
	RateLimit    float64        `mapstructure:"rate_limit" validate:"gt=0"`
	Burst        int            `mapstructure:"burst" validate:"gt=0"`
	Rules        []pricing.Rule `mapstructure:"rules" validate:"dive"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend" validate:"oneof=memory local s3 postgres redis"`
	Path        string `mapstructure:"path" validate:"required_if=Backend local"`
	Bucket      string `mapstructure:"bucket" validate:"required_if=Backend s3"`
	Prefix      string `mapstructure:"prefix"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Backend postgres"`
	RedisURL    string `mapstructure:"redis_url" validate:"required_if=Backend redis"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type TelemetryConfig struct {
	Disabled     bool   `mapstructure:"disabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" validate:"omitempty,url"`
	// SampleRatio is the share of scheduler cycles traced, 0 to 1.
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		AWS: AWSConfig{Region: DefaultRegion},
		Pricing: PricingConfig{
			Location:  source.DefaultLocation,
			RateLimit: 10,
			Burst:     5,
		},
		Schedule: scheduler.DefaultConfig(),
		Storage: StorageConfig{
			Backend: BackendLocal,
			Path:    DefaultDataDir(),
		},
		HTTP: HTTPConfig{
			Addr:            DefaultHTTPAddr,
			ShutdownTimeout: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{SampleRatio: 1},
	}
}
