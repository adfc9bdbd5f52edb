package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/scheduler"
)

// Metrics exports scheduler outcomes. It implements scheduler.Observer.
type Metrics struct {
	Registry *prometheus.Registry
	// Current, when set, reports the published snapshot after each cycle.
	Current func() *pricing.Snapshot

	attempts        *prometheus.CounterVec
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	cycleAttempts   prometheus.Histogram
	lastSuccess     prometheus.Gauge
	snapshotCapture prometheus.Gauge
	provenance      *prometheus.GaugeVec
	fallbackCats    *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridcost_pricing_fetch_attempts_total",
			Help: "Pricing fetch attempts by outcome",
		}, []string{"outcome"}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hybridcost_pricing_cycles_total",
			Help: "Completed pricing cycles by final state",
		}, []string{"state"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hybridcost_pricing_cycle_duration_seconds",
			Help:    "Wall time of a pricing cycle including backoff waits",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		cycleAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hybridcost_pricing_cycle_attempts",
			Help:    "Fetch attempts needed per cycle",
			Buckets: prometheus.LinearBuckets(1, 1, 7),
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "hybridcost_pricing_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that produced live prices",
		}),
		snapshotCapture: f.NewGauge(prometheus.GaugeOpts{
			Name: "hybridcost_pricing_snapshot_captured_timestamp_seconds",
			Help: "Capture time of the currently published snapshot",
		}),
		provenance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hybridcost_pricing_snapshot_provenance",
			Help: "1 for the provenance of the published snapshot, 0 otherwise",
		}, []string{"provenance"}),
		fallbackCats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hybridcost_pricing_category_fallback",
			Help: "1 when a category of the published snapshot uses static values",
		}, []string{"category"}),
	}
}

func (m *Metrics) AttemptFinished(_ int, err error) {
	var tu *pricing.TransportUnavailableError
	switch {
	case err == nil:
		m.attempts.WithLabelValues("success").Inc()
	case errors.As(err, &tu):
		m.attempts.WithLabelValues("transport_unavailable").Inc()
	default:
		m.attempts.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) CycleFinished(res scheduler.Result) {
	m.cycles.WithLabelValues(string(res.State)).Inc()
	m.cycleDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	m.cycleAttempts.Observe(float64(res.Attempts))
	if res.Success {
		m.lastSuccess.Set(float64(res.FinishedAt.Unix()))
	}

	for _, p := range []pricing.Provenance{pricing.ProvenanceLive, pricing.ProvenancePartial, pricing.ProvenanceCached, pricing.ProvenanceStaticFallback} {
		v := 0.0
		if p == res.Provenance {
			v = 1
		}
		m.provenance.WithLabelValues(string(p)).Set(v)
	}
	for _, c := range pricing.Categories {
		m.fallbackCats.WithLabelValues(string(c)).Set(0)
	}
	for _, c := range res.FailedCategories {
		m.fallbackCats.WithLabelValues(string(c)).Set(1)
	}
	if m.Current != nil {
		m.ObserveSnapshot(m.Current())
	}
}

// ObserveSnapshot records the capture time of the published snapshot.
func (m *Metrics) ObserveSnapshot(s *pricing.Snapshot) {
	if s != nil {
		m.snapshotCapture.Set(float64(s.CapturedAt.Unix()))
	}
}
