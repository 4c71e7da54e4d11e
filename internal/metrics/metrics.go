// Package metrics exposes Prometheus collectors for sweeps, fetches, alerts and the cache.
// Helpers are no-ops until Register succeeds, so packages can record unconditionally.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Sweeps by outcome (completed, cancelled, rejected).",
		}, []string{"outcome"},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Wall time of finished sweeps.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
	sweepRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pricewatch",
			Subsystem: "sweep",
			Name:      "running",
			Help:      "1 while a sweep is in progress.",
		},
	)
	itemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "sweep",
			Name:      "items_total",
			Help:      "Processed items by result and snapshot source.",
		}, []string{"result", "source"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Upstream price fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"fetcher", "outcome"},
	)
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "alert",
			Name:      "fired_total",
			Help:      "Alert events persisted by kind.",
		}, []string{"kind"},
	)
	notifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "alert",
			Name:      "notify_failures_total",
			Help:      "Notifications the sender could not deliver.",
		},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Memoised lookups by result (hit, miss).",
		}, []string{"result"},
	)
	cacheInvalidated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "cache",
			Name:      "invalidated_keys_total",
			Help:      "Keys removed by pattern invalidation.",
		},
	)
)

// Register registers all collectors with r. Repeated calls are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		sweepsTotal, sweepDuration, sweepRunning, itemsProcessed,
		fetchDuration, alertsTotal, notifyFailures, cacheLookups, cacheInvalidated,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncSweep(outcome string) {
	if regOK.Load() {
		sweepsTotal.WithLabelValues(outcome).Inc()
	}
}

func ObserveSweepDuration(seconds float64) {
	if regOK.Load() {
		sweepDuration.Observe(seconds)
	}
}

func SetSweepRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		sweepRunning.Set(v)
	}
}

func IncItem(result, source string) {
	if regOK.Load() {
		itemsProcessed.WithLabelValues(result, source).Inc()
	}
}

func ObserveFetch(fetcher, outcome string, seconds float64) {
	if regOK.Load() {
		fetchDuration.WithLabelValues(fetcher, outcome).Observe(seconds)
	}
}

func IncAlert(kind string) {
	if regOK.Load() {
		alertsTotal.WithLabelValues(kind).Inc()
	}
}

func IncNotifyFailure() {
	if regOK.Load() {
		notifyFailures.Inc()
	}
}

func IncCacheLookup(result string) {
	if regOK.Load() {
		cacheLookups.WithLabelValues(result).Inc()
	}
}

func AddCacheInvalidated(n int) {
	if regOK.Load() && n > 0 {
		cacheInvalidated.Add(float64(n))
	}
}
