package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter registers a cache's running statistics as Prometheus
// gauges/counters, grounded on the same registry-per-component pattern used
// for agent metrics elsewhere in the example corpus. It is the one place
// this module reaches past the teacher's own dependency set, since the
// teacher never exports metrics at all.
type PrometheusExporter struct {
	registry *prometheus.Registry

	hits    prometheus.Counter
	misses  prometheus.Counter
	prunes  prometheus.Counter
	evicted prometheus.Counter
	expired prometheus.Counter
	keys    prometheus.Gauge
	units   prometheus.Gauge
	avgGet  prometheus.Gauge

	mu   sync.Mutex
	last Snapshot
}

// NewPrometheusExporter builds and registers metrics under namespace
// (e.g. "corekv"), labeled with the given cache name.
func NewPrometheusExporter(namespace, cacheName string) *PrometheusExporter {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"cache": cacheName}

	e := &PrometheusExporter{
		registry: reg,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "hits_total", Help: "Cache hits.", ConstLabels: labels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "misses_total", Help: "Cache misses.", ConstLabels: labels,
		}),
		prunes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "prunes_total", Help: "Prune cycles run.", ConstLabels: labels,
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evicted_total", Help: "Entries evicted by policy.", ConstLabels: labels,
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "expired_total", Help: "Entries evicted by expiry.", ConstLabels: labels,
		}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "keys", Help: "Current key count.", ConstLabels: labels,
		}),
		units: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "units", Help: "Current accounted units.", ConstLabels: labels,
		}),
		avgGet: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "avg_get_seconds", Help: "Running average get latency.", ConstLabels: labels,
		}),
	}

	reg.MustRegister(e.hits, e.misses, e.prunes, e.evicted, e.expired, e.keys, e.units, e.avgGet)
	return e
}

// Handler returns an http.Handler serving this exporter's registry.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Refresh pushes the latest cumulative snapshot into the registered
// metrics. Since prometheus.Counter only exposes Add/Inc, Refresh tracks
// the last snapshot it saw and adds the delta for each monotonic counter.
func (e *PrometheusExporter) Refresh(snap Snapshot, keys, units int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hits.Add(float64(snap.Hits - e.last.Hits))
	e.misses.Add(float64(snap.Misses - e.last.Misses))
	e.prunes.Add(float64(snap.Prunes - e.last.Prunes))
	e.evicted.Add(float64(snap.Evicted - e.last.Evicted))
	e.expired.Add(float64(snap.Expired - e.last.Expired))
	e.last = snap

	e.keys.Set(float64(keys))
	e.units.Set(float64(units))
	e.avgGet.Set(snap.AvgGet.Seconds())
}
