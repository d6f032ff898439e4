package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports Observer events as Prometheus metrics.
type PrometheusObserver struct {
	opLatency    *prometheus.HistogramVec
	storedBytes  *prometheus.CounterVec
	scanItems    prometheus.Gauge
	scanWarnings prometheus.Gauge
	flushItems   *prometheus.CounterVec
	migrations   *prometheus.CounterVec
	upgrades     *prometheus.CounterVec
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// NewPrometheusObserver creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ndstore_operation_latency_seconds",
			Help:    "Latency of library operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		storedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ndstore_stored_bytes_total",
			Help: "Container bytes committed to disk",
		}, []string{"format"}),
		scanItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ndstore_scan_items",
			Help: "Items indexed by the most recent library scan",
		}),
		scanWarnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ndstore_scan_warnings",
			Help: "Files skipped by the most recent library scan",
		}),
		flushItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ndstore_flush_items_total",
			Help: "Entities processed by model flushes",
		}, []string{"result"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ndstore_migrations_total",
			Help: "Records migrated on decode",
		}, []string{"type", "status"}),
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ndstore_upgrade_items_total",
			Help: "Items processed by profile upgrades",
		}, []string{"library", "result"}),
	}

	reg.MustRegister(
		o.opLatency,
		o.storedBytes,
		o.scanItems,
		o.scanWarnings,
		o.flushItems,
		o.migrations,
		o.upgrades,
	)
	return o
}

// OnFetch implements Observer.
func (o *PrometheusObserver) OnFetch(d time.Duration, _ string, err error) {
	o.opLatency.WithLabelValues("fetch", status(err)).Observe(d.Seconds())
}

// OnStore implements Observer.
func (o *PrometheusObserver) OnStore(d time.Duration, format string, bytes int64, err error) {
	o.opLatency.WithLabelValues("store", status(err)).Observe(d.Seconds())
	if err == nil {
		o.storedBytes.WithLabelValues(format).Add(float64(bytes))
	}
}

// OnDelete implements Observer.
func (o *PrometheusObserver) OnDelete(d time.Duration, err error) {
	o.opLatency.WithLabelValues("delete", status(err)).Observe(d.Seconds())
}

// OnScan implements Observer.
func (o *PrometheusObserver) OnScan(d time.Duration, items, warnings int) {
	o.opLatency.WithLabelValues("scan", "success").Observe(d.Seconds())
	o.scanItems.Set(float64(items))
	o.scanWarnings.Set(float64(warnings))
}

// OnFlush implements Observer.
func (o *PrometheusObserver) OnFlush(d time.Duration, stored, deleted, failed int) {
	o.opLatency.WithLabelValues("flush", "success").Observe(d.Seconds())
	o.flushItems.WithLabelValues("stored").Add(float64(stored))
	o.flushItems.WithLabelValues("deleted").Add(float64(deleted))
	o.flushItems.WithLabelValues("failed").Add(float64(failed))
}

// OnMigration implements Observer.
func (o *PrometheusObserver) OnMigration(typeName string, _, _ int, err error) {
	o.migrations.WithLabelValues(typeName, status(err)).Inc()
}

// OnUpgrade implements Observer.
func (o *PrometheusObserver) OnUpgrade(library string, d time.Duration, upgraded, failed int) {
	o.opLatency.WithLabelValues("upgrade", "success").Observe(d.Seconds())
	o.upgrades.WithLabelValues(library, "upgraded").Add(float64(upgraded))
	o.upgrades.WithLabelValues(library, "failed").Add(float64(failed))
}
