package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics for sync runs. Each collector owns
// its registry so repeated runs in one process never double-register.
type Collector struct {
	registry       *prometheus.Registry
	recordsTotal   *prometheus.CounterVec
	downloadsTotal prometheus.Counter
	bytesTotal     prometheus.Counter
	ledgerEntries  prometheus.Gauge
	mirrorFailures prometheus.Counter
	duration       prometheus.Histogram
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_records_total",
				Help: "Total number of activity records processed",
			},
			[]string{"status"},
		),
		downloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_downloads_total",
				Help: "Total activity payloads fetched from the origin",
			},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_bytes_total",
				Help: "Total payload bytes fetched",
			},
		),
		ledgerEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sync_ledger_entries",
				Help: "Number of activities recorded in the dedup ledger",
			},
		),
		mirrorFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_mirror_failures_total",
				Help: "Total archive mirror writes that failed",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sync_record_duration_seconds",
				Help:    "Time taken to process one activity record",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	// Register metrics
	c.registry.MustRegister(c.recordsTotal)
	c.registry.MustRegister(c.downloadsTotal)
	c.registry.MustRegister(c.bytesTotal)
	c.registry.MustRegister(c.ledgerEntries)
	c.registry.MustRegister(c.mirrorFailures)
	c.registry.MustRegister(c.duration)

	return c
}

// IncUploaded increments the counter of newly uploaded activities
func (c *Collector) IncUploaded() {
	c.recordsTotal.WithLabelValues("uploaded").Inc()
}

// IncDuplicate increments the counter of activities the destination already had
func (c *Collector) IncDuplicate() {
	c.recordsTotal.WithLabelValues("duplicate").Inc()
}

// IncSkipped increments the counter of activities skipped via the ledger
func (c *Collector) IncSkipped() {
	c.recordsTotal.WithLabelValues("skipped").Inc()
}

// IncFailed increments the counter of failed records
func (c *Collector) IncFailed() {
	c.recordsTotal.WithLabelValues("failed").Inc()
}

// IncDownloaded increments the counter of fetched payloads
func (c *Collector) IncDownloaded() {
	c.downloadsTotal.Inc()
}

// AddBytes adds to total payload bytes fetched
func (c *Collector) AddBytes(bytes int64) {
	c.bytesTotal.Add(float64(bytes))
}

// IncMirrorFailed increments the counter of failed archive mirror writes
func (c *Collector) IncMirrorFailed() {
	c.mirrorFailures.Inc()
}

// SetLedgerEntries sets the current ledger size
func (c *Collector) SetLedgerEntries(count int) {
	c.ledgerEntries.Set(float64(count))
}

// ObserveDuration observes per-record processing duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
