package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg              *prometheus.Registry
	DocsAttempted    prometheus.Counter
	DocsSucceeded    prometheus.Counter
	DocsQuarantined  prometheus.Counter
	Batches          *prometheus.CounterVec
	BatchDurationSec prometheus.Histogram
	UploadedBytes    prometheus.Counter
	UploadRetries    prometheus.Counter
	LoadFiles        *prometheus.CounterVec
	LastRunSucceeded prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	attempted := prometheus.NewCounter(prometheus.CounterOpts{Name: "mongobq_documents_attempted_total"})
	succeeded := prometheus.NewCounter(prometheus.CounterOpts{Name: "mongobq_documents_succeeded_total"})
	quarantined := prometheus.NewCounter(prometheus.CounterOpts{Name: "mongobq_documents_quarantined_total"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mongobq_batches_total"}, []string{"status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mongobq_batch_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})
	uploaded := prometheus.NewCounter(prometheus.CounterOpts{Name: "mongobq_uploaded_bytes_total"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "mongobq_upload_retries_total"})
	loads := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mongobq_load_files_total"}, []string{"status"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{Name: "mongobq_last_run_succeeded_documents"})

	r.MustRegister(attempted, succeeded, quarantined, batches, duration, uploaded, retries, loads, lastRun)
	return &Registry{
		reg:              r,
		DocsAttempted:    attempted,
		DocsSucceeded:    succeeded,
		DocsQuarantined:  quarantined,
		Batches:          batches,
		BatchDurationSec: duration,
		UploadedBytes:    uploaded,
		UploadRetries:    retries,
		LoadFiles:        loads,
		LastRunSucceeded: lastRun,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the registry to tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
