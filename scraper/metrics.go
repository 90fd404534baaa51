package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	PagesTotal        *prometheus.CounterVec
	ListingsProcessed prometheus.Counter
	ListingsNew       prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	BatchesTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total page requests issued by the crawler.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Fetched pages by outcome.",
		},
		[]string{"outcome"},
	)
	processed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_listings_processed_total",
			Help: "Listings submitted to the store.",
		},
	)
	inserted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_listings_new_total",
			Help: "Listings that were not stored before.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of crawler errors by type.",
		},
		[]string{"error_type"},
	)
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_batches_total",
			Help: "Batches handled by the queue driver by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, pages, processed, inserted, errorsTotal, batches)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		PagesTotal:        pages,
		ListingsProcessed: processed,
		ListingsNew:       inserted,
		ErrorsTotal:       errorsTotal,
		BatchesTotal:      batches,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPage counts one page outcome.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// AddListings adds submitted and newly stored listing counts.
func (m *Metrics) AddListings(processed, inserted int) {
	if m == nil {
		return
	}
	m.ListingsProcessed.Add(float64(processed))
	m.ListingsNew.Add(float64(inserted))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncBatch counts one driver outcome.
func (m *Metrics) IncBatch(outcome string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
}
