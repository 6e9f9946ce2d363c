// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidpub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Queue metrics
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidpub_queue_depth",
			Help: "Number of publish jobs waiting behind the active one",
		},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpub_jobs_total",
			Help: "Total number of publish jobs by outcome",
		},
		[]string{"platform", "outcome"}, // "complete", "failed"
	)

	AssemblyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidpub_assembly_duration_seconds",
			Help:    "Time spent rendering a video",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
	)

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidpub_upload_duration_seconds",
			Help:    "Time spent uploading and posting a video",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"platform"},
	)

	WorkerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidpub_worker_panics_total",
			Help: "Panics recovered while draining the queue",
		},
	)
)

// Credential pool metrics
var (
	ConnectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpub_connect_total",
			Help: "Connect URL requests by outcome",
		},
		[]string{"platform", "outcome"}, // "ok", "busy", "no_capacity", "error"
	)

	DisplacementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpub_displacements_total",
			Help: "Platforms disconnected to free a slot for a new connection",
		},
		[]string{"platform"},
	)

	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpub_slot_conflicts_total",
			Help: "Channels found connected under two credentials",
		},
		[]string{"platform"},
	)

	ReapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidpub_idle_reaps_total",
			Help: "Platforms disconnected because every known channel was idle",
		},
		[]string{"platform"},
	)

	UploadsThisMonth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vidpub_credential_uploads_this_month",
			Help: "Uploads counted against each credential's monthly quota",
		},
		[]string{"credential"},
	)
)
