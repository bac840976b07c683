package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_video_helper_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_video_helper_jobs_total",
			Help: "Total number of finished jobs by size class and status",
		},
		[]string{"size_class", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_job_duration_seconds",
			Help:    "Wall time from upload to finished encode",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"size_class"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_jobs_in_progress",
			Help: "Number of jobs currently probing or encoding",
		},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_jobs_queued",
			Help: "Number of accepted jobs waiting for an encoder slot",
		},
	)

	JobsRetained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_jobs_retained",
			Help: "Number of jobs held in memory, including finished results awaiting download",
		},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_upload_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 10),
		},
	)

	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_progress_subscribers",
			Help: "Number of open progress event subscriptions",
		},
	)
)

// Encoder metrics
var (
	EncodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_encode_duration_seconds",
			Help:    "Encoder run time in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	EncodeOutputRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_encode_output_ratio",
			Help:    "Output size divided by the target size budget",
			Buckets: []float64{0.5, 0.75, 0.9, 0.95, 1, 1.05, 1.1, 1.25, 1.5, 2, 4},
		},
	)

	EncodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_video_helper_encode_failures_total",
			Help: "Encoder runs that did not produce an artifact, by reason",
		},
		[]string{"reason"},
	)

	BudgetMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_video_helper_budget_misses_total",
			Help: "Successful encodes whose output exceeded the size budget",
		},
		[]string{"size_class"},
	)

	BitrateFloorClampsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wa_video_helper_bitrate_floor_clamps_total",
			Help: "Plans whose video bitrate was raised to the minimum",
		},
	)

	PlannedVideoBitrate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_planned_video_bitrate_kbps",
			Help:    "Video bitrate chosen by the planner",
			Buckets: []float64{300, 500, 750, 1000, 1500, 2000, 3000, 5000, 8000},
		},
	)
)

// Probe metrics
var (
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_probe_duration_seconds",
			Help:    "Duration probe run time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	ProbeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_video_helper_probe_errors_total",
			Help: "Duration probes that failed",
		},
		[]string{"method"},
	)
)

// History store metrics
var (
	HistoryQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_video_helper_history_queries_total",
			Help: "Total number of history database queries",
		},
		[]string{"operation", "status"},
	)

	HistoryQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_video_helper_history_query_duration_seconds",
			Help:    "History database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	HistoryRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_history_records",
			Help: "Number of rows in the job history",
		},
	)
)

// Workspace metrics
var (
	WorkspaceFreeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_workspace_free_bytes",
			Help: "Free space on the work volume in bytes",
		},
	)

	WorkspacesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_workspaces_active",
			Help: "Number of job workspaces currently on disk",
		},
	)
)

// Authentication metrics
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_video_helper_auth_attempts_total",
			Help: "Total number of basic auth attempts",
		},
		[]string{"status"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wa_video_helper_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
