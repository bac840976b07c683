// Package metrics provides Prometheus instrumentation for the video helper.
//
// All collectors are registered on the default registry with promauto and are
// prefixed with "wa_video_helper_".
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal: Counter of requests by method, route template and status
//   - HTTPRequestDuration: Histogram of request duration by method and route
//   - HTTPRequestsInFlight: Gauge of requests being served
//
// ## Job Metrics
//
//   - JobsTotal: Counter of finished jobs by size class and status
//   - JobDuration: Histogram of upload-to-result time by size class
//   - JobsInProgress / JobsQueued / JobsRetained: Gauges of the job table
//   - UploadBytes: Histogram of accepted upload sizes
//   - ProgressSubscribers: Gauge of live progress subscriptions
//
// ## Encoder and Probe Metrics
//
//   - EncodeDuration: Histogram of encoder run time
//   - EncodeOutputRatio: Histogram of output size over target size
//   - EncodeFailuresTotal: Counter by reason (exit, canceled, timeout, missing_output)
//   - BudgetMissesTotal: Counter of successful encodes over budget, by size class
//   - BitrateFloorClampsTotal: Counter of plans raised to the bitrate floor
//   - PlannedVideoBitrate: Histogram of planned video bitrates
//   - ProbeDuration / ProbeErrorsTotal: by probe method
//
// ## History and Workspace Metrics
//
//   - HistoryQueryTotal / HistoryQueryDuration: by operation
//   - HistoryRecords: Gauge of stored history rows
//   - WorkspaceFreeBytes: Gauge of free space on the work volume
//   - WorkspacesActive: Gauge of job workspaces on disk
//
// ## Application Info
//
//   - AppInfo: Gauge with version, commit, and Go version labels
//
// # Collector
//
// [Collector] periodically reads a [StatsProvider] and updates the gauges that
// are derived from state rather than events:
//
//	collector := metrics.NewCollector(provider, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Share of encodes that missed their budget:
//
//	sum(rate(wa_video_helper_budget_misses_total[1h])) /
//	sum(rate(wa_video_helper_jobs_total{status="done"}[1h]))
//
// P95 encode time:
//
//	histogram_quantile(0.95, sum(rate(wa_video_helper_encode_duration_seconds_bucket[1h])) by (le))
package metrics
