// Package main provides the entry point for the WhatsApp Video Helper service.
//
// WhatsApp Video Helper accepts a video upload, re-encodes it with FFmpeg at a
// bitrate computed to fit a WhatsApp size limit, streams progress to the
// browser over a websocket and serves the converted MP4 for download.
//
// # Application Lifecycle
//
//  1. Configuration Loading: Reads .env, sizes GOMEMLIMIT, validates the work directory
//  2. History Initialization: Opens the SQLite job history and starts retention pruning
//  3. Component Initialization:
//     - Workspaces: Removes leftovers from a previous run, enforces the free-space reserve
//     - Transcoder: Checks ffmpeg/ffprobe and builds the encoder pipeline
//     - Job Manager: Runs uploads through probe, plan and encode with bounded concurrency
//     - Metrics Collector: Updates Prometheus gauges
//  4. HTTP Server Setup: Routes, basic auth, logging and metrics middleware
//  5. Graceful Shutdown: Handles SIGINT/SIGTERM, cancels running encodes and removes workspaces
//
// # HTTP Server
//
// The application runs two HTTP servers:
//
//  1. Main Server (default port 8080):
//     - Upload page from ./static
//     - /api/jobs for uploads, status, cancel, progress events and download
//     - /api/history and /api/size-classes
//     - /health, /healthz, /livez, /readyz and /version
//
//  2. Metrics Server (default port 9090, optional):
//     - Prometheus metrics endpoint (/metrics)
//     - Health check endpoint (/health)
//
// # Environment Variables
//
//   - WORK_DIR: Directory for job workspaces and the history database (default: /data)
//   - PORT: Main HTTP server port (default: 8080)
//   - METRICS_PORT: Metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable metrics server (default: true)
//   - FFMPEG_PATH, FFPROBE_PATH: Encoder binaries (default: from PATH)
//   - PROBE_METHOD: ffprobe or ffmpeg (default: ffprobe)
//   - NORMAL_LIMIT_MB, DOCUMENT_LIMIT_MB: Size class budgets (default: 16, 100)
//   - BITRATE_FLOOR_POLICY: clamp or reject (default: clamp)
//   - MAX_UPLOAD_MB: Largest accepted upload (default: 200)
//   - MIN_FREE_MB: Free space kept in reserve on the work volume (default: 512)
//   - MAX_CONCURRENT_JOBS: Encoder slots (default: half the CPUs)
//   - JOB_TTL, JOB_TIMEOUT, HISTORY_RETENTION: Durations
//   - AUTH_USER, AUTH_PASSWORD_HASH: Basic auth (hash from the hashpw command)
//   - MEMORY_LIMIT, MEMORY_RATIO: Container memory limit and heap share for GOMEMLIMIT
//   - LOG_LEVEL: Logging level (debug/info/warn/error)
//
// # Build Requirements
//
// CGO is required for SQLite. FFmpeg must be on PATH at runtime:
//
//	go build -o wa-video-helper ./cmd/wa-video-helper
package main
