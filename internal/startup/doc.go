// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig],
// optionally seeded from a .env file with [LoadDotEnv]:
//
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable the metrics server (default: true)
//   - WORK_DIR: Upload workspaces and the history database (default: /data)
//   - FFMPEG_PATH, FFPROBE_PATH: Encoder binaries (default: ffmpeg, ffprobe)
//   - PROBE_METHOD: ffprobe or ffmpeg (default: ffprobe)
//   - SCALE_WIDTH: Output width in pixels (default: 640)
//   - AUDIO_BITRATE_KBPS: AAC bitrate (default: 128)
//   - BITRATE_FLOOR_POLICY: clamp or reject (default: clamp)
//   - NORMAL_LIMIT_MB, DOCUMENT_LIMIT_MB: Size class budgets (default: 16, 100)
//   - MAX_UPLOAD_MB: Largest accepted upload, 0 for none (default: 200)
//   - MIN_FREE_MB: Free space kept on the work volume (default: 512)
//   - MAX_CONCURRENT_JOBS: Encoder slots, 0 for one per two CPUs (default: 0)
//   - JOB_TTL: How long a finished result waits for download (default: 30m)
//   - JOB_TIMEOUT: Per-job limit, 0 for none (default: 0)
//   - HISTORY_RETENTION: Age at which history records are pruned (default: 720h)
//   - AUTH_USER, AUTH_PASSWORD_HASH: Basic auth; empty hash disables it
//   - LOG_LEVEL, DEBUG: Logging level
//   - LOG_STATIC_FILES, LOG_HEALTH_CHECKS: Access log filtering
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
// [LogHistoryInit], [LogTranscoderInit], [LogHTTPRoutes], [LogServerStarted]
// and the shutdown helpers print the sectioned startup and shutdown log.
package startup
