package handlers

import (
	"net/http"
	"runtime"
	"time"

	"wa-video-helper/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	FFmpeg      bool   `json:"ffmpeg"`
	FFmpegError string `json:"ffmpegError,omitempty"`

	FreeBytes    int64  `json:"freeBytes"`
	MinFreeBytes uint64 `json:"minFreeBytes"`
	DiskError    string `json:"diskError,omitempty"`

	JobsRetained int `json:"jobsRetained"`
	Workspaces   int `json:"workspaces"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// readiness runs the checks that gate new uploads.
func (h *Handlers) readiness() (ffmpegErr, diskErr error) {
	ffmpegErr = h.checkFFmpeg()
	diskErr = h.workspaces.CheckSpace(0)
	return ffmpegErr, diskErr
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	ffmpegErr, diskErr := h.readiness()
	retained, workspaces := h.jobs.Stats()

	response := HealthResponse{
		Status:       statusHealthy,
		Ready:        ffmpegErr == nil && diskErr == nil,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		FFmpeg:       ffmpegErr == nil,
		FreeBytes:    -1,
		MinFreeBytes: h.workspaces.MinFreeBytes(),
		JobsRetained: retained,
		Workspaces:   workspaces,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if ffmpegErr != nil {
		response.FFmpegError = ffmpegErr.Error()
	}
	if free, err := h.workspaces.FreeBytes(); err == nil {
		response.FreeBytes = int64(free)
	}
	if diskErr != nil {
		response.DiskError = diskErr.Error()
	}

	status := http.StatusOK
	if !response.Ready {
		response.Status = statusDegraded
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when ffmpeg is available and the work
// volume has room for another upload.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	ffmpegErr, diskErr := h.readiness()
	switch {
	case ffmpegErr != nil:
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "ffmpeg unavailable",
		})
	case diskErr != nil:
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "insufficient disk space",
		})
	default:
		writeJSONResponse(w, http.StatusOK, map[string]string{
			"status": "ready",
		})
	}
}
