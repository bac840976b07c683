package startup

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"wa-video-helper/internal/transcoder"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.OS == "" || info.Arch == "" {
		t.Error("Expected OS and Arch to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

// clearConfigEnv unsets every variable LoadConfig reads.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "METRICS_PORT", "METRICS_ENABLED", "WORK_DIR", "FFMPEG_PATH", "FFPROBE_PATH",
		"PROBE_METHOD", "SCALE_WIDTH", "AUDIO_BITRATE_KBPS", "BITRATE_FLOOR_POLICY",
		"NORMAL_LIMIT_MB", "DOCUMENT_LIMIT_MB", "MAX_UPLOAD_MB", "MIN_FREE_MB",
		"MAX_CONCURRENT_JOBS", "JOB_TTL", "JOB_TIMEOUT", "HISTORY_RETENTION",
		"AUTH_USER", "AUTH_PASSWORD_HASH", "LOG_STATIC_FILES", "LOG_HEALTH_CHECKS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	workDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("WORK_DIR", workDir)

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Port != "8080" || config.MetricsPort != "9090" || !config.MetricsEnabled {
		t.Errorf("unexpected ports: %+v", config)
	}
	if config.WorkDir != workDir {
		t.Errorf("WorkDir = %s, want %s", config.WorkDir, workDir)
	}
	if config.HistoryPath != filepath.Join(workDir, "history.db") {
		t.Errorf("HistoryPath = %s", config.HistoryPath)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		t.Errorf("work directory not created: %v", err)
	}
	if config.ProbeMethod != transcoder.ProbeFFprobe || config.FloorPolicy != transcoder.FloorClamp {
		t.Errorf("ProbeMethod=%s FloorPolicy=%s", config.ProbeMethod, config.FloorPolicy)
	}
	if config.NormalLimitMB != 16 || config.DocumentLimitMB != 100 {
		t.Errorf("limits = %v/%v, want 16/100", config.NormalLimitMB, config.DocumentLimitMB)
	}
	if config.MaxUploadBytes != 200*bytesPerMB || config.MinFreeBytes != 512*bytesPerMB {
		t.Errorf("MaxUploadBytes=%d MinFreeBytes=%d", config.MaxUploadBytes, config.MinFreeBytes)
	}
	if config.MaxConcurrentJobs < 1 {
		t.Errorf("MaxConcurrentJobs = %d, want >= 1", config.MaxConcurrentJobs)
	}
	if config.JobTTL != 30*time.Minute || config.JobTimeout != 0 || config.HistoryRetention != 720*time.Hour {
		t.Errorf("durations: ttl=%s timeout=%s retention=%s", config.JobTTL, config.JobTimeout, config.HistoryRetention)
	}
	if config.AuthEnabled() {
		t.Error("auth should be off without AUTH_PASSWORD_HASH")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("WORK_DIR", t.TempDir())
	t.Setenv("PROBE_METHOD", "FFMPEG")
	t.Setenv("BITRATE_FLOOR_POLICY", "reject")
	t.Setenv("NORMAL_LIMIT_MB", "15.5")
	t.Setenv("MAX_CONCURRENT_JOBS", "3")
	t.Setenv("JOB_TIMEOUT", "10m")
	t.Setenv("SCALE_WIDTH", "480")
	t.Setenv("AUTH_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.ProbeMethod != transcoder.ProbeFFmpeg {
		t.Errorf("ProbeMethod = %s", config.ProbeMethod)
	}
	if config.FloorPolicy != transcoder.FloorReject {
		t.Errorf("FloorPolicy = %s", config.FloorPolicy)
	}
	if config.MaxConcurrentJobs != 3 || config.JobTimeout != 10*time.Minute {
		t.Errorf("MaxConcurrentJobs=%d JobTimeout=%s", config.MaxConcurrentJobs, config.JobTimeout)
	}
	if !config.AuthEnabled() || config.AuthUser != "admin" {
		t.Errorf("auth: enabled=%v user=%s", config.AuthEnabled(), config.AuthUser)
	}

	classes := config.SizeClasses()
	if len(classes) != 2 || classes[0].LimitMB != 15.5 || classes[1].LimitMB != 100 {
		t.Errorf("SizeClasses() = %+v", classes)
	}

	opts := config.TranscoderOptions()
	if opts.ScaleWidth != 480 || opts.ProbeMethod != transcoder.ProbeFFmpeg || opts.FFmpegPath != "ffmpeg" {
		t.Errorf("TranscoderOptions() = %+v", opts)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"probe method", "PROBE_METHOD", "mediainfo"},
		{"floor policy", "BITRATE_FLOOR_POLICY", "ignore"},
		{"size limit", "NORMAL_LIMIT_MB", "-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("WORK_DIR", t.TempDir())
			t.Setenv(tt.key, tt.val)

			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() with %s=%q succeeded", tt.key, tt.val)
			}
		})
	}
}

func TestLoadConfigWorkDirIsFile(t *testing.T) {
	clearConfigEnv(t)
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WORK_DIR", file)

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() accepted a regular file as WORK_DIR")
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("WA_DOTENV_SET", "")
	os.Unsetenv("WA_DOTENV_SET")
	t.Setenv("WA_DOTENV_KEEP", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	content := "WA_DOTENV_SET=from-file\nWA_DOTENV_KEEP=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("WA_DOTENV_SET") })

	LoadDotEnv(path)

	if got := os.Getenv("WA_DOTENV_SET"); got != "from-file" {
		t.Errorf("WA_DOTENV_SET = %q, want from-file", got)
	}
	if got := os.Getenv("WA_DOTENV_KEEP"); got != "from-env" {
		t.Errorf("WA_DOTENV_KEEP = %q, existing variables must win", got)
	}

	// A missing file is not an error.
	LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
}

func TestGetRoutes(t *testing.T) {
	router := mux.NewRouter()
	noop := func(http.ResponseWriter, *http.Request) {}
	router.HandleFunc("/api/jobs", noop).Methods(http.MethodGet, http.MethodPost).Name("jobs")
	router.HandleFunc("/api/jobs/{id}", noop).Methods(http.MethodDelete)

	routes, err := GetRoutes(router)
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("got %d routes, want 3: %+v", len(routes), routes)
	}
	if routes[0].Name != "jobs" || routes[2].Path != "/api/jobs/{id}" || routes[2].Method != http.MethodDelete {
		t.Errorf("unexpected routes %+v", routes)
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/jobs/{id}/events", "api/jobs"},
		{"/api/history", "api/history"},
		{"/healthz", "healthz"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := getRouteGroup(tt.path); got != tt.want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCheckFFmpegMissing(t *testing.T) {
	if err := CheckFFmpeg("definitely-not-an-ffmpeg-binary"); err == nil {
		t.Error("CheckFFmpeg() succeeded for a missing binary")
	}
}
