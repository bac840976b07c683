package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"wa-video-helper/internal/logging"
	"wa-video-helper/internal/mediatypes"
	"wa-video-helper/internal/transcoder"
	"wa-video-helper/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

const bytesPerMB = 1024 * 1024

// maxConcurrentJobsCap bounds MAX_CONCURRENT_JOBS and the per-CPU default.
const maxConcurrentJobsCap = 16

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogStaticFiles  bool
	LogHealthChecks bool

	WorkDir     string
	HistoryPath string

	FFmpegPath       string
	FFprobePath      string
	ProbeMethod      transcoder.ProbeMethod
	ScaleWidth       int
	AudioBitrateKbps int
	FloorPolicy      transcoder.FloorPolicy

	NormalLimitMB   float64
	DocumentLimitMB float64

	MaxUploadBytes    int64
	MinFreeBytes      uint64
	MaxConcurrentJobs int
	JobTTL            time.Duration
	JobTimeout        time.Duration
	HistoryRetention  time.Duration

	AuthUser         string
	AuthPasswordHash string
}

// TranscoderOptions returns the encoder settings from the configuration.
func (c *Config) TranscoderOptions() transcoder.Options {
	return transcoder.Options{
		FFmpegPath:       c.FFmpegPath,
		FFprobePath:      c.FFprobePath,
		ProbeMethod:      c.ProbeMethod,
		ScaleWidth:       c.ScaleWidth,
		AudioBitrateKbps: c.AudioBitrateKbps,
		FloorPolicy:      c.FloorPolicy,
	}
}

// SizeClasses returns the offered output size classes.
func (c *Config) SizeClasses() []mediatypes.SizeClass {
	return mediatypes.SizeClasses(c.NormalLimitMB, c.DocumentLimitMB)
}

// AuthEnabled reports whether basic auth protects the API.
func (c *Config) AuthEnabled() bool {
	return c.AuthPasswordHash != ""
}

// LoadDotEnv seeds the environment from a .env file if one exists. Variables
// already set take precedence.
func LoadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Failed to load %s: %v", path, err)
		}
		return
	}
	logging.Info("Loaded environment from %s", path)
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	probeMethod, err := transcoder.ParseProbeMethod(getEnv("PROBE_METHOD", string(transcoder.ProbeFFprobe)))
	if err != nil {
		return nil, err
	}
	floorPolicy, err := transcoder.ParseFloorPolicy(getEnv("BITRATE_FLOOR_POLICY", string(transcoder.FloorClamp)))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		LogStaticFiles:  getEnvBool("LOG_STATIC_FILES", false),
		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", true),

		WorkDir: getEnv("WORK_DIR", "/data"),

		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      getEnv("FFPROBE_PATH", "ffprobe"),
		ProbeMethod:      probeMethod,
		ScaleWidth:       getEnvInt("SCALE_WIDTH", transcoder.DefaultScaleWidth),
		AudioBitrateKbps: getEnvInt("AUDIO_BITRATE_KBPS", transcoder.DefaultAudioBitrateKbps),
		FloorPolicy:      floorPolicy,

		NormalLimitMB:   getEnvFloat("NORMAL_LIMIT_MB", mediatypes.DefaultNormalLimitMB),
		DocumentLimitMB: getEnvFloat("DOCUMENT_LIMIT_MB", mediatypes.DefaultDocumentLimitMB),

		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_MB", 200)) * bytesPerMB,
		MinFreeBytes:      uint64(max(getEnvInt("MIN_FREE_MB", 512), 0)) * bytesPerMB,
		MaxConcurrentJobs: workers.ForEncoder(getEnvInt("MAX_CONCURRENT_JOBS", 0), maxConcurrentJobsCap),
		JobTTL:            getEnvDuration("JOB_TTL", 30*time.Minute),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 0),
		HistoryRetention:  getEnvDuration("HISTORY_RETENTION", 720*time.Hour),

		AuthUser:         getEnv("AUTH_USER", "admin"),
		AuthPasswordHash: os.Getenv("AUTH_PASSWORD_HASH"),
	}

	if config.NormalLimitMB <= 0 || config.DocumentLimitMB <= 0 {
		return nil, fmt.Errorf("size class limits must be positive (NORMAL_LIMIT_MB=%v, DOCUMENT_LIMIT_MB=%v)",
			config.NormalLimitMB, config.DocumentLimitMB)
	}
	if config.JobTTL <= 0 {
		logging.Warn("  JOB_TTL must be positive, using default: 30m")
		config.JobTTL = 30 * time.Minute
	}

	logging.Info("  PORT:                 %s", config.Port)
	logging.Info("  METRICS_PORT:         %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:      %v", config.MetricsEnabled)
	logging.Info("  WORK_DIR:             %s", config.WorkDir)
	logging.Info("  FFMPEG_PATH:          %s", config.FFmpegPath)
	logging.Info("  FFPROBE_PATH:         %s", config.FFprobePath)
	logging.Info("  PROBE_METHOD:         %s", config.ProbeMethod)
	logging.Info("  SCALE_WIDTH:          %d", config.ScaleWidth)
	logging.Info("  AUDIO_BITRATE_KBPS:   %d", config.AudioBitrateKbps)
	logging.Info("  BITRATE_FLOOR_POLICY: %s", config.FloorPolicy)
	logging.Info("  NORMAL_LIMIT_MB:      %.0f", config.NormalLimitMB)
	logging.Info("  DOCUMENT_LIMIT_MB:    %.0f", config.DocumentLimitMB)
	logging.Info("  MAX_UPLOAD_MB:        %d", config.MaxUploadBytes/bytesPerMB)
	logging.Info("  MIN_FREE_MB:          %d", config.MinFreeBytes/bytesPerMB)
	logging.Info("  MAX_CONCURRENT_JOBS:  %d", config.MaxConcurrentJobs)
	logging.Info("  JOB_TTL:              %s", config.JobTTL)
	logging.Info("  JOB_TIMEOUT:          %s", config.JobTimeout)
	logging.Info("  HISTORY_RETENTION:    %s", config.HistoryRetention)
	logging.Info("  AUTH:                 %s", enabledString(config.AuthEnabled()))
	logging.Info("  LOG_STATIC_FILES:     %v", config.LogStaticFiles)
	logging.Info("  LOG_HEALTH_CHECKS:    %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:            %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	workDir, err := filepath.Abs(config.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work directory path: %w", err)
	}
	config.WorkDir = workDir
	config.HistoryPath = filepath.Join(workDir, "history.db")
	logging.Info("  Work directory (absolute): %s", workDir)

	if err := ensureDirectory(workDir, "work"); err != nil {
		return nil, fmt.Errorf("work directory error: %w", err)
	}

	logging.Debug("  Testing work directory write access...")
	if err := testWriteAccess(workDir); err != nil {
		return nil, fmt.Errorf("work directory is not writable (required for uploads): %w", err)
	}
	logging.Info("  [OK] Work directory is writable")

	return config, nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogHistoryInit logs history database initialization
func LogHistoryInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HISTORY INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] History database initialized in %v", duration)
}

// LogTranscoderInit logs transcoder initialization and checks the encoder
// binaries. It returns the first check failure.
func LogTranscoderInit(config *Config) error {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TRANSCODER INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	if err := CheckFFmpeg(config.FFmpegPath); err != nil {
		logging.Warn("  FFmpeg check failed: %v", err)
		logging.Warn("  Uploads will fail until ffmpeg is installed")
		return err
	}
	logging.Info("  [OK] FFmpeg is available")

	if config.ProbeMethod == transcoder.ProbeFFprobe {
		if _, err := exec.LookPath(config.FFprobePath); err != nil {
			logging.Warn("  ffprobe not found: %v", err)
			logging.Warn("  Set PROBE_METHOD=ffmpeg to probe with ffmpeg instead")
			return err
		}
		logging.Info("  [OK] FFprobe is available")
	}

	logging.Info("  Encoder slots: %d", config.MaxConcurrentJobs)
	return nil
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			pathTemplate, err = route.GetPathRegexp()
			if err != nil {
				return nil
			}
		}

		methods, err := route.GetMethods()
		if err != nil {
			// Route might not have methods specified (e.g., static file server)
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logStaticFiles, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logStaticFiles {
		logging.Info("    Static file logging: ON")
	} else {
		logging.Info("    Static file logging: OFF (set LOG_STATIC_FILES=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return ""
	}

	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

func printBanner() {
	banner := `
------------------------------------------------------------
 _       __ ___       _    __ _     __
| |     / //   |     | |  / /(_)___/ /__  ____
| | /| / // /| |_____| | / // // __  / _ \/ __ \
| |/ |/ // ___ /_____/ |/ // // /_/ /  __/ /_/ /
|__/|__//_/  |_|     |___//_/ \__,_/\___/\____/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// CheckFFmpeg verifies that the ffmpeg binary at path runs.
func CheckFFmpeg(path string) error {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", path)
	}
	logging.Debug("  FFmpeg path: %s", resolved)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, resolved, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	if line, _, _ := strings.Cut(string(output), "\n"); line != "" {
		logging.Debug("  FFmpeg version: %s", strings.TrimSpace(line))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		logging.Warn("Invalid number for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration for %s: %q, using default: %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
