package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"wa-video-helper/internal/handlers"
	"wa-video-helper/internal/history"
	"wa-video-helper/internal/jobs"
	"wa-video-helper/internal/logging"
	"wa-video-helper/internal/memory"
	"wa-video-helper/internal/metrics"
	"wa-video-helper/internal/middleware"
	"wa-video-helper/internal/startup"
	"wa-video-helper/internal/transcoder"
	"wa-video-helper/internal/workdir"
)

const (
	staticDir = "./static"

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 30 * time.Second

	metricsInterval = 30 * time.Second
	pruneInterval   = 1 * time.Hour

	// Every workspace found at startup belongs to a previous run.
	staleWorkspaceAge = 0 * time.Second
)

// statsAdapter feeds the metrics collector from the live components.
type statsAdapter struct {
	jobs       jobStats
	workspaces freeSpace
	history    historyCounter
}

type jobStats interface {
	Stats() (retained, workspaces int)
}

type freeSpace interface {
	FreeBytes() (uint64, error)
}

type historyCounter interface {
	Count(ctx context.Context) (int64, error)
}

// GetStats implements metrics.StatsProvider
func (a *statsAdapter) GetStats() metrics.Stats {
	stats := metrics.Stats{FreeBytes: -1, HistoryRecords: -1}
	stats.JobsRetained, stats.WorkspacesActive = a.jobs.Stats()

	if free, err := a.workspaces.FreeBytes(); err == nil {
		stats.FreeBytes = int64(free)
	}
	if a.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if n, err := a.history.Count(ctx); err == nil {
			stats.HistoryRecords = n
		}
	}
	return stats
}

func main() {
	startTime := time.Now()

	startup.LoadDotEnv(".env")
	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	metrics.InitializeMetrics(sizeClassNames(config),
		[]string{string(transcoder.ProbeFFprobe), string(transcoder.ProbeFFmpeg)})
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)

	// Initialize history
	historyStart := time.Now()
	store, err := history.Open(context.Background(), config.HistoryPath)
	if err != nil {
		logging.Fatal("Failed to open history database: %v", err)
	}
	startup.LogHistoryInit(time.Since(historyStart))

	stopPrune := make(chan struct{})
	go pruneHistory(store, config.HistoryRetention, stopPrune)

	// Initialize workspaces; anything left on disk is from a previous run
	workspaces, err := workdir.NewManager(config.WorkDir, config.MinFreeBytes)
	if err != nil {
		logging.Fatal("Failed to initialize work directory: %v", err)
	}
	if _, err := workspaces.Sweep(staleWorkspaceAge); err != nil {
		logging.Warn("Failed to sweep stale workspaces: %v", err)
	}

	// Initialize transcoder. A missing ffmpeg is reported by /readyz rather
	// than stopping the server.
	trans := transcoder.New(transcoder.ExecRunner{}, config.TranscoderOptions())
	_ = startup.LogTranscoderInit(config)

	jobManager := jobs.NewManager(jobs.Config{
		SizeClasses:    config.SizeClasses(),
		MaxUploadBytes: config.MaxUploadBytes,
		MaxConcurrent:  config.MaxConcurrentJobs,
		ResultTTL:      config.JobTTL,
		Timeout:        config.JobTimeout,
		ProbeMethod:    string(config.ProbeMethod),
	}, trans, workspaces, store)
	jobManager.Start()

	collector := metrics.NewCollector(&statsAdapter{
		jobs:       jobManager,
		workspaces: workspaces,
		history:    store,
	}, metricsInterval)
	collector.Start()

	h := handlers.New(jobManager, store, workspaces, config.FFmpegPath)
	router := setupRouter(h)

	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	var handler http.Handler = router
	handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	handler = middleware.Logger(loggingConfig)(handler)
	handler = middleware.BasicAuth(middleware.DefaultAuthConfig(config.AuthUser, config.AuthPasswordHash))(handler)

	// WriteTimeout stays zero: downloads and progress sockets outlive any
	// fixed deadline.
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort, h.MetricsHandler())
		go func() {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go handleShutdown(srv, metricsSrv, jobManager, collector, stopPrune)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("Server error: %v", err)
	}

	// ListenAndServe returns as soon as Shutdown begins; wait for the rest.
	<-shutdownDone

	startup.LogShutdownStep("Closing history database")
	if err := store.Close(); err != nil {
		logging.Warn("History close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("History database closed")
	}
	startup.LogShutdownComplete()
}

func sizeClassNames(config *startup.Config) []string {
	classes := config.SizeClasses()
	names := make([]string, 0, len(classes))
	for _, c := range classes {
		names = append(names, string(c.Name))
	}
	return names
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	h.RegisterRoutes(r)

	r.HandleFunc("/", serveStaticFile(staticDir+"/index.html", "text/html; charset=utf-8")).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))

	return r
}

// serveStaticFile serves one file with a fixed content type.
func serveStaticFile(path, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

func newMetricsServer(port string, metricsHandler http.Handler) *http.Server {
	serveMux := http.NewServeMux()
	serveMux.Handle("/metrics", metricsHandler)
	serveMux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              ":" + port,
		Handler:           serveMux,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       idleTimeout,
	}
}

func pruneHistory(store *history.Store, retention time.Duration, stop <-chan struct{}) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		prune(store, retention)
		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

func prune(store *history.Store, retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := store.Prune(ctx, time.Now().Add(-retention)); err != nil {
		logging.Warn("History prune failed: %v", err)
	}
}

var shutdownDone = make(chan struct{})

func handleShutdown(srv, metricsSrv *http.Server, jobManager *jobs.Manager, collector *metrics.Collector, stopPrune chan struct{}) {
	defer close(shutdownDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Canceling jobs and removing workspaces")
	if err := jobManager.Shutdown(ctx); err != nil {
		logging.Warn("Job shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Jobs stopped")
	}

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	close(stopPrune)
	startup.LogShutdownStepComplete("Metrics collector stopped")

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}
}
