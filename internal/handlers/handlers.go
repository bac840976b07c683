package handlers

import (
	"context"
	"os/exec"
	"time"

	"github.com/gorilla/websocket"

	"wa-video-helper/internal/history"
	"wa-video-helper/internal/jobs"
	"wa-video-helper/internal/streaming"
	"wa-video-helper/internal/workdir"
)

// HistoryReader is the read side of the job history. *history.Store
// implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Stats(ctx context.Context) (history.Stats, error)
}

type Handlers struct {
	jobs       *jobs.Manager
	history    HistoryReader
	workspaces *workdir.Manager

	ffmpegPath  string
	checkFFmpeg func() error

	upgrader websocket.Upgrader
	download streaming.TimeoutWriterConfig
	started  time.Time
}

// New creates the HTTP handlers. history may be nil, in which case the
// history endpoint reports 503.
func New(jobManager *jobs.Manager, hist HistoryReader, workspaces *workdir.Manager, ffmpegPath string) *Handlers {
	h := &Handlers{
		jobs:       jobManager,
		history:    hist,
		workspaces: workspaces,
		ffmpegPath: ffmpegPath,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		download: streaming.DefaultTimeoutWriterConfig(),
		started:  time.Now(),
	}
	h.checkFFmpeg = func() error {
		_, err := exec.LookPath(h.ffmpegPath)
		return err
	}
	return h
}
