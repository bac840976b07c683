package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"wa-video-helper/internal/jobs"
	"wa-video-helper/internal/logging"
	"wa-video-helper/internal/mediatypes"
	"wa-video-helper/internal/streaming"
)

const (
	// multipartOverhead is allowed on top of the upload limit for boundaries
	// and the other form fields.
	multipartOverhead = 1 << 20

	maxFieldBytes = 256

	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
)

var errFileFieldMissing = errors.New("multipart field \"file\" is required")

// SizeClassesResponse describes what the upload form may offer.
type SizeClassesResponse struct {
	SizeClasses        []mediatypes.SizeClass `json:"sizeClasses"`
	AcceptedExtensions []string               `json:"acceptedExtensions"`
	MaxUploadBytes     int64                  `json:"maxUploadBytes"`
}

// GetSizeClasses lists the output size classes and accepted upload types.
// GET /api/size-classes
func (h *Handlers) GetSizeClasses(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, SizeClassesResponse{
		SizeClasses:        h.jobs.SizeClasses(),
		AcceptedExtensions: mediatypes.AcceptedExtensions(),
		MaxUploadBytes:     h.jobs.MaxUploadBytes(),
	})
}

// CreateJob streams a multipart upload into a new job.
// POST /api/jobs (fields: sizeClass, then file)
//
// The size class may also be given as the sizeClass query parameter. The file
// part is consumed as it arrives, so any form field after it is ignored.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if limit := h.jobs.MaxUploadBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeJSONError(w, "expected a multipart/form-data upload", http.StatusBadRequest)
		return
	}

	sizeClass := r.URL.Query().Get("sizeClass")
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, fmt.Errorf("%w: %w", jobs.ErrEmptyUpload, errFileFieldMissing))
			return
		}
		if err != nil {
			writeUploadError(w, err)
			return
		}

		switch part.FormName() {
		case "sizeClass":
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				writeUploadError(w, err)
				return
			}
			sizeClass = strings.TrimSpace(string(value))

		case "file":
			if sizeClass == "" {
				sizeClass = string(mediatypes.SizeClassNormal)
			}
			snap, err := h.jobs.Submit(part, part.FileName(), sizeClass, -1)
			if err != nil {
				writeUploadError(w, err)
				return
			}
			w.Header().Set("Location", "/api/jobs/"+snap.ID)
			writeJSONResponse(w, http.StatusAccepted, snap)
			return
		}
		_ = part.Close()
	}
}

// writeUploadError reports a failed upload. A body cut off by the size limit
// surfaces as a read error wrapped in the manager's error.
func writeUploadError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeJSONError(w, fmt.Sprintf("%v: limit is %d MB", jobs.ErrUploadTooLarge,
			(maxBytesErr.Limit-multipartOverhead)/(1024*1024)), http.StatusRequestEntityTooLarge)
		return
	}
	writeError(w, err)
}

// ListJobs returns every retained job, newest first.
// GET /api/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"jobs": h.jobs.List(),
	})
}

// GetJob returns one job's state.
// GET /api/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, snap)
}

// CancelJob stops a running job or discards a finished one.
// DELETE /api/jobs/{id}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Cancel(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadJob serves the converted artifact. Once the whole file has been
// sent the job's workspace is deleted; range, stalled and interrupted downloads
// keep it until the result expires.
// GET /api/jobs/{id}/download
func (h *Handlers) DownloadJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.jobs.OpenResult(id)
	if err != nil {
		writeError(w, err)
		return
	}

	tw := streaming.NewTimeoutWriter(r.Context(), w, h.download)
	defer func() {
		_ = tw.Close()
		written, elapsed := tw.Stats()
		completed := r.Method != http.MethodHead && tw.Status() == http.StatusOK && written == result.Size
		if !completed && r.Method != http.MethodHead && tw.Status() == http.StatusOK {
			logging.Info("Job %s: download stopped after %d of %d bytes (%v)", id, written, result.Size, elapsed.Round(time.Millisecond))
		}
		if err := result.Close(completed); err != nil {
			logging.Warn("Job %s: failed to close result: %v", id, err)
		}
	}()

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": result.Name,
	}))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	http.ServeContent(tw, r, result.Name, result.ModTime, result.Content())
}

// JobEvents streams a job's progress over a websocket until the job finishes
// or the client goes away.
// GET /api/jobs/{id}/events
func (h *Handlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	events, unsubscribe, err := h.jobs.Subscribe(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Debug("Job %s: websocket upgrade failed: %v", id, err)
		return
	}
	defer conn.Close()

	// The reader only watches for the client closing the socket.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxFieldBytes)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logging.Debug("Job %s: websocket write failed: %v", id, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// GetHistory returns recent finished jobs and totals.
// GET /api/history?limit=N
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSONError(w, "history is not available", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	ctx := r.Context()
	records, err := h.history.Recent(ctx, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.history.Stats(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"stats":   stats,
	})
}
