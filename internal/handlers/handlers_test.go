package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"wa-video-helper/internal/history"
	"wa-video-helper/internal/jobs"
	"wa-video-helper/internal/transcoder"
	"wa-video-helper/internal/workdir"
)

const artifactBytes = 4096

// stubPipeline encodes instantly, or waits on block when it is set.
type stubPipeline struct {
	block chan struct{}
}

func (p *stubPipeline) ProbeDuration(context.Context, string) (float64, error) {
	return 20, nil
}

func (p *stubPipeline) Plan(duration, targetMB float64) (transcoder.BitratePlan, error) {
	return transcoder.Plan(duration, targetMB, 0)
}

func (p *stubPipeline) Transcode(ctx context.Context, _, dst string, plan transcoder.BitratePlan,
	onProgress func(transcoder.ProgressSample)) (transcoder.TranscodeOutcome, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return transcoder.TranscodeOutcome{}, &transcoder.EncodeError{ExitCode: -1, Err: ctx.Err()}
		}
	}
	onProgress(transcoder.ProgressSample{ElapsedSeconds: 10, FractionComplete: 0.5})

	if err := os.WriteFile(dst, bytes.Repeat([]byte{0x42}, artifactBytes), 0o600); err != nil {
		return transcoder.TranscodeOutcome{}, err
	}
	sizeMB := float64(artifactBytes) / (1024 * 1024)
	return transcoder.TranscodeOutcome{
		Success:      true,
		OutputBytes:  artifactBytes,
		OutputSizeMB: sizeMB,
		WithinBudget: sizeMB <= plan.TargetSizeMB,
	}, nil
}

type testServer struct {
	h       *Handlers
	jobs    *jobs.Manager
	history *history.Store
	router  *mux.Router
	root    string
}

func newTestServer(t *testing.T, pipeline jobs.Pipeline, cfg jobs.Config) *testServer {
	t.Helper()
	root := t.TempDir()

	ws, err := workdir.NewManager(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	store, err := history.Open(context.Background(), filepath.Join(root, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	manager := jobs.NewManager(cfg, pipeline, ws, store)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		_ = store.Close()
	})

	h := New(manager, store, ws, "ffmpeg")
	h.checkFFmpeg = func() error { return nil }

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testServer{h: h, jobs: manager, history: store, router: router, root: root}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// uploadRequest builds a multipart upload. An empty filename omits the file part.
func uploadRequest(t *testing.T, sizeClass, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if sizeClass != "" {
		if err := mw.WriteField("sizeClass", sizeClass); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (s *testServer) waitDone(t *testing.T, id string) jobs.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, http.NoBody))
		if w.Code != http.StatusOK {
			t.Fatalf("GET job: %d %s", w.Code, w.Body.String())
		}
		snap := decode[jobs.Snapshot](t, w)
		if snap.State.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return jobs.Snapshot{}
}

func TestGetSizeClasses(t *testing.T) {
	s := newTestServer(t, &stubPipeline{}, jobs.Config{MaxUploadBytes: 50 << 20})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/size-classes", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[SizeClassesResponse](t, w)
	if len(resp.SizeClasses) != 2 || resp.SizeClasses[0].LimitMB != 16 || resp.SizeClasses[1].LimitMB != 100 {
		t.Errorf("SizeClasses = %+v", resp.SizeClasses)
	}
	if len(resp.AcceptedExtensions) != 4 || resp.MaxUploadBytes != 50<<20 {
		t.Errorf("response = %+v", resp)
	}
}

func TestUploadConvertDownload(t *testing.T) {
	s := newTestServer(t, &stubPipeline{}, jobs.Config{})

	w := s.do(t, uploadRequest(t, "normal", "Beach Day.mov", []byte("fake mov bytes")))
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/jobs = %d %s", w.Code, w.Body.String())
	}
	created := decode[jobs.Snapshot](t, w)
	if w.Header().Get("Location") != "/api/jobs/"+created.ID {
		t.Errorf("Location = %q", w.Header().Get("Location"))
	}

	done := s.waitDone(t, created.ID)
	if done.State != jobs.StateDone || !done.ResultAvailable {
		t.Fatalf("job = %+v", done)
	}

	list := decode[struct {
		Jobs []jobs.Snapshot `json:"jobs"`
	}](t, s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs", http.NoBody)))
	if len(list.Jobs) != 1 || list.Jobs[0].ID != created.ID {
		t.Errorf("GET /api/jobs = %+v", list.Jobs)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/download", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("download = %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="converted_Beach Day.mp4"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if w.Body.Len() != artifactBytes {
		t.Errorf("body = %d bytes, want %d", w.Body.Len(), artifactBytes)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "jobs"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace kept after a complete download: %d entries", len(entries))
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/download", http.NoBody))
	if w.Code != http.StatusGone {
		t.Errorf("second download = %d, want 410", w.Code)
	}

	hist := s.waitHistory(t, 1)
	if hist.Records[0].JobID != created.ID || hist.Records[0].Status != history.StatusDone || hist.Stats.Succeeded != 1 {
		t.Errorf("history = %+v", hist)
	}
}

type historyResponse struct {
	Records []history.Record `json:"records"`
	Stats   history.Stats    `json:"stats"`
}

// waitHistory polls until n records exist. Records are written just after
// the terminal state is published.
func (s *testServer) waitHistory(t *testing.T, n int) historyResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/history", http.NoBody))
		if w.Code != http.StatusOK {
			t.Fatalf("GET /api/history = %d %s", w.Code, w.Body.String())
		}
		resp := decode[historyResponse](t, w)
		if len(resp.Records) >= n {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("history has %d records, want %d", len(resp.Records), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRangeDownloadKeepsResult(t *testing.T) {
	s := newTestServer(t, &stubPipeline{}, jobs.Config{})

	created := decode[jobs.Snapshot](t, s.do(t, uploadRequest(t, "document", "clip.mp4", []byte("data"))))
	s.waitDone(t, created.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/download", http.NoBody)
	req.Header.Set("Range", "bytes=0-99")
	w := s.do(t, req)
	if w.Code != http.StatusPartialContent || w.Body.Len() != 100 {
		t.Fatalf("range download = %d, %d bytes", w.Code, w.Body.Len())
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/download", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("full download after a range request = %d, want 200", w.Code)
	}
}

func TestCreateJobErrors(t *testing.T) {
	s := newTestServer(t, &stubPipeline{}, jobs.Config{MaxUploadBytes: 64})

	notMultipart := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader("{}"))
	notMultipart.Header.Set("Content-Type", "application/json")

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"not multipart", notMultipart, http.StatusBadRequest},
		{"unsupported extension", uploadRequest(t, "normal", "clip.webm", []byte("data")), http.StatusBadRequest},
		{"unknown size class", uploadRequest(t, "tiny", "clip.mp4", []byte("data")), http.StatusBadRequest},
		{"missing file", uploadRequest(t, "normal", "", nil), http.StatusBadRequest},
		{"empty file", uploadRequest(t, "normal", "clip.mp4", nil), http.StatusBadRequest},
		{"too large", uploadRequest(t, "normal", "clip.mp4", bytes.Repeat([]byte("x"), 65)), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if resp := decode[map[string]string](t, w); resp["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestJobLifecycleErrors(t *testing.T) {
	p := &stubPipeline{block: make(chan struct{})}
	s := newTestServer(t, p, jobs.Config{})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown job", http.MethodGet, "/api/jobs/nope", http.StatusNotFound},
		{"cancel unknown job", http.MethodDelete, "/api/jobs/nope", http.StatusNotFound},
		{"download unknown job", http.MethodGet, "/api/jobs/nope/download", http.StatusNotFound},
		{"events for unknown job", http.MethodGet, "/api/jobs/nope/events", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, httptest.NewRequest(tt.method, tt.path, http.NoBody)); w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
			}
		})
	}

	created := decode[jobs.Snapshot](t, s.do(t, uploadRequest(t, "normal", "clip.mp4", []byte("data"))))

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/download", http.NoBody))
	if w.Code != http.StatusConflict {
		t.Errorf("download of running job = %d, want 409", w.Code)
	}

	w = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+created.ID, http.NoBody))
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", w.Code)
	}
	if final := s.waitDone(t, created.ID); final.State != jobs.StateCanceled {
		t.Errorf("state after cancel = %s", final.State)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/download", http.NoBody))
	if w.Code != http.StatusGone {
		t.Errorf("download of canceled job = %d, want 410", w.Code)
	}
}

func TestJobEventsWebsocket(t *testing.T) {
	p := &stubPipeline{block: make(chan struct{})}
	s := newTestServer(t, p, jobs.Config{})
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	created := decode[jobs.Snapshot](t, s.do(t, uploadRequest(t, "normal", "clip.avi", []byte("data"))))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + created.ID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status = %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first jobs.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if first.Type != jobs.EventState || first.Job.ID != created.ID {
		t.Errorf("first event = %+v", first)
	}

	close(p.block)

	var last jobs.Event
	for {
		var ev jobs.Event
		err := conn.ReadJSON(&ev)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("stream ended with %v", err)
			}
			break
		}
		last = ev
	}
	if last.Type != jobs.EventDone || !last.Job.ResultAvailable {
		t.Errorf("last event = %+v", last)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, &stubPipeline{}, jobs.Config{})

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	health := decode[HealthResponse](t, w)
	if health.Status != statusHealthy || !health.Ready || !health.FFmpeg {
		t.Errorf("health = %+v", health)
	}

	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}

	w = s.do(t, httptest.NewRequest(http.MethodHead, "/livez", http.NoBody))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("HEAD livez = %d with %d body bytes", w.Code, w.Body.Len())
	}

	s.h.checkFFmpeg = func() error { return errors.New("exec: \"ffmpeg\": executable file not found in $PATH") }

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health without ffmpeg = %d, want 503", w.Code)
	}
	if health := decode[HealthResponse](t, w); health.Status != statusDegraded || health.FFmpegError == "" {
		t.Errorf("health = %+v", health)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz without ffmpeg = %d, want 503", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["reason"] != "ffmpeg unavailable" {
		t.Errorf("readyz body = %v", resp)
	}

	if w := s.do(t, httptest.NewRequest(http.MethodGet, "/livez", http.NoBody)); w.Code != http.StatusOK {
		t.Errorf("livez must not depend on readiness, got %d", w.Code)
	}
}

func TestGetVersion(t *testing.T) {
	s := newTestServer(t, &stubPipeline{}, jobs.Config{})
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/version", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if info := decode[map[string]string](t, w); info["version"] == "" || info["goVersion"] == "" {
		t.Errorf("version = %v", info)
	}
}

func TestGetHistoryValidation(t *testing.T) {
	s := newTestServer(t, &stubPipeline{}, jobs.Config{})

	for _, limit := range []string{"0", "-3", "ten"} {
		w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/history?limit="+limit, http.NoBody))
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, w.Code)
		}
	}

	s.h.history = nil
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/api/history", http.NoBody))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("without a store: status = %d, want 503", w.Code)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", jobs.ErrUnsupportedFormat), http.StatusBadRequest},
		{transcoder.ErrBudgetUnreachable, http.StatusBadRequest},
		{jobs.ErrUploadTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: 1 MB free", workdir.ErrInsufficientSpace), http.StatusInsufficientStorage},
		{jobs.ErrNotFound, http.StatusNotFound},
		{jobs.ErrNotReady, http.StatusConflict},
		{jobs.ErrResultGone, http.StatusGone},
		{jobs.ErrShuttingDown, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
