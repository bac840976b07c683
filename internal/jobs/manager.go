package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wa-video-helper/internal/history"
	"wa-video-helper/internal/logging"
	"wa-video-helper/internal/mediatypes"
	"wa-video-helper/internal/metrics"
	"wa-video-helper/internal/transcoder"
	"wa-video-helper/internal/workdir"
)

const (
	// DefaultResultTTL is how long a finished result waits for its download.
	DefaultResultTTL = 30 * time.Minute

	recordTimeout = 5 * time.Second
	bytesPerMB    = 1024 * 1024
)

const clampWarning = "the selected size is too small for this video's length; " +
	"the result will likely be larger than the limit"

// Pipeline is the transcode capability a job runs. *transcoder.Transcoder
// implements it.
type Pipeline interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Plan(durationSeconds, targetSizeMB float64) (transcoder.BitratePlan, error)
	Transcode(ctx context.Context, sourcePath, outputPath string, plan transcoder.BitratePlan,
		onProgress func(transcoder.ProgressSample)) (transcoder.TranscodeOutcome, error)
}

// Recorder persists finished jobs. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// Config holds the Manager's limits.
type Config struct {
	SizeClasses    []mediatypes.SizeClass
	MaxUploadBytes int64         // 0 = unlimited
	MaxConcurrent  int           // encoder slots, at least 1
	ResultTTL      time.Duration // finished jobs are forgotten after this
	Timeout        time.Duration // per-job limit, 0 = none
	ProbeMethod    string        // metrics label
	ReapInterval   time.Duration
}

// Manager owns every job from upload to expiry. Each job runs probe, plan and
// encode in its own goroutine; at most MaxConcurrent encoders run at once.
type Manager struct {
	cfg        Config
	pipeline   Pipeline
	workspaces *workdir.Manager
	recorder   Recorder

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool

	now func() time.Time
}

// NewManager creates a Manager. recorder may be nil.
func NewManager(cfg Config, pipeline Pipeline, workspaces *workdir.Manager, recorder Recorder) *Manager {
	if len(cfg.SizeClasses) == 0 {
		cfg.SizeClasses = mediatypes.SizeClasses(mediatypes.DefaultNormalLimitMB, mediatypes.DefaultDocumentLimitMB)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = min(max(cfg.ResultTTL/4, time.Second), time.Minute)
	}
	if cfg.ProbeMethod == "" {
		cfg.ProbeMethod = string(transcoder.ProbeFFprobe)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		pipeline:   pipeline,
		workspaces: workspaces,
		recorder:   recorder,
		ctx:        ctx,
		cancel:     cancel,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		jobs:       make(map[string]*job),
		now:        time.Now,
	}
}

// Start launches the background reaper that expires finished jobs.
func (m *Manager) Start() {
	go m.reapLoop()
}

// SizeClasses returns the offered size classes.
func (m *Manager) SizeClasses() []mediatypes.SizeClass {
	return append([]mediatypes.SizeClass(nil), m.cfg.SizeClasses...)
}

// MaxUploadBytes returns the upload limit, 0 meaning unlimited.
func (m *Manager) MaxUploadBytes() int64 {
	return m.cfg.MaxUploadBytes
}

// Submit stores upload in a new workspace and starts its job. sizeHint is
// the expected upload length, or a value <= 0 if unknown.
func (m *Manager) Submit(upload io.Reader, filename, sizeClass string, sizeHint int64) (Snapshot, error) {
	if m.isClosed() {
		return Snapshot{}, ErrShuttingDown
	}

	name := mediatypes.CleanFilename(filename)
	if !mediatypes.IsUploadExtension(name) {
		return Snapshot{}, fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedFormat, name,
			strings.Join(mediatypes.AcceptedExtensions(), ", "))
	}

	class, ok := mediatypes.LookupSizeClass(m.cfg.SizeClasses, sizeClass)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownSizeClass, sizeClass)
	}

	limit := m.cfg.MaxUploadBytes
	if limit > 0 && sizeHint > limit {
		return Snapshot{}, fmt.Errorf("%w: limit is %d MB", ErrUploadTooLarge, limit/bytesPerMB)
	}

	// Room for the upload plus an artifact as large as the budget.
	expected := sizeHint
	if expected <= 0 {
		expected = limit
	}
	need := max(expected, 0) + int64(class.LimitMB*bytesPerMB)
	if err := m.workspaces.CheckSpace(uint64(need)); err != nil {
		return Snapshot{}, err
	}

	ws, err := m.workspaces.New(name)
	if err != nil {
		return Snapshot{}, err
	}

	n, err := receive(upload, ws.SourcePath, limit)
	if err != nil {
		_ = ws.Close()
		return Snapshot{}, err
	}

	jobCtx, cancel := context.WithCancel(m.ctx)
	j := &job{
		snap: Snapshot{
			ID:           uuid.NewString(),
			Filename:     name,
			DownloadName: mediatypes.DownloadName(name),
			SizeClass:    class,
			State:        StateQueued,
			UploadBytes:  n,
			CreatedAt:    m.now(),
		},
		ws:     ws,
		ctx:    jobCtx,
		cancel: cancel,
		subs:   make(map[chan Event]struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = ws.Close()
		return Snapshot{}, ErrShuttingDown
	}
	m.jobs[j.snap.ID] = j
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.UploadBytes.Observe(float64(n))
	metrics.JobsQueued.Inc()
	logging.Info("Job %s accepted: %q (%.1f MB) as %s (limit %.0f MB)",
		j.snap.ID, name, float64(n)/bytesPerMB, class.Name, class.LimitMB)

	go m.run(j)
	return j.snapshot(), nil
}

// receive copies upload to path, enforcing limit (0 = none).
func receive(upload io.Reader, path string, limit int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}

	src := upload
	if limit > 0 {
		src = io.LimitReader(upload, limit+1)
	}
	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to store upload: %w", err)
	}
	if limit > 0 && n > limit {
		return n, fmt.Errorf("%w: limit is %d MB", ErrUploadTooLarge, limit/bytesPerMB)
	}
	if n == 0 {
		return 0, ErrEmptyUpload
	}
	return n, nil
}

func (m *Manager) run(j *job) {
	defer m.wg.Done()
	defer j.cancel()

	select {
	case m.sem <- struct{}{}:
	case <-j.ctx.Done():
		metrics.JobsQueued.Dec()
		m.fail(j.ctx, j, j.ctx.Err(), metrics.FailureCanceled)
		return
	}
	defer func() { <-m.sem }()

	metrics.JobsQueued.Dec()
	metrics.JobsInProgress.Inc()
	defer metrics.JobsInProgress.Dec()

	ctx := j.ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	src, out := j.ws.SourcePath, j.ws.OutputPath
	limitMB := j.snapshot().SizeClass.LimitMB

	j.update(EventState, func(s *Snapshot) { s.State = StateProbing })

	probeStart := time.Now()
	duration, err := m.pipeline.ProbeDuration(ctx, src)
	metrics.ProbeDuration.WithLabelValues(m.cfg.ProbeMethod).Observe(time.Since(probeStart).Seconds())
	if err != nil {
		metrics.ProbeErrorsTotal.WithLabelValues(m.cfg.ProbeMethod).Inc()
		m.fail(ctx, j, err, metrics.FailureProbe)
		return
	}

	plan, err := m.pipeline.Plan(duration, limitMB)
	if err != nil {
		m.fail(ctx, j, err, metrics.FailurePlan)
		return
	}
	metrics.PlannedVideoBitrate.Observe(float64(plan.VideoBitrateKbps))
	if plan.Clamped {
		metrics.BitrateFloorClampsTotal.Inc()
	}

	j.update(EventState, func(s *Snapshot) {
		s.State = StateEncoding
		s.DurationSeconds = duration
		s.Plan = &plan
		if plan.Clamped {
			s.Warning = clampWarning
		}
	})
	logging.Info("Job %s encoding %.1fs at %d kbps video / %d kbps audio",
		j.snap.ID, duration, plan.VideoBitrateKbps, plan.AudioBitrateKbps)

	encodeStart := time.Now()
	outcome, err := m.pipeline.Transcode(ctx, src, out, plan, func(sample transcoder.ProgressSample) {
		j.update(EventProgress, func(s *Snapshot) { s.Progress = sample })
	})
	if err != nil {
		m.fail(ctx, j, err, encodeFailureReason(err))
		return
	}
	metrics.EncodeDuration.Observe(time.Since(encodeStart).Seconds())

	m.succeed(j, plan, outcome)
}

func (m *Manager) succeed(j *job, plan transcoder.BitratePlan, outcome transcoder.TranscodeOutcome) {
	// The source is no longer needed once the artifact exists.
	if err := os.Remove(j.ws.SourcePath); err != nil && !os.IsNotExist(err) {
		logging.Warn("Job %s: failed to remove source early: %v", j.snap.ID, err)
	}

	finished := m.now()
	expires := finished.Add(m.cfg.ResultTTL)

	j.update(EventDone, func(s *Snapshot) {
		s.State = StateDone
		s.Outcome = &outcome
		s.Progress.FractionComplete = 1
		s.Progress.ElapsedSeconds = max(s.Progress.ElapsedSeconds, s.DurationSeconds)
		if outcome.Warning != nil {
			s.Warning = outcome.Warning.String()
		}
		s.ResultAvailable = true
		s.FinishedAt = &finished
		s.ExpiresAt = &expires
	})

	snap := j.snapshot()
	class := string(snap.SizeClass.Name)
	metrics.EncodeOutputRatio.Observe(outcome.OutputSizeMB / plan.TargetSizeMB)
	if !outcome.WithinBudget {
		metrics.BudgetMissesTotal.WithLabelValues(class).Inc()
	}
	metrics.JobsTotal.WithLabelValues(class, metrics.StatusDone).Inc()
	metrics.JobDuration.WithLabelValues(class).Observe(finished.Sub(snap.CreatedAt).Seconds())

	if outcome.WithinBudget {
		logging.Info("Job %s done: %.2f MB of %.0f MB", snap.ID, outcome.OutputSizeMB, plan.TargetSizeMB)
	} else {
		logging.Warn("Job %s done over budget: %s", snap.ID, snap.Warning)
	}

	m.record(snap)
}

func (m *Manager) fail(ctx context.Context, j *job, err error, reason string) {
	state, typ, status := StateFailed, EventFailed, metrics.StatusFailed
	msg, diag := describeFailure(err)

	switch {
	case errors.Is(j.ctx.Err(), context.Canceled):
		state, typ, status = StateCanceled, EventCanceled, metrics.StatusCanceled
		reason = metrics.FailureCanceled
		msg, diag = "canceled", ""
		j.mu.Lock()
		byUser := j.canceledByUser
		j.mu.Unlock()
		if !byUser {
			msg = "canceled: server shutting down"
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = metrics.FailureTimeout
		msg = fmt.Sprintf("timed out after %s", m.cfg.Timeout)
	}

	finished := m.now()
	expires := finished.Add(m.cfg.ResultTTL)
	j.update(typ, func(s *Snapshot) {
		s.State = state
		s.Error = msg
		s.Diagnostic = diag
		s.FinishedAt = &finished
		s.ExpiresAt = &expires
	})
	m.releaseWorkspace(j, false)

	snap := j.snapshot()
	metrics.EncodeFailuresTotal.WithLabelValues(reason).Inc()
	metrics.JobsTotal.WithLabelValues(string(snap.SizeClass.Name), status).Inc()

	if state == StateCanceled {
		logging.Info("Job %s %s", snap.ID, msg)
	} else {
		logging.Error("Job %s failed (%s): %v", snap.ID, reason, err)
	}

	m.record(snap)
}

func describeFailure(err error) (msg, diag string) {
	var (
		probeErr  *transcoder.ProbeError
		encodeErr *transcoder.EncodeError
	)
	switch {
	case errors.As(err, &probeErr):
		return "could not read the video duration; is this a valid video file?", probeErr.Diagnostic
	case errors.Is(err, transcoder.ErrInvalidInput):
		return err.Error(), ""
	case errors.As(err, &encodeErr):
		if encodeErr.ExitCode > 0 {
			return fmt.Sprintf("encoder exited with status %d", encodeErr.ExitCode), encodeErr.Diagnostic
		}
		if encodeErr.Err != nil {
			return "encoding failed: " + encodeErr.Err.Error(), encodeErr.Diagnostic
		}
		return "encoding failed", encodeErr.Diagnostic
	default:
		return err.Error(), ""
	}
}

func encodeFailureReason(err error) string {
	var encodeErr *transcoder.EncodeError
	if errors.As(err, &encodeErr) && encodeErr.ExitCode == 0 {
		return metrics.FailureMissingOutput
	}
	return metrics.FailureExit
}

func (m *Manager) record(snap Snapshot) {
	if m.recorder == nil {
		return
	}

	rec := history.Record{
		JobID:           snap.ID,
		Filename:        snap.Filename,
		SizeClass:       string(snap.SizeClass.Name),
		TargetSizeMB:    snap.SizeClass.LimitMB,
		DurationSeconds: snap.DurationSeconds,
		Status:          string(snap.State),
		Error:           snap.Error,
		CreatedAt:       snap.CreatedAt,
	}
	if snap.Plan != nil {
		rec.VideoBitrateKbps = snap.Plan.VideoBitrateKbps
		rec.Clamped = snap.Plan.Clamped
	}
	if snap.Outcome != nil {
		rec.OutputSizeMB = snap.Outcome.OutputSizeMB
		rec.WithinBudget = snap.Outcome.WithinBudget
	}
	if snap.FinishedAt != nil {
		rec.ElapsedSeconds = snap.FinishedAt.Sub(snap.CreatedAt).Seconds()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.Record(ctx, rec); err != nil {
		logging.Error("Job %s: failed to record history: %v", snap.ID, err)
	}
}

// releaseWorkspace deletes the job's files unless a download is in progress.
// force ignores running downloads. It reports whether this call released it.
func (m *Manager) releaseWorkspace(j *job, force bool) bool {
	j.mu.Lock()
	if j.released || (j.downloads > 0 && !force) {
		j.mu.Unlock()
		return false
	}
	j.released = true
	j.snap.ResultAvailable = false
	j.mu.Unlock()

	if err := j.ws.Close(); err != nil {
		logging.Warn("Job %s: %v", j.snap.ID, err)
	}
	return true
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) lookup(id string) (*job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
}

// Get returns the current state of a job.
func (m *Manager) Get(id string) (Snapshot, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// List returns every retained job, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	all := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		all = append(all, j)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(all))
	for _, j := range all {
		snaps = append(snaps, j.snapshot())
	}
	sort.Slice(snaps, func(a, b int) bool {
		return snaps[a].CreatedAt.After(snaps[b].CreatedAt)
	})
	return snaps
}

// Subscribe streams a job's events. The channel starts with the current
// state and is closed after the terminal event or when cancel is called.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	events, cancel := j.subscribe()
	return events, cancel, nil
}

// Cancel stops a queued or running job. A finished job is discarded and its
// result deleted.
func (m *Manager) Cancel(id string) error {
	j, err := m.lookup(id)
	if err != nil {
		return err
	}

	j.mu.Lock()
	if !j.snap.State.Terminal() {
		j.canceledByUser = true
		j.mu.Unlock()
		logging.Info("Job %s cancel requested", id)
		j.cancel()
		return nil
	}
	j.discarded = true
	j.mu.Unlock()

	m.remove(id)
	m.releaseWorkspace(j, false)
	logging.Info("Job %s discarded", id)
	return nil
}

// Result is an open handle on a finished artifact.
type Result struct {
	Name     string
	MimeType string
	Size     int64
	ModTime  time.Time

	file *os.File
	once sync.Once
	done func(completed bool)
}

// Content returns the artifact for reading and seeking.
func (r *Result) Content() io.ReadSeeker {
	return r.file
}

// Close releases the handle. completed reports whether the whole artifact
// reached the client, in which case the workspace is deleted.
func (r *Result) Close(completed bool) error {
	var err error
	r.once.Do(func() {
		err = r.file.Close()
		r.done(completed)
	})
	return err
}

// OpenResult opens a finished job's artifact for download.
func (m *Manager) OpenResult(id string) (*Result, error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case !j.snap.State.Terminal():
		return nil, fmt.Errorf("%w: job is %s", ErrNotReady, j.snap.State)
	case j.snap.State != StateDone:
		return nil, fmt.Errorf("%w: job %s", ErrResultGone, j.snap.State)
	case j.released || j.discarded:
		return nil, ErrResultGone
	}

	f, err := os.Open(j.ws.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open result: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat result: %w", err)
	}

	j.downloads++
	return &Result{
		Name:     j.snap.DownloadName,
		MimeType: mediatypes.OutputMimeType,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		file:     f,
		done:     func(completed bool) { m.finishDownload(j, completed) },
	}, nil
}

func (m *Manager) finishDownload(j *job, completed bool) {
	j.mu.Lock()
	j.downloads--
	if completed {
		j.snap.Downloaded = true
	}
	release := (completed || j.discarded) && j.downloads == 0
	j.mu.Unlock()

	if release && m.releaseWorkspace(j, false) {
		logging.Info("Job %s result delivered; workspace released", j.snap.ID)
	}
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reap()
		case <-m.ctx.Done():
			return
		}
	}
}

// reap forgets finished jobs past their expiry and returns how many it removed.
func (m *Manager) reap() int {
	now := m.now()

	m.mu.RLock()
	all := make(map[string]*job, len(m.jobs))
	for id, j := range m.jobs {
		all[id] = j
	}
	m.mu.RUnlock()

	removed := 0
	for id, j := range all {
		j.mu.Lock()
		expired := j.snap.State.Terminal() && j.snap.ExpiresAt != nil &&
			!now.Before(*j.snap.ExpiresAt) && j.downloads == 0
		j.mu.Unlock()
		if !expired {
			continue
		}
		m.remove(id)
		m.releaseWorkspace(j, false)
		removed++
	}

	if removed > 0 {
		logging.Debug("Expired %d finished job(s)", removed)
	}
	return removed
}

// Stats reports how many jobs are retained and how many still hold files.
func (m *Manager) Stats() (retained, workspaces int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		j.mu.Lock()
		if !j.released {
			workspaces++
		}
		j.mu.Unlock()
	}
	return len(m.jobs), workspaces
}

// Shutdown cancels every job, waits for their goroutines until ctx expires,
// and deletes all workspaces. Further submissions fail with ErrShuttingDown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timed out waiting for jobs to stop: %w", ctx.Err())
	}

	m.mu.Lock()
	all := m.jobs
	m.jobs = make(map[string]*job)
	m.mu.Unlock()

	for _, j := range all {
		m.releaseWorkspace(j, true)
	}
	logging.Info("Job manager stopped; %d workspace(s) cleaned up", len(all))
	return err
}
