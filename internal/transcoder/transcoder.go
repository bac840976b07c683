package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"wa-video-helper/internal/logging"
)

const (
	// DefaultScaleWidth is the output width; height follows the aspect ratio.
	DefaultScaleWidth = 640

	// diagnosticLines is how many non-progress output lines are kept for errors.
	diagnosticLines = 40

	bytesPerMegabyte = 1024 * 1024
)

// Options configures a Transcoder.
type Options struct {
	FFmpegPath       string
	FFprobePath      string
	ProbeMethod      ProbeMethod
	ScaleWidth       int
	AudioBitrateKbps int
	FloorPolicy      FloorPolicy
}

// DefaultOptions returns the settings the service ships with.
func DefaultOptions() Options {
	return Options{
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		ProbeMethod:      ProbeFFprobe,
		ScaleWidth:       DefaultScaleWidth,
		AudioBitrateKbps: DefaultAudioBitrateKbps,
		FloorPolicy:      FloorClamp,
	}
}

// Transcoder plans and runs size-constrained encodes. It holds no per-request
// state and is safe for concurrent use.
type Transcoder struct {
	runner Runner
	opts   Options
}

// TranscodeOutcome is the measured result of a finished encode.
type TranscodeOutcome struct {
	Success      bool                   `json:"success"`
	OutputBytes  int64                  `json:"outputBytes"`
	OutputSizeMB float64                `json:"outputSizeMB"`
	WithinBudget bool                   `json:"withinBudget"`
	Diagnostic   string                 `json:"diagnostic,omitempty"`
	Warning      *BudgetExceededWarning `json:"warning,omitempty"`
	Elapsed      time.Duration          `json:"elapsed"`
}

// New creates a Transcoder. Zero-valued options fall back to DefaultOptions.
func New(runner Runner, opts Options) *Transcoder {
	def := DefaultOptions()
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = def.FFmpegPath
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = def.FFprobePath
	}
	if opts.ProbeMethod == "" {
		opts.ProbeMethod = def.ProbeMethod
	}
	if opts.ScaleWidth <= 0 {
		opts.ScaleWidth = def.ScaleWidth
	}
	if opts.AudioBitrateKbps <= 0 {
		opts.AudioBitrateKbps = def.AudioBitrateKbps
	}
	if opts.FloorPolicy == "" {
		opts.FloorPolicy = def.FloorPolicy
	}
	return &Transcoder{runner: runner, opts: opts}
}

// Options returns the effective configuration.
func (t *Transcoder) Options() Options {
	return t.opts
}

// Plan derives a BitratePlan with the configured audio bitrate, applying the
// floor policy.
func (t *Transcoder) Plan(durationSeconds, targetSizeMB float64) (BitratePlan, error) {
	plan, err := Plan(durationSeconds, targetSizeMB, t.opts.AudioBitrateKbps)
	if err != nil {
		return BitratePlan{}, err
	}
	if plan.Clamped && t.opts.FloorPolicy == FloorReject {
		return BitratePlan{}, fmt.Errorf("%w: %.2f MB cannot hold %.1fs at %d kbps",
			ErrBudgetUnreachable, targetSizeMB, durationSeconds, MinVideoBitrateKbps)
	}
	if plan.Clamped {
		logging.Warn("Bitrate budget for %.1fs in %.2f MB is below the %d kbps floor; output will likely exceed the budget",
			durationSeconds, targetSizeMB, MinVideoBitrateKbps)
	}
	return plan, nil
}

// EncoderArgs builds the ffmpeg argument list for one encode.
func EncoderArgs(sourcePath, outputPath string, plan BitratePlan, scaleWidth int) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-b:v", kbps(plan.VideoBitrateKbps),
		"-maxrate", kbps(plan.MaxrateKbps),
		"-bufsize", kbps(plan.BufsizeKbps),
		"-vf", fmt.Sprintf("scale=%d:-2", scaleWidth),
		"-c:a", "aac",
		"-b:a", kbps(plan.AudioBitrateKbps),
		"-movflags", "+faststart",
		outputPath,
	}
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}

// Start launches the encoder for plan. The caller drives the returned
// Execution with Next and finishes it with Outcome.
func (t *Transcoder) Start(ctx context.Context, sourcePath, outputPath string, plan BitratePlan) (*Execution, error) {
	if !isPositiveFinite(plan.DurationSeconds) || !isPositiveFinite(plan.TargetSizeMB) {
		return nil, fmt.Errorf("%w: plan has no duration or target size", ErrInvalidInput)
	}

	args := EncoderArgs(sourcePath, outputPath, plan, t.opts.ScaleWidth)
	logging.Debug("Starting encoder: %s %v", t.opts.FFmpegPath, args)

	proc, err := t.runner.Start(ctx, t.opts.FFmpegPath, args...)
	if err != nil {
		return nil, &EncodeError{ExitCode: -1, Err: err}
	}

	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 2*maxOutputLine)
	scanner.Split(scanOutputLines(maxOutputLine))

	return &Execution{
		ctx:        ctx,
		proc:       proc,
		scanner:    scanner,
		plan:       plan,
		outputPath: outputPath,
		tail:       newTailBuffer(diagnosticLines),
		started:    time.Now(),
	}, nil
}

// Transcode runs a complete encode, calling onProgress (if non-nil) for every
// sample, and returns the outcome.
func (t *Transcoder) Transcode(ctx context.Context, sourcePath, outputPath string, plan BitratePlan, onProgress func(ProgressSample)) (TranscodeOutcome, error) {
	execution, err := t.Start(ctx, sourcePath, outputPath, plan)
	if err != nil {
		return TranscodeOutcome{}, err
	}
	for execution.Next() {
		if onProgress != nil {
			onProgress(execution.Sample())
		}
	}
	return execution.Outcome()
}

// Execution is one running encode. Samples are produced lazily by Next, which
// blocks on the encoder's output; the sequence cannot be restarted.
type Execution struct {
	ctx        context.Context
	proc       Process
	scanner    *bufio.Scanner
	plan       BitratePlan
	outputPath string
	tail       *tailBuffer
	started    time.Time

	sample ProgressSample
	done   bool

	outcome TranscodeOutcome
	err     error
}

// Next advances to the next progress sample. It returns false once the encoder
// has exited; Outcome then reports the result.
func (e *Execution) Next() bool {
	if e.done {
		return false
	}

	for e.scanner.Scan() {
		line := e.scanner.Text()
		elapsed, ok := parseProgressTime(line)
		if !ok {
			e.tail.add(line)
			continue
		}

		if elapsed < e.sample.ElapsedSeconds {
			elapsed = e.sample.ElapsedSeconds
		}
		fraction := fractionOf(elapsed, e.plan.DurationSeconds)
		if fraction < e.sample.FractionComplete {
			fraction = e.sample.FractionComplete
		}
		e.sample = ProgressSample{ElapsedSeconds: elapsed, FractionComplete: fraction}
		return true
	}

	if err := e.scanner.Err(); err != nil {
		logging.Debug("Encoder output scan stopped: %v", err)
	}
	e.finish()
	return false
}

// Sample returns the sample produced by the last successful Next.
func (e *Execution) Sample() ProgressSample {
	return e.sample
}

// Outcome consumes any remaining output, waits for the encoder and returns the
// measured result. A failed encode yields an *EncodeError and no outcome.
func (e *Execution) Outcome() (TranscodeOutcome, error) {
	for e.Next() {
	}
	return e.outcome, e.err
}

func (e *Execution) finish() {
	e.done = true
	waitErr := e.proc.Wait()
	elapsed := time.Since(e.started)

	if waitErr != nil {
		encErr := &EncodeError{ExitCode: exitCode(waitErr), Diagnostic: e.tail.String(), Err: waitErr}
		if ctxErr := e.ctx.Err(); ctxErr != nil {
			encErr.Err = ctxErr
		}
		e.err = encErr
		return
	}

	info, err := os.Stat(e.outputPath)
	if err != nil {
		e.err = &EncodeError{
			ExitCode:   0,
			Diagnostic: e.tail.String(),
			Err:        fmt.Errorf("encoder reported success but output is missing: %w", err),
		}
		return
	}

	sizeMB := float64(info.Size()) / bytesPerMegabyte
	e.outcome = TranscodeOutcome{
		Success:      true,
		OutputBytes:  info.Size(),
		OutputSizeMB: sizeMB,
		WithinBudget: sizeMB <= e.plan.TargetSizeMB,
		Elapsed:      elapsed,
	}
	if !e.outcome.WithinBudget {
		warning := BudgetExceededWarning{
			OutputSizeMB: sizeMB,
			TargetSizeMB: e.plan.TargetSizeMB,
			Clamped:      e.plan.Clamped,
		}
		e.outcome.Warning = &warning
		e.outcome.Diagnostic = warning.String()
		logging.Warn("Encode of %s finished over budget: %s", e.outputPath, warning)
	}
}
