package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"wa-video-helper/internal/logging"
)

// ProbeMethod selects how clip duration is measured.
type ProbeMethod string

const (
	// ProbeFFprobe asks ffprobe for format=duration.
	ProbeFFprobe ProbeMethod = "ffprobe"
	// ProbeFFmpeg parses the "Duration:" line of the ffmpeg input banner.
	ProbeFFmpeg ProbeMethod = "ffmpeg"
)

// maxProbeOutput bounds how much probe output is buffered.
const maxProbeOutput = 1 << 20

var errNoDuration = errors.New("no duration in probe output")

// ParseProbeMethod maps a configuration string to a ProbeMethod.
func ParseProbeMethod(s string) (ProbeMethod, error) {
	switch ProbeMethod(strings.ToLower(s)) {
	case ProbeFFprobe, "":
		return ProbeFFprobe, nil
	case ProbeFFmpeg:
		return ProbeFFmpeg, nil
	default:
		return "", fmt.Errorf("unknown probe method %q (want %q or %q)", s, ProbeFFprobe, ProbeFFmpeg)
	}
}

// ProbeDuration returns the duration of the media file at path in seconds.
// Any failure is reported as a *ProbeError.
func (t *Transcoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	start := time.Now()

	var (
		duration float64
		err      error
	)
	switch t.opts.ProbeMethod {
	case ProbeFFmpeg:
		duration, err = t.probeWithFFmpeg(ctx, path)
	default:
		duration, err = t.probeWithFFprobe(ctx, path)
	}
	if err != nil {
		return 0, err
	}

	logging.Debug("Probed %s: %.2fs via %s in %v", path, duration, t.opts.ProbeMethod, time.Since(start))
	return duration, nil
}

func (t *Transcoder) probeWithFFprobe(ctx context.Context, path string) (float64, error) {
	output, waitErr, err := t.runCollect(ctx, t.opts.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, &ProbeError{Path: path, Err: err}
	}
	if waitErr != nil {
		return 0, &ProbeError{Path: path, Diagnostic: strings.TrimSpace(output), Err: waitErr}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		d, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		if !isPositiveFinite(d) {
			return 0, &ProbeError{Path: path, Diagnostic: line, Err: errNoDuration}
		}
		return d, nil
	}
	return 0, &ProbeError{Path: path, Diagnostic: strings.TrimSpace(output), Err: errNoDuration}
}

// probeWithFFmpeg runs "ffmpeg -i" without an output file. ffmpeg exits with an
// error in that mode, so only the banner is trusted.
func (t *Transcoder) probeWithFFmpeg(ctx context.Context, path string) (float64, error) {
	output, waitErr, err := t.runCollect(ctx, t.opts.FFmpegPath, "-hide_banner", "-i", path)
	if err != nil {
		return 0, &ProbeError{Path: path, Err: err}
	}
	if ctx.Err() != nil {
		return 0, &ProbeError{Path: path, Err: ctx.Err()}
	}

	tail := newTailBuffer(10)
	for _, line := range strings.Split(output, "\n") {
		if d, ok := parseBannerDuration(line); ok {
			if d <= 0 {
				break
			}
			return d, nil
		}
		tail.add(line)
	}

	cause := errNoDuration
	if waitErr != nil {
		cause = fmt.Errorf("%w (%v)", errNoDuration, waitErr)
	}
	return 0, &ProbeError{Path: path, Diagnostic: tail.String(), Err: cause}
}

// runCollect runs a short-lived tool and returns its combined output. err is a
// start failure; waitErr is the tool's exit status.
func (t *Transcoder) runCollect(ctx context.Context, name string, args ...string) (output string, waitErr, err error) {
	proc, err := t.runner.Start(ctx, name, args...)
	if err != nil {
		return "", nil, err
	}
	data, readErr := io.ReadAll(io.LimitReader(proc.Output(), maxProbeOutput))
	waitErr = proc.Wait()
	if readErr != nil && waitErr == nil {
		waitErr = readErr
	}
	return string(data), waitErr, nil
}
