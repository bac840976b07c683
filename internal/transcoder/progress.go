package transcoder

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// ProgressSample is one position report parsed from the encoder output.
type ProgressSample struct {
	ElapsedSeconds   float64 `json:"elapsedSeconds"`
	FractionComplete float64 `json:"fractionComplete"`
}

// Percent returns FractionComplete scaled to 0..100.
func (s ProgressSample) Percent() float64 {
	return s.FractionComplete * 100
}

var (
	// ffmpeg status lines look like:
	//   frame=  240 fps= 61 q=28.0 size=    1024kB time=00:00:08.00 bitrate=1048.6kbits/s speed=2.03x
	reProgressTime = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

	// ffmpeg -i banner:  Duration: 00:01:02.50, start: 0.000000, bitrate: 1205 kb/s
	reBannerDuration = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// parseProgressTime extracts the elapsed encode position from an ffmpeg status line.
func parseProgressTime(line string) (float64, bool) {
	return parseClock(reProgressTime, line)
}

// parseBannerDuration extracts the input duration from ffmpeg's input banner.
func parseBannerDuration(line string) (float64, bool) {
	return parseClock(reBannerDuration, line)
}

func parseClock(re *regexp.Regexp, line string) (float64, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}

// fractionOf converts an elapsed position to a completion fraction in [0,1].
func fractionOf(elapsed, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	f := elapsed / duration
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// maxOutputLine bounds a single line of encoder output. Longer lines are
// dropped up to the next delimiter.
const maxOutputLine = 64 * 1024

// scanOutputLines returns a bufio.SplitFunc that ends a line at '\n' or '\r'.
// ffmpeg redraws its status line with bare carriage returns. A line that grows
// past maxLine without a delimiter is discarded rather than failing the scan.
func scanOutputLines(maxLine int) bufio.SplitFunc {
	discarding := false
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
			if discarding || i > maxLine {
				discarding = false
				return i + 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
		if discarding || len(data) > maxLine {
			discarding = !atEOF
			return len(data), nil, nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// tailBuffer keeps the last n non-empty lines for diagnostics.
type tailBuffer struct {
	lines []string
	max   int
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{max: n}
}

func (t *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(t.lines) == t.max {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.max-1]
	}
	t.lines = append(t.lines, line)
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
