package transcoder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a duration or size budget is not positive.
	// No process is started for such a request.
	ErrInvalidInput = errors.New("invalid transcode input")

	// ErrBudgetUnreachable is returned under FloorReject when the size budget
	// cannot pay for MinVideoBitrateKbps. It matches ErrInvalidInput.
	ErrBudgetUnreachable = fmt.Errorf("%w: size budget below the bitrate floor", ErrInvalidInput)
)

// ProbeError reports that a clip's duration could not be determined.
type ProbeError struct {
	Path       string
	Diagnostic string
	Err        error
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("cannot determine duration of %s", e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += " - " + e.Diagnostic
	}
	return msg
}

func (e *ProbeError) Unwrap() error { return e.Err }

// EncodeError reports that the encoder exited unsuccessfully. Diagnostic holds
// the tail of its output.
type EncodeError struct {
	ExitCode   int
	Diagnostic string
	Err        error
}

func (e *EncodeError) Error() string {
	msg := "encoder failed"
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("encoder exited with status %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *EncodeError) Unwrap() error { return e.Err }

// BudgetExceededWarning describes a successful encode whose artifact is larger
// than the requested budget. It is attached to the outcome, never returned as an error.
type BudgetExceededWarning struct {
	OutputSizeMB float64 `json:"outputSizeMB"`
	TargetSizeMB float64 `json:"targetSizeMB"`
	Clamped      bool    `json:"clamped"`
}

func (w BudgetExceededWarning) String() string {
	msg := fmt.Sprintf("output is %.2f MB, above the %.2f MB budget", w.OutputSizeMB, w.TargetSizeMB)
	if w.Clamped {
		msg += fmt.Sprintf(" (video bitrate was raised to the %d kbps floor; try a shorter clip)", MinVideoBitrateKbps)
	}
	return msg
}

// exitCode extracts a process exit status from err, or -1.
func exitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}
