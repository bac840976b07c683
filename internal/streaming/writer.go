package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"wa-video-helper/internal/logging"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates that the client stopped accepting data for
	// longer than the per-write timeout, or the stream ran past MaxDuration.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the client disconnected before the stream completed.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates that the writer was closed or its context
	// ended for a reason other than the client leaving.
	ErrStreamCanceled = errors.New("stream canceled")
)

// TimeoutWriterConfig configures the timeout writer behavior
type TimeoutWriterConfig struct {
	// WriteTimeout bounds each chunk written to the client (0 = none).
	WriteTimeout time.Duration
	// MaxDuration is the absolute maximum streaming duration (0 = unlimited)
	MaxDuration time.Duration
	// ChunkSize splits large writes so each gets a fresh deadline (0 = as received)
	ChunkSize int
}

// DefaultTimeoutWriterConfig returns sensible defaults
func DefaultTimeoutWriterConfig() TimeoutWriterConfig {
	return TimeoutWriterConfig{
		WriteTimeout: 30 * time.Second,
		MaxDuration:  0,
		ChunkSize:    256 * 1024,
	}
}

// TimeoutWriter wraps an http.ResponseWriter so a stalled client cannot hold
// a response open forever. Each chunk gets its own write deadline through
// http.ResponseController; writers that do not support deadlines are written
// to directly. It also records the status and byte count that reached the
// client. A TimeoutWriter is not safe for concurrent use.
type TimeoutWriter struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	ctx       context.Context
	config    TimeoutWriterConfig
	startTime time.Time

	status       int
	bytesWritten int64
	deadlines    bool
	closed       bool
}

// NewTimeoutWriter creates a new timeout-protected writer
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config TimeoutWriterConfig) *TimeoutWriter {
	return &TimeoutWriter{
		w:         w,
		rc:        http.NewResponseController(w),
		ctx:       ctx,
		config:    config,
		startTime: time.Now(),
		deadlines: config.WriteTimeout > 0,
	}
}

// Header implements http.ResponseWriter.
func (tw *TimeoutWriter) Header() http.Header {
	return tw.w.Header()
}

// WriteHeader implements http.ResponseWriter and records the first status.
func (tw *TimeoutWriter) WriteHeader(code int) {
	if tw.status == 0 {
		tw.status = code
	}
	tw.w.WriteHeader(code)
}

// Unwrap returns the wrapped writer for http.ResponseController.
func (tw *TimeoutWriter) Unwrap() http.ResponseWriter {
	return tw.w
}

// Write implements io.Writer with timeout protection
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	if tw.closed {
		return 0, ErrStreamCanceled
	}
	if tw.ctx.Err() != nil {
		return 0, tw.contextError()
	}
	if tw.config.MaxDuration > 0 && time.Since(tw.startTime) > tw.config.MaxDuration {
		return 0, ErrWriteTimeout
	}
	if tw.status == 0 {
		tw.status = http.StatusOK
	}

	total := 0
	for len(p) > 0 {
		chunk := p
		if tw.config.ChunkSize > 0 && len(chunk) > tw.config.ChunkSize {
			chunk = chunk[:tw.config.ChunkSize]
		}

		n, err := tw.writeWithDeadline(chunk)
		total += n
		if err != nil {
			return total, err
		}
		p = p[len(chunk):]

		if len(p) > 0 && tw.ctx.Err() != nil {
			return total, tw.contextError()
		}
	}
	return total, nil
}

func (tw *TimeoutWriter) writeWithDeadline(p []byte) (int, error) {
	if tw.deadlines {
		if err := tw.rc.SetWriteDeadline(time.Now().Add(tw.config.WriteTimeout)); err != nil {
			// Recorders and some wrappers cannot set deadlines.
			tw.deadlines = false
			logging.Debug("Write deadlines unavailable: %v", err)
		}
	}

	n, err := tw.w.Write(p)
	tw.bytesWritten += int64(n)
	if err == nil {
		return n, nil
	}

	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return n, fmt.Errorf("%w: %w", ErrWriteTimeout, err)
	case tw.ctx.Err() != nil:
		return n, tw.contextError()
	default:
		return n, err
	}
}

// contextError returns an appropriate error based on context state
func (tw *TimeoutWriter) contextError() error {
	if errors.Is(tw.ctx.Err(), context.Canceled) {
		return ErrClientGone
	}
	return ErrStreamCanceled
}

// Close stops further writes and clears the write deadline so a kept-alive
// connection is not cut off on its next response.
func (tw *TimeoutWriter) Close() error {
	if tw.closed {
		return nil
	}
	tw.closed = true

	if tw.deadlines {
		if err := tw.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	return nil
}

// Status returns the status code sent, or 0 if nothing was sent yet.
func (tw *TimeoutWriter) Status() int {
	return tw.status
}

// Stats returns streaming statistics
func (tw *TimeoutWriter) Stats() (bytesWritten int64, duration time.Duration) {
	return tw.bytesWritten, time.Since(tw.startTime)
}

// StreamWithTimeout copies r to the response with timeout protection.
func StreamWithTimeout(ctx context.Context, w http.ResponseWriter, r io.Reader, config TimeoutWriterConfig) error {
	tw := NewTimeoutWriter(ctx, w, config)
	defer func() {
		if err := tw.Close(); err != nil {
			logging.Warn("Failed to close timeout writer: %v", err)
		}
	}()

	w.Header().Set("X-Content-Type-Options", "nosniff")

	_, err := io.Copy(tw, r)

	bytesWritten, duration := tw.Stats()
	logging.Debug("Stream completed: %d bytes in %v", bytesWritten, duration)

	return err
}
