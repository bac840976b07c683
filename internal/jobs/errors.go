package jobs

import "errors"

var (
	// ErrNotFound is returned for an unknown or expired job ID.
	ErrNotFound = errors.New("job not found")

	// ErrNotReady is returned when a result is requested before the encode
	// has finished successfully.
	ErrNotReady = errors.New("job result not ready")

	// ErrResultGone is returned when the artifact was already downloaded or
	// discarded.
	ErrResultGone = errors.New("job result no longer available")

	// ErrUnsupportedFormat is returned for an upload whose extension is not
	// an accepted container.
	ErrUnsupportedFormat = errors.New("unsupported video format")

	// ErrUnknownSizeClass is returned for a size class that is not offered.
	ErrUnknownSizeClass = errors.New("unknown size class")

	// ErrUploadTooLarge is returned when an upload exceeds the configured limit.
	ErrUploadTooLarge = errors.New("upload too large")

	// ErrEmptyUpload is returned when the upload carried no bytes.
	ErrEmptyUpload = errors.New("empty upload")

	// ErrShuttingDown is returned by Submit once Shutdown has begun.
	ErrShuttingDown = errors.New("job manager is shutting down")
)
