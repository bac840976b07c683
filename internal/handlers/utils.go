package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"wa-video-helper/internal/jobs"
	"wa-video-helper/internal/logging"
	"wa-video-helper/internal/transcoder"
	"wa-video-helper/internal/workdir"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONResponse writes v with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, map[string]string{"error": message})
}

// writeError maps a domain error onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusInsufficientStorage {
		logging.Error("request failed: %v", err)
	}
	writeJSONError(w, err.Error(), status)
}

func statusForError(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, jobs.ErrUnsupportedFormat),
		errors.Is(err, jobs.ErrUnknownSizeClass),
		errors.Is(err, jobs.ErrEmptyUpload),
		errors.Is(err, transcoder.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrUploadTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, workdir.ErrInsufficientSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrResultGone):
		return http.StatusGone
	case errors.Is(err, jobs.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
