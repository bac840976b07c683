/*
Package streaming protects long HTTP responses from stalled clients.

A download of a converted video can take minutes on a slow link, so the
server runs without a global write timeout. TimeoutWriter restores a bound:
every chunk it writes gets a fresh deadline through http.ResponseController,
so a client that stops reading fails the write with ErrWriteTimeout instead of
pinning the handler and the job's result.

# Usage

	tw := streaming.NewTimeoutWriter(r.Context(), w, streaming.DefaultTimeoutWriterConfig())
	defer tw.Close()

	http.ServeContent(tw, r, name, modTime, content)

	bytesWritten, duration := tw.Stats()
	complete := tw.Status() == http.StatusOK && bytesWritten == size

StreamWithTimeout wraps the same pattern for a plain io.Reader.

# Errors

  - ErrWriteTimeout: the client stopped reading or MaxDuration elapsed
  - ErrClientGone: the request context was canceled
  - ErrStreamCanceled: the writer was closed or its context expired

Writers that cannot set deadlines, such as httptest.ResponseRecorder, are
written to without them.
*/
package streaming
