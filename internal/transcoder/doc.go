// Package transcoder plans and runs size-constrained video transcodes using FFmpeg.
//
// It supports:
//   - Deriving video/audio bitrates from a size budget and clip duration
//   - Probing clip duration with ffprobe or with the ffmpeg input banner
//   - Running the encoder with a fixed WhatsApp-compatible argument template
//   - Turning the encoder's "time=" status lines into progress samples
//   - Measuring the produced artifact against the size budget
//
// All subprocesses are started through the Runner interface so the planning
// and progress logic can be exercised without FFmpeg installed.
package transcoder
