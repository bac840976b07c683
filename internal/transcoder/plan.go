package transcoder

import (
	"fmt"
	"math"
)

const (
	// KilobitsPerMegabyte converts a size budget in MB to kbit (1 MB = 1024 KB = 8192 kbit).
	KilobitsPerMegabyte = 8192

	// DefaultAudioBitrateKbps is the fixed AAC bitrate used when none is configured.
	DefaultAudioBitrateKbps = 128

	// MinVideoBitrateKbps is the quality floor for the video stream.
	MinVideoBitrateKbps = 300

	// MaxrateHeadroomKbps is added to the target bitrate to form -maxrate.
	MaxrateHeadroomKbps = 100

	// BufferWindowSeconds sizes -bufsize as a multiple of the target bitrate.
	BufferWindowSeconds = 2

	// maxVideoBitrateKbps keeps absurdly short clips from overflowing int.
	maxVideoBitrateKbps = math.MaxInt32
)

// BitratePlan holds the encoder rate-control parameters derived for one request.
type BitratePlan struct {
	VideoBitrateKbps int     `json:"videoBitrateKbps"`
	AudioBitrateKbps int     `json:"audioBitrateKbps"`
	MaxrateKbps      int     `json:"maxrateKbps"`
	BufsizeKbps      int     `json:"bufsizeKbps"`
	TargetSizeMB     float64 `json:"targetSizeMB"`
	DurationSeconds  float64 `json:"durationSeconds"`

	// Clamped is set when the budget could not pay for MinVideoBitrateKbps and
	// the floor was applied anyway. The output will likely exceed TargetSizeMB.
	Clamped bool `json:"clamped"`
}

// Plan computes the bitrates expected to produce an output of roughly
// targetSizeMB for a clip of durationSeconds. A non-positive audioBitrateKbps
// selects DefaultAudioBitrateKbps.
func Plan(durationSeconds, targetSizeMB float64, audioBitrateKbps int) (BitratePlan, error) {
	if !isPositiveFinite(durationSeconds) {
		return BitratePlan{}, fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidInput, durationSeconds)
	}
	if !isPositiveFinite(targetSizeMB) {
		return BitratePlan{}, fmt.Errorf("%w: target size must be positive, got %v", ErrInvalidInput, targetSizeMB)
	}
	if audioBitrateKbps <= 0 {
		audioBitrateKbps = DefaultAudioBitrateKbps
	}

	totalKbps := targetSizeMB * KilobitsPerMegabyte / durationSeconds
	if math.IsInf(totalKbps, 0) || math.IsNaN(totalKbps) {
		return BitratePlan{}, fmt.Errorf("%w: bitrate budget overflows for %.3g MB over %.3g s",
			ErrInvalidInput, targetSizeMB, durationSeconds)
	}

	videoKbps := math.Floor(totalKbps - float64(audioBitrateKbps))
	clamped := false
	switch {
	case videoKbps < MinVideoBitrateKbps:
		videoKbps = MinVideoBitrateKbps
		clamped = true
	case videoKbps > maxVideoBitrateKbps:
		videoKbps = maxVideoBitrateKbps
	}
	video := int(videoKbps)

	return BitratePlan{
		VideoBitrateKbps: video,
		AudioBitrateKbps: audioBitrateKbps,
		MaxrateKbps:      video + MaxrateHeadroomKbps,
		BufsizeKbps:      video * BufferWindowSeconds,
		TargetSizeMB:     targetSizeMB,
		DurationSeconds:  durationSeconds,
		Clamped:          clamped,
	}, nil
}

// EstimatedSizeMB is the output size the plan's average bitrates would produce.
func (p BitratePlan) EstimatedSizeMB() float64 {
	return float64(p.VideoBitrateKbps+p.AudioBitrateKbps) * p.DurationSeconds / KilobitsPerMegabyte
}

// FloorPolicy decides what happens when a budget cannot pay for the bitrate floor.
type FloorPolicy string

const (
	// FloorClamp raises the bitrate to the floor and reports a budget warning later.
	FloorClamp FloorPolicy = "clamp"
	// FloorReject refuses the request with ErrBudgetUnreachable.
	FloorReject FloorPolicy = "reject"
)

// ParseFloorPolicy maps a configuration string to a FloorPolicy.
func ParseFloorPolicy(s string) (FloorPolicy, error) {
	switch FloorPolicy(s) {
	case FloorClamp, "":
		return FloorClamp, nil
	case FloorReject:
		return FloorReject, nil
	default:
		return "", fmt.Errorf("unknown bitrate floor policy %q (want %q or %q)", s, FloorClamp, FloorReject)
	}
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
