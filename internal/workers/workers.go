package workers

import (
	"runtime"
)

// encoderMultiplier is the encoder slots per available CPU. libx264 already
// spreads one encode across several cores.
const encoderMultiplier = 0.5

// Count returns the number of workers for a task with the given CPU
// multiplier. It respects container CPU limits via GOMAXPROCS.
//
// A positive override is used as-is (still capped by limit). The limit
// parameter caps the worker count; use 0 for no limit.
func Count(multiplier float64, override, limit int) int {
	if override > 0 {
		if limit > 0 && override > limit {
			return limit
		}
		return override
	}

	// GOMAXPROCS is automatically set to container CPU limit in Go 1.19+
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForEncoder returns how many encoder processes may run at once: one per two
// CPUs unless override (MAX_CONCURRENT_JOBS) is set.
func ForEncoder(override, limit int) int {
	return Count(encoderMultiplier, override, limit)
}
