/*
Package workers sizes the encoder pool in containerized environments.

Go 1.19+ sets GOMAXPROCS from the container's CPU limit, while
runtime.NumCPU still reports the host's cores. Sizing from GOMAXPROCS keeps
a 2-CPU pod on a 64-core node from starting 64 encoders.

	// One encoder per two CPUs, at most 4
	slots := workers.ForEncoder(0, 4)

	// Operator override from MAX_CONCURRENT_JOBS
	slots := workers.ForEncoder(cfg.MaxConcurrentJobs, 0)

Each encode is itself multithreaded, so the default ratio is below one
process per CPU. Count exposes the general form for other ratios.
*/
package workers
