// Package memory sizes the Go heap for containerized deployments.
//
// Go detects cgroup CPU limits through GOMAXPROCS but not memory limits, so a
// process can be OOM-killed before the garbage collector feels pressure. Here
// most of the container's memory goes to ffmpeg child processes, which the Go
// runtime cannot see, so only part of the limit is given to the heap.
//
// Call [ConfigureFromEnv] at the top of main:
//
//   - GOMEMLIMIT: Standard Go variable; if set it wins and is only reported.
//   - MEMORY_LIMIT: Container limit in bytes, usually from the Downward API:
//
//	env:
//	  - name: MEMORY_LIMIT
//	    valueFrom:
//	      resourceFieldRef:
//	        resource: limits.memory
//
//   - MEMORY_RATIO: Share of MEMORY_LIMIT for the heap, 0.0 to 1.0 (default 0.5).
package memory
