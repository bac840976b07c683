package metrics

// Label values shared with the packages that record them.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"

	FailureExit          = "exit"
	FailureCanceled      = "canceled"
	FailureTimeout       = "timeout"
	FailureMissingOutput = "missing_output"
	FailureProbe         = "probe"
	FailurePlan          = "plan"
)

// InitializeMetrics pre-populates the expected label combinations so that
// every series is exported from the first scrape.
func InitializeMetrics(sizeClasses, probeMethods []string) {
	for _, class := range sizeClasses {
		for _, status := range []string{StatusDone, StatusFailed, StatusCanceled} {
			JobsTotal.WithLabelValues(class, status)
		}
		JobDuration.WithLabelValues(class)
		BudgetMissesTotal.WithLabelValues(class)
	}

	for _, reason := range []string{FailureExit, FailureCanceled, FailureTimeout,
		FailureMissingOutput, FailureProbe, FailurePlan} {
		EncodeFailuresTotal.WithLabelValues(reason)
	}

	for _, method := range probeMethods {
		ProbeDuration.WithLabelValues(method)
		ProbeErrorsTotal.WithLabelValues(method)
	}

	for _, op := range []string{"record", "recent", "stats", "prune", "count"} {
		HistoryQueryTotal.WithLabelValues(op, "success")
		HistoryQueryTotal.WithLabelValues(op, "error")
		HistoryQueryDuration.WithLabelValues(op)
	}

	for _, status := range []string{"success", "failure"} {
		AuthAttemptsTotal.WithLabelValues(status)
	}
}
