package metrics

import (
	"sync"
	"time"

	"wa-video-helper/internal/logging"
)

// StatsProvider reports point-in-time state for the gauges.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current statistics. Negative values mean unknown and leave
// the gauge untouched.
type Stats struct {
	JobsRetained     int
	WorkspacesActive int
	FreeBytes        int64
	HistoryRecords   int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection. It may be called more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	if stats.JobsRetained >= 0 {
		JobsRetained.Set(float64(stats.JobsRetained))
	}
	if stats.WorkspacesActive >= 0 {
		WorkspacesActive.Set(float64(stats.WorkspacesActive))
	}
	if stats.FreeBytes >= 0 {
		WorkspaceFreeBytes.Set(float64(stats.FreeBytes))
	}
	if stats.HistoryRecords >= 0 {
		HistoryRecords.Set(float64(stats.HistoryRecords))
	}

	logging.Debug("Metrics collected: jobs=%d, workspaces=%d, free=%d, history=%d",
		stats.JobsRetained, stats.WorkspacesActive, stats.FreeBytes, stats.HistoryRecords)
}
