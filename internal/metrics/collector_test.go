package metrics

import (
	"sync"
	"testing"
	"time"
)

type mockStatsProvider struct {
	mu    sync.Mutex
	stats Stats
	calls int
}

func (m *mockStatsProvider) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestNewCollector(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, time.Minute)

	if c.statsProvider != provider {
		t.Error("provider not stored")
	}
	if c.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", c.interval)
	}
	if c.stopChan == nil {
		t.Error("stopChan not initialized")
	}
}

func TestCollectUpdatesGauges(t *testing.T) {
	provider := &mockStatsProvider{stats: Stats{
		JobsRetained:     3,
		WorkspacesActive: 2,
		FreeBytes:        5 << 30,
		HistoryRecords:   42,
	}}
	NewCollector(provider, time.Hour).collect()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"JobsRetained", gaugeValue(t, JobsRetained), 3},
		{"WorkspacesActive", gaugeValue(t, WorkspacesActive), 2},
		{"WorkspaceFreeBytes", gaugeValue(t, WorkspaceFreeBytes), 5 << 30},
		{"HistoryRecords", gaugeValue(t, HistoryRecords), 42},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollectSkipsUnknownValues(t *testing.T) {
	NewCollector(&mockStatsProvider{stats: Stats{FreeBytes: 1024, HistoryRecords: 7}}, time.Hour).collect()
	NewCollector(&mockStatsProvider{stats: Stats{FreeBytes: -1, HistoryRecords: -1}}, time.Hour).collect()

	if got := gaugeValue(t, WorkspaceFreeBytes); got != 1024 {
		t.Errorf("WorkspaceFreeBytes = %v, want the last known 1024", got)
	}
	if got := gaugeValue(t, HistoryRecords); got != 7 {
		t.Errorf("HistoryRecords = %v, want the last known 7", got)
	}
}

func TestCollectWithNilProvider(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("collect() with nil provider panicked: %v", r)
		}
	}()
	NewCollector(nil, time.Hour).collect()
}

func TestCollectorImmediateCollection(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, time.Hour)
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Start() did not collect immediately")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCollectorTicks(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, 10*time.Millisecond)
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d collections after 2s", provider.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	// Allow an in-flight tick to land, then make sure collection stopped.
	time.Sleep(30 * time.Millisecond)
	stopped := provider.callCount()
	time.Sleep(50 * time.Millisecond)
	if got := provider.callCount(); got != stopped {
		t.Errorf("collections continued after Stop(): %d -> %d", stopped, got)
	}
}

func TestCollectorMultipleStops(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("second Stop() panicked: %v", r)
		}
	}()
	c := NewCollector(&mockStatsProvider{}, time.Hour)
	c.Start()
	c.Stop()
	c.Stop()
}
