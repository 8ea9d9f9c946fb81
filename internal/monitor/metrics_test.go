package monitor

import (
	"testing"
	"time"
)

func TestCountersInSnapshot(t *testing.T) {
	m := NewMetrics()
	m.OrdersSubmitted.Add(3)
	m.OrdersFilled.Add(2)
	m.OrdersRejected.Add(1)

	s := m.Snapshot()
	if s.OrdersSubmitted != 3 || s.OrdersFilled != 2 || s.OrdersRejected != 1 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.UptimeSeconds < 0 {
		t.Errorf("negative uptime: %v", s.UptimeSeconds)
	}
}

func TestLatencyPercentiles(t *testing.T) {
	h := NewLatencyHistogram(256)
	for i := 1; i <= 100; i++ {
		h.Observe(time.Duration(i) * time.Millisecond)
	}

	s := h.Summary()
	if s.Count != 100 {
		t.Errorf("count = %d, want 100", s.Count)
	}
	if s.P50 != 50 {
		t.Errorf("p50 = %v, want 50", s.P50)
	}
	if s.P95 != 95 {
		t.Errorf("p95 = %v, want 95", s.P95)
	}
	if s.P99 != 99 {
		t.Errorf("p99 = %v, want 99", s.P99)
	}
	if s.Max != 100 {
		t.Errorf("max = %v, want 100", s.Max)
	}
}

func TestLatencyRingEvictsOldSamples(t *testing.T) {
	h := NewLatencyHistogram(10)
	for i := 0; i < 10; i++ {
		h.Observe(time.Hour)
	}
	for i := 0; i < 10; i++ {
		h.Observe(time.Millisecond)
	}

	s := h.Summary()
	if s.Max != 1 {
		t.Errorf("old samples should be evicted, max = %v ms", s.Max)
	}
	if s.Count != 20 {
		t.Errorf("total count = %d, want 20", s.Count)
	}
}

func TestEmptyHistogram(t *testing.T) {
	s := NewLatencyHistogram(16).Summary()
	if s.Count != 0 || s.P50 != 0 || s.Max != 0 {
		t.Errorf("empty summary should be zero: %+v", s)
	}
}
