// Package monitor collects in-process operational metrics.
package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks order flow counters and execution latency.
type Metrics struct {
	OrdersSubmitted atomic.Int64
	OrdersFilled    atomic.Int64
	OrdersFailed    atomic.Int64
	OrdersRejected  atomic.Int64
	OrdersCanceled  atomic.Int64
	TicksProcessed  atomic.Int64
	EventsPublished atomic.Int64

	execLatency *LatencyHistogram
	startedAt   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		execLatency: NewLatencyHistogram(1024),
		startedAt:   time.Now(),
	}
}

// ObserveExecLatency records one order execution duration.
func (m *Metrics) ObserveExecLatency(d time.Duration) {
	m.execLatency.Observe(d)
}

// Snapshot is the JSON shape served by the metrics endpoint.
type Snapshot struct {
	UptimeSeconds   float64        `json:"uptime_seconds"`
	OrdersSubmitted int64          `json:"orders_submitted"`
	OrdersFilled    int64          `json:"orders_filled"`
	OrdersFailed    int64          `json:"orders_failed"`
	OrdersRejected  int64          `json:"orders_rejected"`
	OrdersCanceled  int64          `json:"orders_canceled"`
	TicksProcessed  int64          `json:"ticks_processed"`
	EventsPublished int64          `json:"events_published"`
	ExecLatencyMs   LatencySummary `json:"exec_latency_ms"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:   time.Since(m.startedAt).Seconds(),
		OrdersSubmitted: m.OrdersSubmitted.Load(),
		OrdersFilled:    m.OrdersFilled.Load(),
		OrdersFailed:    m.OrdersFailed.Load(),
		OrdersRejected:  m.OrdersRejected.Load(),
		OrdersCanceled:  m.OrdersCanceled.Load(),
		TicksProcessed:  m.TicksProcessed.Load(),
		EventsPublished: m.EventsPublished.Load(),
		ExecLatencyMs:   m.execLatency.Summary(),
	}
}

// LatencyHistogram keeps a bounded ring of samples and reports
// percentiles over the retained window.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

func NewLatencyHistogram(capacity int) *LatencyHistogram {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LatencyHistogram{samples: make([]time.Duration, capacity)}
}

func (h *LatencyHistogram) Observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = d
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
	h.count++
}

// LatencySummary reports retained-window percentiles in milliseconds.
type LatencySummary struct {
	Count int64   `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

func (h *LatencyHistogram) Summary() LatencySummary {
	h.mu.Lock()
	n := h.next
	if h.full {
		n = len(h.samples)
	}
	window := make([]time.Duration, n)
	copy(window, h.samples[:n])
	count := h.count
	h.mu.Unlock()

	s := LatencySummary{Count: count}
	if n == 0 {
		return s
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	s.P50 = ms(window[percentileIndex(n, 50)])
	s.P95 = ms(window[percentileIndex(n, 95)])
	s.P99 = ms(window[percentileIndex(n, 99)])
	s.Max = ms(window[n-1])
	return s
}

func percentileIndex(n, pct int) int {
	idx := n*pct/100 - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
