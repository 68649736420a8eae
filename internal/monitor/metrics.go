package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"execution-core/internal/order"
)

// DispatchMetrics tracks signal-dispatch outcomes and latency.
type DispatchMetrics struct {
	dispatched uint64
	executed   uint64
	rejected   uint64
	invalid    uint64
	failed     uint64

	Latency *LatencyHistogram
}

// NewDispatchMetrics creates a metrics instance with a 1000-sample window.
func NewDispatchMetrics() *DispatchMetrics {
	return &DispatchMetrics{Latency: NewLatencyHistogram(1000)}
}

// Record classifies one dispatch outcome and stores its latency.
func (m *DispatchMetrics) Record(outcome order.Outcome, latency time.Duration) {
	atomic.AddUint64(&m.dispatched, 1)
	switch outcome {
	case order.OutcomeSuccess:
		atomic.AddUint64(&m.executed, 1)
	case order.OutcomeInvalidSignal:
		atomic.AddUint64(&m.invalid, 1)
	case order.OutcomeConnectionError, order.OutcomeTimeout:
		atomic.AddUint64(&m.failed, 1)
	default:
		atomic.AddUint64(&m.rejected, 1)
	}
	m.Latency.RecordDuration(latency)
}

// Snapshot is a point-in-time metrics view for the API.
type Snapshot struct {
	Dispatched uint64       `json:"dispatched"`
	Executed   uint64       `json:"executed"`
	Rejected   uint64       `json:"rejected"`
	Invalid    uint64       `json:"invalid"`
	Failed     uint64       `json:"failed"`
	Latency    LatencyStats `json:"latency_ms"`
}

// Stats returns the current snapshot.
func (m *DispatchMetrics) Stats() Snapshot {
	return Snapshot{
		Dispatched: atomic.LoadUint64(&m.dispatched),
		Executed:   atomic.LoadUint64(&m.executed),
		Rejected:   atomic.LoadUint64(&m.rejected),
		Invalid:    atomic.LoadUint64(&m.invalid),
		Failed:     atomic.LoadUint64(&m.failed),
		Latency:    m.Latency.Stats(),
	}
}

// LatencyHistogram tracks latency samples in a sliding window.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

// LatencyStats summarizes a window of samples in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
}

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats computes min/max/avg and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	pct := func(p float64) float64 {
		idx := int(p * float64(n-1))
		return sorted[idx]
	}

	return LatencyStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   pct(0.50),
		P95:   pct(0.95),
		P99:   pct(0.99),
	}
}
