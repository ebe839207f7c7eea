// Package stats implements spec.md §4.4 StatsTracker: monotonic request
// counters, a bounded latency sample ring, and a 6-slot hourly bucket ring.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	latencyCapacity = 1000
	bucketCount     = 6
)

// Snapshot is spec.md §4.4's StatsSnapshot.
type Snapshot struct {
	Total       uint64                  `json:"requests_total"`
	OK          uint64                  `json:"requests_ok"`
	Err         uint64                  `json:"requests_err"`
	SuccessRate float64                 `json:"success_rate"`
	AvgMs       float64                 `json:"avg_latency_ms"`
	P95Ms       uint64                  `json:"p95_latency_ms"`
	RPS         float64                 `json:"rps"`
	Buckets     [bucketCount]uint64     `json:"hourly_buckets"`
}

// Tracker is spec.md §4.4's StatsTracker.
type Tracker struct {
	total uint64
	ok    uint64
	err   uint64

	startedAt time.Time
	now       func() time.Time

	mu        sync.Mutex
	latencies []uint64 // ring, oldest at index head once full
	head      int
	full      bool

	buckets   [bucketCount]uint64
	lastSlot  int
	haveSlot  bool
}

// New returns a Tracker whose elapsed-time clock starts now.
func New() *Tracker {
	now := time.Now()
	return &Tracker{
		startedAt: now,
		now:       time.Now,
		latencies: make([]uint64, 0, latencyCapacity),
	}
}

// Record implements spec.md §4.4 record(success, latency_ms).
func (t *Tracker) Record(success bool, latencyMs uint64) {
	atomic.AddUint64(&t.total, 1)
	if success {
		atomic.AddUint64(&t.ok, 1)
	} else {
		atomic.AddUint64(&t.err, 1)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.latencies) < latencyCapacity {
		t.latencies = append(t.latencies, latencyMs)
	} else {
		t.latencies[t.head] = latencyMs
		t.head = (t.head + 1) % latencyCapacity
		t.full = true
	}

	elapsedHours := int(t.now().Sub(t.startedAt) / time.Hour)
	slot := elapsedHours % bucketCount
	if !t.haveSlot {
		t.haveSlot = true
		t.lastSlot = slot
	} else if slot != t.lastSlot {
		t.buckets[slot] = 0
		t.lastSlot = slot
	}
	t.buckets[slot]++
}

// Snapshot implements spec.md §4.4 snapshot().
func (t *Tracker) Snapshot() Snapshot {
	total := atomic.LoadUint64(&t.total)
	ok := atomic.LoadUint64(&t.ok)
	errs := atomic.LoadUint64(&t.err)

	var successRate float64
	if total > 0 {
		successRate = float64(ok) / float64(total)
	}

	t.mu.Lock()
	samples := make([]uint64, len(t.latencies))
	copy(samples, t.latencies)
	buckets := t.buckets
	currentBucket := buckets[t.lastSlot]
	t.mu.Unlock()

	var avg float64
	var p95 uint64
	if n := len(samples); n > 0 {
		sum := uint64(0)
		for _, v := range samples {
			sum += v
		}
		avg = float64(sum) / float64(n)

		sorted := make([]uint64, n)
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		idx := int(0.95 * float64(n))
		if idx >= n {
			idx = n - 1
		}
		p95 = sorted[idx]
	}

	elapsed := t.now().Sub(t.startedAt)
	var rps float64
	if elapsed <= 60*time.Second {
		if secs := elapsed.Seconds(); secs > 0 {
			rps = float64(total) / secs
		}
	} else {
		rps = float64(currentBucket) / 3600
	}

	return Snapshot{
		Total:       total,
		OK:          ok,
		Err:         errs,
		SuccessRate: successRate,
		AvgMs:       avg,
		P95Ms:       p95,
		RPS:         rps,
		Buckets:     buckets,
	}
}
