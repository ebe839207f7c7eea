package stats

import (
	"testing"
	"time"
)

func TestSnapshotCountsAndSuccessRate(t *testing.T) {
	tr := New()
	tr.Record(true, 10)
	tr.Record(true, 20)
	tr.Record(false, 30)

	snap := tr.Snapshot()
	if snap.Total != 3 || snap.OK != 2 || snap.Err != 1 {
		t.Fatalf("unexpected counts: %+v", snap)
	}
	if snap.SuccessRate < 0.666 || snap.SuccessRate > 0.667 {
		t.Fatalf("unexpected success rate: %v", snap.SuccessRate)
	}
	if snap.AvgMs != 20 {
		t.Fatalf("expected avg 20, got %v", snap.AvgMs)
	}
}

func TestSnapshotZeroRequestsNoDivideByZero(t *testing.T) {
	tr := New()
	snap := tr.Snapshot()
	if snap.Total != 0 || snap.SuccessRate != 0 || snap.AvgMs != 0 || snap.P95Ms != 0 {
		t.Fatalf("expected all-zero snapshot, got %+v", snap)
	}
}

func TestLatencyRingOverwritesOldestOnceFull(t *testing.T) {
	tr := New()
	for i := 0; i < latencyCapacity; i++ {
		tr.Record(true, 1)
	}
	tr.Record(true, 1000) // overwrites the oldest sample (a 1)

	// 999 ones plus one 1000: sorted[int(0.95*1000)] is still a 1, while the
	// mean shows the ring still holds exactly 1000 samples.
	snap := tr.Snapshot()
	if snap.P95Ms != 1 {
		t.Fatalf("expected p95 of 1 with a single outlier among 1000 samples, got %d", snap.P95Ms)
	}
	if snap.AvgMs != 1.999 {
		t.Fatalf("expected avg 1.999 (oldest 1 replaced by 1000), got %v", snap.AvgMs)
	}
}

func TestRPSUsesElapsedSecondsWithinFirstMinute(t *testing.T) {
	tr := New()
	start := time.Unix(1000, 0)
	cur := start
	tr.now = func() time.Time { return cur }
	tr.startedAt = start

	tr.Record(true, 1)
	tr.Record(true, 1)
	cur = start.Add(2 * time.Second)

	snap := tr.Snapshot()
	if snap.RPS != 1 {
		t.Fatalf("expected rps 1 (2 requests / 2s), got %v", snap.RPS)
	}
}

func TestRPSFallsBackToHourlyBucketAfterOneMinute(t *testing.T) {
	tr := New()
	start := time.Unix(1000, 0)
	cur := start
	tr.now = func() time.Time { return cur }
	tr.startedAt = start

	tr.Record(true, 1)
	cur = start.Add(90 * time.Second)

	snap := tr.Snapshot()
	if snap.RPS != 1.0/3600 {
		t.Fatalf("expected rps derived from current hourly bucket, got %v", snap.RPS)
	}
}
