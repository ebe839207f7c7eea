package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requests.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func waitForRows(t *testing.T, a *Archive, want int) []ArchivedRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := a.QueryRecent(context.Background(), 50, 0)
		if err != nil {
			t.Fatalf("query recent: %v", err)
		}
		if len(rows) >= want {
			return rows
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d archived rows", want)
	return nil
}

func TestSubmitThenQueryRecent(t *testing.T) {
	a := openTestArchive(t)
	a.Submit("POST", "/v1/chat/completions", 200, 42, "acct-1", time.Now())

	rows := waitForRows(t, a, 1)
	if rows[0].Method != "POST" || rows[0].Path != "/v1/chat/completions" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if rows[0].Upstream != "acct-1" {
		t.Fatalf("expected upstream acct-1, got %q", rows[0].Upstream)
	}
}

func TestQueryRecentOrdersNewestFirst(t *testing.T) {
	a := openTestArchive(t)
	base := time.Now().Add(-time.Hour)
	a.Submit("GET", "/one", 200, 1, "a", base)
	a.Submit("GET", "/two", 200, 1, "a", base.Add(time.Minute))

	rows := waitForRows(t, a, 2)
	if rows[0].Path != "/two" || rows[1].Path != "/one" {
		t.Fatalf("expected newest-first order, got %+v", rows)
	}
}

func TestQueryRecentRespectsLimitAndOffset(t *testing.T) {
	a := openTestArchive(t)
	for i := 0; i < 5; i++ {
		a.Submit("GET", "/n", 200, 1, "a", time.Now())
	}
	waitForRows(t, a, 5)

	rows, err := a.QueryRecent(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("query recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows with limit=2, got %d", len(rows))
	}
}

func TestSubmitDoesNotBlockWhenQueueSaturated(t *testing.T) {
	a := openTestArchive(t)
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth*2; i++ {
			a.Submit("GET", "/n", 200, 1, "a", time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked under queue saturation")
	}
}

func TestEmptyUpstreamStoredAsNull(t *testing.T) {
	a := openTestArchive(t)
	a.Submit("GET", "/no-upstream", 503, 5, "", time.Now())

	rows := waitForRows(t, a, 1)
	if rows[0].Upstream != "" {
		t.Fatalf("expected empty upstream, got %q", rows[0].Upstream)
	}
}
