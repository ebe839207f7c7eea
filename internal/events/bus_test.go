package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesNothingUntilNextEmit(t *testing.T) {
	b := NewBroadcaster()
	b.EmitSystem("info", "before subscribing")

	_, ch := b.Subscribe()

	select {
	case entry := <-ch:
		t.Fatalf("expected no backlog replay, got %+v", entry)
	case <-time.After(50 * time.Millisecond):
	}

	b.EmitSystem("info", "after subscribing")

	select {
	case entry := <-ch:
		if entry.Message != "after subscribing" {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live entry")
	}
}

func TestSubscribeReceivesNewEntriesLive(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()

	b.EmitProxy("GET", "/v1/chat/completions", 200, 42, "acct-1")

	select {
	case entry := <-ch:
		if entry.Kind != KindProxy || entry.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live entry")
	}
}

func TestEmitSystemErrorLevelTagsKindError(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()
	b.EmitSystem("error", "refresh failed")

	select {
	case entry := <-ch:
		if entry.Kind != KindError {
			t.Fatalf("expected KindError, got %v", entry.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe()
	_ = ch // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < backlog+10; i++ {
			b.EmitSystem("info", "entry")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full, undrained subscriber channel")
	}
}
