// Package events implements spec.md §4.5 LogBroadcaster: an in-process,
// multi-producer multi-consumer fan-out of structured LogEntry values with
// a bounded backlog, generalized from the teacher's free-form Event type to
// spec.md §3's kind-tagged LogEntry shape.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind is one of the three LogEntry tags spec.md §3 defines.
type Kind string

const (
	KindProxy  Kind = "proxy"
	KindSystem Kind = "system"
	KindError  Kind = "error"
)

// backlog is the 256-entry bound from spec.md §4.5. The Broadcaster keeps
// no history of its own; backlog is each subscriber channel's buffer depth
// (and the size of TextMirror's line ring).
const backlog = 256

// LogEntry is spec.md §3's LogEntry.
type LogEntry struct {
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method,omitempty"`
	Path        string    `json:"path,omitempty"`
	Status      int       `json:"status,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Upstream    string    `json:"upstream,omitempty"`
	Level       string    `json:"level,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Broadcaster is spec.md §4.5's LogBroadcaster — a bounded fan-out of
// LogEntry values, grounded on the original implementation's
// tokio::sync::broadcast::channel(256) (original_source's
// src-tauri/src/proxy/admin/logs.rs): subscribe() there never replays
// history to a new receiver, only delivers entries sent from that point
// forward, so Subscribe here does the same.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan LogEntry
	nextID      int
	now         func() time.Time
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]chan LogEntry),
		now:         time.Now,
	}
}

// Subscribe registers a new consumer. It receives only entries emitted
// from this point forward — no backlog replay, per spec.md §4.5. The
// channel has depth `backlog`; if the consumer falls behind, further
// sends are dropped rather than blocking the producer.
func (b *Broadcaster) Subscribe() (id int, ch <-chan LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := make(chan LogEntry, backlog)
	id = b.nextID
	b.nextID++
	b.subscribers[id] = c

	return id, c
}

// Unsubscribe removes and closes a consumer's channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// EmitProxy records a proxy-kind entry per spec.md §4.5's emit_proxy helper.
func (b *Broadcaster) EmitProxy(method, path string, status int, durationMs int64, upstream string) {
	b.publish(LogEntry{
		Kind:       KindProxy,
		Timestamp:  b.now(),
		Method:     method,
		Path:       path,
		Status:     status,
		DurationMs: durationMs,
		Upstream:   upstream,
	})
}

// EmitSystem records a system- or error-kind entry per spec.md §4.5's
// emit_system helper; level "error" (case-insensitive) tags the entry
// KindError rather than KindSystem, matching spec.md §3's kind split. The
// entry is also funneled through slog so the plain-text log and the
// broadcast stream always agree.
func (b *Broadcaster) EmitSystem(level, message string) {
	kind := KindSystem
	if isErrorLevel(level) {
		kind = KindError
		slog.Error(message)
	} else {
		slog.Log(context.Background(), slogLevel(level), message)
	}
	b.publish(LogEntry{
		Kind:      kind,
		Timestamp: b.now(),
		Level:     level,
		Message:   message,
	})
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG", "Debug":
		return slog.LevelDebug
	case "warn", "WARN", "Warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func isErrorLevel(level string) bool {
	return level == "error" || level == "ERROR" || level == "Error"
}

func (b *Broadcaster) publish(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}
