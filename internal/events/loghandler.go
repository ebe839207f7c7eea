package events

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LogLine is a text-rendered view of one slog.Record, captured so the
// acctgate binary's own stderr log stays in lockstep with whatever the
// Broadcaster funnels to the admin dashboard (see EmitSystem).
type LogLine struct {
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Time    time.Time      `json:"ts"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// TextMirror is an slog.Handler that writes every record through a plain
// text handler while also keeping the last `backlog` lines in memory,
// mirroring the same bound the Broadcaster ring used to carry in
// internal/events/bus.go before this one's sole handler duties (Handle,
// Enabled, WithAttrs, WithGroup) became the only thing any caller
// exercises.
type TextMirror struct {
	inner     slog.Handler
	mu        sync.RWMutex
	ring      []LogLine
	ringPos   int
	ringCount int
	level     slog.Leveler
	attrs     []slog.Attr
	groups    []string
}

// NewTextMirror returns a TextMirror writing to os.Stderr at level, with a
// backlog-sized ring of the most recent lines.
func NewTextMirror(level slog.Leveler) *TextMirror {
	return &TextMirror{
		inner: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		ring:  make([]LogLine, backlog),
		level: level,
	}
}

func (h *TextMirror) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *TextMirror) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	attrs := make(map[string]any)
	prefix := groupPrefix(h.groups)
	for _, a := range h.attrs {
		attrs[prefix+a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Any()
		return true
	})

	line := LogLine{
		Level:   r.Level.String(),
		Message: r.Message,
		Time:    r.Time,
	}
	if len(attrs) > 0 {
		line.Attrs = attrs
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.ringPos] = line
	h.ringPos = (h.ringPos + 1) % backlog
	if h.ringCount < backlog {
		h.ringCount++
	}
	return nil
}

func (h *TextMirror) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TextMirror{
		inner:     h.inner.WithAttrs(attrs),
		ring:      h.ring,
		ringPos:   h.ringPos,
		ringCount: h.ringCount,
		level:     h.level,
		attrs:     append(cloneAttrs(h.attrs), attrs...),
		groups:    h.groups,
	}
}

func (h *TextMirror) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &TextMirror{
		inner:     h.inner.WithGroup(name),
		ring:      h.ring,
		ringPos:   h.ringPos,
		ringCount: h.ringCount,
		level:     h.level,
		attrs:     cloneAttrs(h.attrs),
		groups:    append(append([]string{}, h.groups...), name),
	}
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}

func cloneAttrs(attrs []slog.Attr) []slog.Attr {
	if len(attrs) == 0 {
		return nil
	}
	c := make([]slog.Attr, len(attrs))
	copy(c, attrs)
	return c
}
