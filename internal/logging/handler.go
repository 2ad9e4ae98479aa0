package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// MaxMessageLength is the maximum length of a retained attribute string
	// before truncation.
	MaxMessageLength = 4096

	// MaxRecentRecords is the number of warn/error records retained.
	MaxRecentRecords = 100
)

// Entry is one retained log record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   string // key=value pairs, space separated
}

func (e Entry) String() string {
	s := fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05.000"), e.Level, e.Message)
	if e.Attrs != "" {
		s += " " + e.Attrs
	}
	return s
}

// Recent is a circular buffer of the most recent warn/error records. It is
// shared by every handler derived from one RecentHandler.
type Recent struct {
	mu     sync.Mutex
	buffer []Entry
	bufIdx int
	filled bool
	counts map[slog.Level]int64
}

// NewRecent creates an empty buffer.
func NewRecent() *Recent {
	return &Recent{
		buffer: make([]Entry, MaxRecentRecords),
		counts: make(map[slog.Level]int64),
	}
}

func (r *Recent) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer[r.bufIdx] = e
	r.bufIdx = (r.bufIdx + 1) % MaxRecentRecords
	if r.bufIdx == 0 {
		r.filled = true
	}
	r.counts[e.Level]++
}

// Entries returns up to n of the most recent records, oldest first.
func (r *Recent) Entries(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.bufIdx
	if r.filled {
		size = MaxRecentRecords
	}
	if n > size {
		n = size
	}

	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.bufIdx - n + i + MaxRecentRecords) % MaxRecentRecords
		entries = append(entries, r.buffer[idx])
	}
	return entries
}

// Count returns how many records of level were retained over the buffer's
// lifetime (including ones since overwritten).
func (r *Recent) Count(level slog.Level) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[level]
}

// RecentHandler forwards records to the next handler and retains warn and
// error records in a Recent buffer, even when the next handler discards them.
type RecentHandler struct {
	next   slog.Handler
	recent *Recent
	attrs  string
	group  string
}

// NewRecentHandler wraps next.
func NewRecentHandler(next slog.Handler, recent *Recent) *RecentHandler {
	return &RecentHandler{next: next, recent: recent}
}

// Enabled implements slog.Handler.
func (h *RecentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn || h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RecentHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		var b strings.Builder
		b.WriteString(h.attrs)
		r.Attrs(func(a slog.Attr) bool {
			writeAttr(&b, h.group, a)
			return true
		})
		attrs := b.String()
		if len(attrs) > MaxMessageLength {
			attrs = attrs[:MaxMessageLength] + "...(truncated)"
		}
		h.recent.add(Entry{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	}

	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *RecentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	return &RecentHandler{
		next:   h.next.WithAttrs(attrs),
		recent: h.recent,
		attrs:  b.String(),
		group:  h.group,
	}
}

// WithGroup implements slog.Handler.
func (h *RecentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &RecentHandler{
		next:   h.next.WithGroup(name),
		recent: h.recent,
		attrs:  h.attrs,
		group:  group,
	}
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key == "" {
			key = group
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
