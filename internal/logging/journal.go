package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultJournalSize = 512

// Entry is one captured log record, retained in memory for the diagnostics
// pipe to replay.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// journal is a fixed-size ring buffer of recent log entries. Writers never
// block; old entries are overwritten once the ring wraps.
type journal struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

var recentJournal = &journal{entries: make([]Entry, defaultJournalSize)}

func (j *journal) record(e Entry) {
	j.mu.Lock()
	j.entries[j.next] = e
	j.next++
	if j.next == len(j.entries) {
		j.next = 0
		j.full = true
	}
	j.mu.Unlock()
}

func (j *journal) snapshot() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.full {
		out := make([]Entry, j.next)
		copy(out, j.entries[:j.next])
		return out
	}
	out := make([]Entry, 0, len(j.entries))
	out = append(out, j.entries[j.next:]...)
	out = append(out, j.entries[:j.next]...)
	return out
}

// Recent returns the retained log entries, oldest first.
func Recent() []Entry {
	return recentJournal.snapshot()
}

// journalHandler tees records into the in-memory journal before passing them
// to the real output handler. Attrs bound with With() are retained so the
// component tag survives into the captured entry.
type journalHandler struct {
	base  slog.Handler
	bound []slog.Attr
}

func (h *journalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *journalHandler) Handle(ctx context.Context, record slog.Record) error {
	entry := Entry{
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
	}
	capture := func(a slog.Attr) bool {
		if a.Key == KeyComponent {
			entry.Component = a.Value.String()
			return true
		}
		if entry.Fields == nil {
			entry.Fields = make(map[string]any)
		}
		entry.Fields[a.Key] = a.Value.Any()
		return true
	}
	for _, a := range h.bound {
		capture(a)
	}
	record.Attrs(capture)
	recentJournal.record(entry)
	return h.base.Handle(ctx, record)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.bound)+len(attrs))
	merged = append(merged, h.bound...)
	merged = append(merged, attrs...)
	return &journalHandler{base: h.base.WithAttrs(attrs), bound: merged}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	return &journalHandler{base: h.base.WithGroup(name), bound: h.bound}
}
