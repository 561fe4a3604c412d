// Package diag implements the diagnostic stream: a structured logger that
// keeps recent entries in memory for inspection and optionally mirrors them
// to a rotating JSON log file.
package diag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one record held by the in-memory ring.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

// DefaultBufferSize is the ring capacity used when none is configured.
const DefaultBufferSize = 1000

// ring is the storage shared by a RingHandler and every handler derived from
// it through WithAttrs or WithGroup.
type ring struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// RingHandler is a slog.Handler that retains the most recent entries.
type RingHandler struct {
	ring   *ring
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewRingHandler returns a handler retaining up to max entries at or above
// level.
func NewRingHandler(max int, level slog.Leveler) *RingHandler {
	if max <= 0 {
		max = DefaultBufferSize
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{
		ring:  &ring{entries: make([]Entry, 0, min(max, 64)), max: max},
		level: level,
	}
}

// Enabled implements slog.Handler.
func (h *RingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *RingHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
	prefix := strings.Join(h.groups, ".")
	add := func(a slog.Attr) {
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		attrs[key] = a.Value.Resolve().String()
	}
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Resolve().String()
	}
	record.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	r := h.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		Time:    record.Time,
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	if over := len(r.entries) - r.max; over > 0 {
		r.entries = append(r.entries[:0], r.entries[over:]...)
	}
	return nil
}

// WithAttrs implements slog.Handler. Attributes are qualified with any
// groups opened so far.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// Entries returns a copy of every retained entry, oldest first.
func (h *RingHandler) Entries() []Entry {
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	return append([]Entry(nil), h.ring.entries...)
}

// Recent returns up to n of the newest entries, oldest first.
func (h *RingHandler) Recent(n int) []Entry {
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	entries := h.ring.entries
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	return append([]Entry(nil), entries[len(entries)-n:]...)
}

// Search returns the entries whose message, attribute keys or attribute
// values contain query, ignoring case.
func (h *RingHandler) Search(query string) []Entry {
	query = strings.ToLower(query)
	h.ring.mu.RLock()
	defer h.ring.mu.RUnlock()
	var out []Entry
	for _, e := range h.ring.entries {
		if strings.Contains(strings.ToLower(e.Message), query) {
			out = append(out, e)
			continue
		}
		for k, v := range e.Attrs {
			if strings.Contains(strings.ToLower(k), query) || strings.Contains(strings.ToLower(v), query) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Clear drops every retained entry.
func (h *RingHandler) Clear() {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	h.ring.entries = h.ring.entries[:0]
}

// fanout delivers each record to every handler that accepts it.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Options configures NewLogger.
type Options struct {
	// Level is the minimum level recorded. Defaults to info.
	Level slog.Level
	// BufferSize is the ring capacity. Defaults to DefaultBufferSize.
	BufferSize int
	// File, if non-nil, receives every record as a JSON line.
	File io.Writer
}

// Logger couples a *slog.Logger with the ring it writes to.
type Logger struct {
	*slog.Logger
	Ring *RingHandler
}

// NewLogger builds the diagnostic logger.
func NewLogger(opts Options) *Logger {
	ringHandler := NewRingHandler(opts.BufferSize, opts.Level)
	var handler slog.Handler = ringHandler
	if opts.File != nil {
		handler = fanout{ringHandler, slog.NewJSONHandler(opts.File, &slog.HandlerOptions{Level: opts.Level})}
	}
	return &Logger{Logger: slog.New(handler), Ring: ringHandler}
}

// ParseLevel maps a configured level name onto a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.New("invalid log level: " + s)
}
