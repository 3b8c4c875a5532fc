// Package logbuf collects the log lines of one request and emits them as a single record.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Entry struct {
	Level   slog.Level
	Message string
	At      time.Time
	Attrs   []slog.Attr
}

// Logger buffers entries until Flush. All methods are safe on a nil Logger.
type Logger struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	entries []Entry
	now     func() time.Time
}

func New(attrs ...slog.Attr) *Logger {
	return &Logger{attrs: append([]slog.Attr(nil), attrs...), now: time.Now}
}

// Child returns a logger with an empty buffer that inherits l's attributes.
func (l *Logger) Child(attrs ...slog.Attr) *Logger {
	if l == nil {
		return New(attrs...)
	}
	l.mu.Lock()
	inherited := make([]slog.Attr, 0, len(l.attrs)+len(attrs))
	inherited = append(inherited, l.attrs...)
	l.mu.Unlock()
	return &Logger{attrs: append(inherited, attrs...), now: l.now}
}

// Add attaches attributes to the flushed record rather than to one entry.
func (l *Logger) Add(attrs ...slog.Attr) {
	if l == nil || len(attrs) == 0 {
		return
	}
	l.mu.Lock()
	l.attrs = append(l.attrs, attrs...)
	l.mu.Unlock()
}

func (l *Logger) Log(level slog.Level, message string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, Entry{Level: level, Message: message, At: l.now(), Attrs: attrs})
	l.mu.Unlock()
}

func (l *Logger) Debug(message string, attrs ...slog.Attr) { l.Log(slog.LevelDebug, message, attrs...) }
func (l *Logger) Info(message string, attrs ...slog.Attr)  { l.Log(slog.LevelInfo, message, attrs...) }
func (l *Logger) Warn(message string, attrs ...slog.Attr)  { l.Log(slog.LevelWarn, message, attrs...) }
func (l *Logger) Error(message string, attrs ...slog.Attr) { l.Log(slog.LevelError, message, attrs...) }

func (l *Logger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Flush empties the buffer and returns the record attributes plus an
// "entries" list, together with the highest level seen.
func (l *Logger) Flush() ([]slog.Attr, slog.Level) {
	if l == nil {
		return nil, slog.LevelInfo
	}
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	attrs := append([]slog.Attr(nil), l.attrs...)
	l.mu.Unlock()

	level := slog.LevelInfo
	payload := make([]map[string]any, 0, len(entries))
	for i, entry := range entries {
		if entry.Level > level {
			level = entry.Level
		}
		item := attrsToMap(entry.Attrs)
		item["seq"] = i + 1
		item["level"] = entry.Level.String()
		item["message"] = entry.Message
		item["at"] = entry.At
		payload = append(payload, item)
	}
	return append(attrs, slog.Any("entries", payload)), level
}

// FlushTo writes the buffered record to target as one log line.
func (l *Logger) FlushTo(ctx context.Context, target *slog.Logger, message string) {
	if l == nil || target == nil {
		return
	}
	attrs, level := l.Flush()
	target.LogAttrs(ctx, level, message, attrs...)
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	result := make(map[string]any, len(attrs)+4)
	for _, attr := range attrs {
		value := attr.Value.Resolve()
		if value.Kind() == slog.KindGroup {
			result[attr.Key] = attrsToMap(value.Group())
			continue
		}
		result[attr.Key] = value.Any()
	}
	return result
}
