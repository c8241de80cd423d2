// Package activity provides the append-only, session-scoped activity log that
// every workflow component writes to. Full history is retained; reads are
// capped to the most recent entries.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"promoflow/pkg/contracts/domain"
)

// DefaultReadLimit is the number of entries returned when no limit is given
const DefaultReadLimit = 50

// Listener receives every entry after it is appended
type Listener func(domain.LogEntry)

// Log is an append-only list of timestamped, leveled messages
type Log struct {
	mu        sync.RWMutex
	entries   []domain.LogEntry
	listeners []Listener
	readLimit int
	logger    *slog.Logger
	now       func() time.Time
}

// NewLog creates an empty log. Entries are mirrored to logger at the matching level.
func NewLog(logger *slog.Logger, readLimit int) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return &Log{
		readLimit: readLimit,
		logger:    logger.With(slog.String("component", "activity_log")),
		now:       time.Now,
	}
}

// Subscribe registers a listener for new entries
func (l *Log) Subscribe(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append adds one entry and returns it
func (l *Log) Append(level domain.LogLevel, message string) domain.LogEntry {
	entry := domain.LogEntry{Timestamp: l.now(), Level: level, Message: message}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	l.logger.Log(context.Background(), slogLevel(level), message)
	for _, fn := range listeners {
		fn(entry)
	}
	return entry
}

// Infof appends an INFO entry
func (l *Log) Infof(format string, args ...any) {
	l.Append(domain.LogLevelInfo, fmt.Sprintf(format, args...))
}

// Warnf appends a WARNING entry
func (l *Log) Warnf(format string, args ...any) {
	l.Append(domain.LogLevelWarning, fmt.Sprintf(format, args...))
}

// Errorf appends an ERROR entry
func (l *Log) Errorf(format string, args ...any) {
	l.Append(domain.LogLevelError, fmt.Sprintf(format, args...))
}

// Recent returns the most recent limit entries, oldest first.
// A non-positive limit uses the configured read limit.
func (l *Log) Recent(limit int) []domain.LogEntry {
	if limit <= 0 {
		limit = l.readLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if len(l.entries) > limit {
		start = len(l.entries) - limit
	}
	out := make([]domain.LogEntry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Len returns the total number of entries ever appended (since the last Clear)
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops the history. Used by the operator's "clear log" action only.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

func slogLevel(level domain.LogLevel) slog.Level {
	switch level {
	case domain.LogLevelError:
		return slog.LevelError
	case domain.LogLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
