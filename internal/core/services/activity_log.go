package services

import (
	"sync"
	"time"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
)

const defaultActivityLogSize = 100

// ActivityLog keeps the most recent bridge events for the /logs endpoint.
// A nil *ActivityLog discards entries.
type ActivityLog struct {
	mu       sync.Mutex
	entries  []domain.LogEntry
	capacity int
	nextID   int64
	now      func() time.Time
}

func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = defaultActivityLogSize
	}
	return &ActivityLog{
		entries:  make([]domain.LogEntry, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

func (l *ActivityLog) Add(level domain.LogLevel, clientID, message string) {
	if l == nil {
		return
	}

	switch level {
	case domain.LogLevelError:
		logger.Error(message, "client_id", clientID)
	case domain.LogLevelWarn:
		logger.Warn(message, "client_id", clientID)
	default:
		logger.Info(message, "client_id", clientID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry := domain.LogEntry{
		ID:        l.nextID,
		Timestamp: l.now(),
		Level:     level,
		Message:   message,
		ClientID:  clientID,
	}
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
}

func (l *ActivityLog) Info(clientID, message string) {
	l.Add(domain.LogLevelInfo, clientID, message)
}

func (l *ActivityLog) Warn(clientID, message string) {
	l.Add(domain.LogLevelWarn, clientID, message)
}

func (l *ActivityLog) Error(clientID, message string) {
	l.Add(domain.LogLevelError, clientID, message)
}

// Entries returns a copy of the retained entries, oldest first.
func (l *ActivityLog) Entries() []domain.LogEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
