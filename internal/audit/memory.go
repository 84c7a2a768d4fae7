package audit

import (
	"sync"
)

const defaultMemoryCapacity = 1000

// MemoryLog keeps the most recent entries in a bounded in-memory ring. It is
// intended for development and tests.
type MemoryLog struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// NewMemoryLog builds a MemoryLog bounded to the provided capacity.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryLog{capacity: capacity}
}

// Append records the entry, evicting the oldest once capacity is reached.
func (l *MemoryLog) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	return nil
}

// Read returns up to limit entries, newest first.
func (l *MemoryLog) Read(limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := len(l.entries)
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]Entry, 0, count)
	for i := len(l.entries) - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}
