package audit

import (
	"context"
	"sync"
)

// MemoryLogger keeps entries in process memory
type MemoryLogger struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryLogger creates an empty in-memory logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Log(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

// Entries returns a copy of every recorded entry in insertion order
func (m *MemoryLogger) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByOperation returns the entries recorded for op
func (m *MemoryLogger) ByOperation(op Operation) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded entries
func (m *MemoryLogger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryLogger) Close() error { return nil }
