package journal

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is how many records of each kind Memory keeps
const DefaultMemoryCapacity = 200

// Memory is a bounded in-memory Journal. Oldest records are dropped first.
type Memory struct {
	mu            sync.RWMutex
	capacity      int
	broadcasts    []BroadcastRecord
	registrations []RegistrationRecord
}

// NewMemory creates an in-memory journal holding up to capacity records of each kind
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) RecordBroadcast(ctx context.Context, rec BroadcastRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Buttons = append([]string(nil), rec.Buttons...)
	m.broadcasts = append(m.broadcasts, rec)
	if len(m.broadcasts) > m.capacity {
		m.broadcasts = m.broadcasts[len(m.broadcasts)-m.capacity:]
	}
	return nil
}

func (m *Memory) RecordRegistration(ctx context.Context, rec RegistrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registrations = append(m.registrations, rec)
	if len(m.registrations) > m.capacity {
		m.registrations = m.registrations[len(m.registrations)-m.capacity:]
	}
	return nil
}

func (m *Memory) RecentBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.broadcasts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]BroadcastRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.broadcasts[i])
	}
	return out, nil
}

// Registrations returns the recorded registrations, oldest first
func (m *Memory) Registrations() []RegistrationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]RegistrationRecord(nil), m.registrations...)
}

func (m *Memory) Close() error {
	return nil
}
