package session

import (
	"context"
	"sync"
)

// Memory keeps sessions in process memory; they are lost on restart
type Memory struct {
	mu       sync.RWMutex
	sessions map[int64]State
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[int64]State)}
}

func (m *Memory) Get(ctx context.Context, userID int64) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID], nil
}

func (m *Memory) Set(ctx context.Context, userID int64, state State) error {
	if state == None {
		return m.Clear(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = state
	return nil
}

func (m *Memory) Clear(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
