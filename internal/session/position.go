package session

import (
	"context"
	"sync"
)

// PositionStore persists the catalog index an expert reached.
type PositionStore interface {
	LoadPosition(ctx context.Context, expertID string) (int, bool, error)
	SavePosition(ctx context.Context, expertID string, index int) error
}

// RestorePosition validates a saved index against a catalog of total images.
// An index equal to total means the queue was finished. Anything outside
// [0, total] restarts at 0 and reports false.
func RestorePosition(saved, total int) (int, bool) {
	if saved < 0 || saved > total {
		return 0, false
	}
	return saved, true
}

// MemoryPositions keeps positions in process memory.
type MemoryPositions struct {
	mu        sync.Mutex
	positions map[string]int
}

func NewMemoryPositions() *MemoryPositions {
	return &MemoryPositions{positions: make(map[string]int)}
}

func (m *MemoryPositions) LoadPosition(_ context.Context, expertID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, ok := m.positions[expertID]
	return index, ok, nil
}

func (m *MemoryPositions) SavePosition(_ context.Context, expertID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[expertID] = index
	return nil
}
