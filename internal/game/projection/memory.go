package projection

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a ViewStore held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	views map[string]GameView
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{views: make(map[string]GameView)}
}

// Load implements ViewStore.
func (m *MemoryStore) Load(_ context.Context, gameID string) (GameView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[gameID]
	if !ok {
		return GameView{}, ErrViewNotFound
	}
	return v.clone(), nil
}

// Save implements ViewStore.
func (m *MemoryStore) Save(_ context.Context, view GameView, expectedLastSeq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views[view.ID].LastSeq != expectedLastSeq {
		return ErrStaleCheckpoint
	}
	m.views[view.ID] = view.clone()
	return nil
}

// List implements ViewStore.
func (m *MemoryStore) List(_ context.Context) ([]GameView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GameView, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, v.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Checkpoints implements ViewStore.
func (m *MemoryStore) Checkpoints(_ context.Context) (map[string]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uint64, len(m.views))
	for id, v := range m.views {
		out[id] = v.LastSeq
	}
	return out, nil
}
