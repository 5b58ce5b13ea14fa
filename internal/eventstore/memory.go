package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/splendor/internal/game/event"
)

// Memory is a Store held in process memory. Appends to one stream are
// serialized by a single lock, which makes each batch atomic.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]event.Event
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]event.Event)}
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, gameID string, expectedVersion uint64, evts []event.Event) ([]event.Event, error) {
	if err := CheckBatch(gameID, evts); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[gameID]
	if head := uint64(len(stream)); head != expectedVersion {
		return nil, fmt.Errorf("%w: stream %s at version %d, expected %d", ErrConcurrencyConflict, gameID, head, expectedVersion)
	}
	stamped := Stamp(expectedVersion, evts)
	m.streams[gameID] = append(stream, stamped...)
	return stamped, nil
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context, gameID string) ([]event.Event, error) {
	return m.LoadAfter(ctx, gameID, 0)
}

// LoadAfter implements Store.
func (m *Memory) LoadAfter(_ context.Context, gameID string, afterSeq uint64) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream := m.streams[gameID]
	if afterSeq >= uint64(len(stream)) {
		return nil, nil
	}
	out := make([]event.Event, len(stream)-int(afterSeq))
	copy(out, stream[afterSeq:])
	return out, nil
}

// StreamHeads implements Store.
func (m *Memory) StreamHeads(_ context.Context) (map[string]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	heads := make(map[string]uint64, len(m.streams))
	for id, stream := range m.streams {
		heads[id] = uint64(len(stream))
	}
	return heads, nil
}

// CheckBatch validates an append batch before any Store touches storage.
func CheckBatch(gameID string, evts []event.Event) error {
	if gameID == "" {
		return errors.New("append: empty game id")
	}
	if len(evts) == 0 {
		return fmt.Errorf("append to %s: no events", gameID)
	}
	for _, evt := range evts {
		if evt.GameID != gameID {
			return fmt.Errorf("append to %s: event belongs to %q", gameID, evt.GameID)
		}
		if evt.Payload == nil {
			return fmt.Errorf("append to %s: event without payload", gameID)
		}
	}
	return nil
}

// Stamp returns copies of evts numbered consecutively after version.
func Stamp(version uint64, evts []event.Event) []event.Event {
	out := make([]event.Event, len(evts))
	for i, evt := range evts {
		evt.Seq = version + uint64(i) + 1
		out[i] = evt
	}
	return out
}
