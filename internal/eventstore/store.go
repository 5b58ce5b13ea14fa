// Package eventstore defines the append-only stream contract the game
// service writes through, plus an in-memory implementation.
package eventstore

import (
	"context"
	"errors"

	"github.com/cory-johannsen/splendor/internal/game/event"
)

// ErrConcurrencyConflict is returned by Append when the stream has moved past
// the expected version. Callers must reload and recompute, never re-append.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// Store is an append-only log of per-game event streams.
type Store interface {
	// Append stores evts at the end of gameID's stream.
	//
	// Precondition: expectedVersion is the Seq of the last event the caller
	// folded (0 for a new stream); evts is non-empty and every event's GameID
	// equals gameID.
	// Postcondition: Either every event is stored with Seq expectedVersion+1,
	// expectedVersion+2, ... and the stamped events are returned, or nothing
	// is stored and the error wraps ErrConcurrencyConflict (or an
	// infrastructure error).
	Append(ctx context.Context, gameID string, expectedVersion uint64, evts []event.Event) ([]event.Event, error)
	// Load returns the whole stream of gameID in Seq order; empty when the
	// stream does not exist.
	Load(ctx context.Context, gameID string) ([]event.Event, error)
	// LoadAfter returns the events of gameID with Seq > afterSeq, in order.
	LoadAfter(ctx context.Context, gameID string, afterSeq uint64) ([]event.Event, error)
	// StreamHeads returns the last Seq of every stream keyed by game ID.
	StreamHeads(ctx context.Context) (map[string]uint64, error)
}
