// Package storetest holds the behavioural checks every eventstore.Store
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/splendor/internal/eventstore"
	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/game/gems"
)

// Run exercises s. newStore must return an empty store for each call.
func Run(t *testing.T, newStore func(t *testing.T) eventstore.Store) {
	t.Run("AppendAssignsContiguousSeq", func(t *testing.T) { appendAssignsSeq(t, newStore(t)) })
	t.Run("ExpectedVersionConflict", func(t *testing.T) { expectedVersionConflict(t, newStore(t)) })
	t.Run("ConcurrentAppendsOneWins", func(t *testing.T) { concurrentAppends(t, newStore(t)) })
	t.Run("LoadAfterAndHeads", func(t *testing.T) { loadAfterAndHeads(t, newStore(t)) })
	t.Run("RejectsBadBatches", func(t *testing.T) { rejectsBadBatches(t, newStore(t)) })
}

var at = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func opening(gameID string) []event.Event {
	return []event.Event{
		event.New(gameID, at, event.GameCreated{CreatorID: "A"}),
		event.New(gameID, at, event.PlayerJoined{PlayerID: "p1", OwnerID: "A", Name: "Alice"}),
	}
}

func appendAssignsSeq(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	stamped, err := s.Append(ctx, "g1", 0, opening("g1"))
	require.NoError(t, err)
	require.Len(t, stamped, 2)
	assert.Equal(t, uint64(1), stamped[0].Seq)
	assert.Equal(t, uint64(2), stamped[1].Seq)

	more, err := s.Append(ctx, "g1", 2, []event.Event{
		event.New("g1", at, event.GemsTaken{PlayerID: "p1", Gems: gems.Collection{Ruby: 2}}),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), more[0].Seq)

	loaded, err := s.Load(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, evt := range loaded {
		assert.Equal(t, uint64(i+1), evt.Seq)
		assert.Equal(t, "g1", evt.GameID)
		assert.True(t, at.Equal(evt.OccurredAt), "occurred at %v", evt.OccurredAt)
	}
	assert.Equal(t, event.GemsTaken{PlayerID: "p1", Gems: gems.Collection{Ruby: 2}}, loaded[2].Payload)

	empty, err := s.Load(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func expectedVersionConflict(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Append(ctx, "g1", 0, opening("g1"))
	require.NoError(t, err)

	_, err = s.Append(ctx, "g1", 0, opening("g1"))
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	_, err = s.Append(ctx, "g1", 1, []event.Event{event.New("g1", at, event.TurnEnded{PlayerID: "p1"})})
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	_, err = s.Append(ctx, "g2", 5, opening("g2"))
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	loaded, err := s.Load(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, loaded, 2, "a rejected batch must store nothing")
}

func concurrentAppends(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Append(ctx, "g1", 0, opening("g1"))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Append(ctx, "g1", 2, []event.Event{
				event.New("g1", at, event.TurnStarted{PlayerID: "p1"}),
				event.New("g1", at, event.TurnEnded{PlayerID: "p1"}),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	}
	assert.Equal(t, 1, wins)
	loaded, err := s.Load(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, loaded, 4)
}

func loadAfterAndHeads(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Append(ctx, "g1", 0, opening("g1"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "g2", 0, opening("g2")[:1])
	require.NoError(t, err)

	tail, err := s.LoadAfter(ctx, "g1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(2), tail[0].Seq)

	none, err := s.LoadAfter(ctx, "g1", 2)
	require.NoError(t, err)
	assert.Empty(t, none)

	heads, err := s.StreamHeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"g1": 2, "g2": 1}, heads)
}

func rejectsBadBatches(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Append(ctx, "g1", 0, nil)
	assert.Error(t, err)
	_, err = s.Append(ctx, "g1", 0, opening("other"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}
