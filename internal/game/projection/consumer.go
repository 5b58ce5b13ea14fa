package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/splendor/internal/game/event"
)

var (
	// ErrViewNotFound is returned by a ViewStore when no view exists for a game.
	ErrViewNotFound = errors.New("view not found")
	// ErrStaleCheckpoint is returned by ViewStore.Save when another writer
	// advanced the view first.
	ErrStaleCheckpoint = errors.New("stale view checkpoint")
)

// ViewStore persists views together with their checkpoint.
type ViewStore interface {
	// Load returns the stored view, or ErrViewNotFound.
	Load(ctx context.Context, gameID string) (GameView, error)
	// Save stores view only if the stored checkpoint still equals
	// expectedLastSeq (0 for a view that does not exist yet); otherwise it
	// returns ErrStaleCheckpoint.
	Save(ctx context.Context, view GameView, expectedLastSeq uint64) error
	// List returns every stored view ordered by creation time.
	List(ctx context.Context) ([]GameView, error)
	// Checkpoints returns the LastSeq of every stored view keyed by game ID.
	Checkpoints(ctx context.Context) (map[string]uint64, error)
}

// EventSource reads stored events for catch-up.
type EventSource interface {
	// LoadAfter returns the events of gameID with Seq > afterSeq, in order.
	LoadAfter(ctx context.Context, gameID string, afterSeq uint64) ([]event.Event, error)
}

// Consumer applies delivered events to stored views at most once each.
//
// Deliveries may repeat, arrive out of order, or skip events: anything at or
// below the view's checkpoint is discarded and gaps are filled from the
// EventSource.
type Consumer struct {
	views       ViewStore
	source      EventSource
	logger      *zap.Logger
	maxAttempts int
}

// Result reports what one delivery did to a single game's view.
type Result struct {
	GameID string
	// Applied lists the events newly mirrored into the view, in order.
	Applied []event.Event
	// Duplicates counts delivered events that were already applied.
	Duplicates int
	View       GameView
}

// NewConsumer creates a Consumer.
//
// Precondition: views, source and logger must be non-nil; maxAttempts < 1 is treated as 1.
func NewConsumer(views ViewStore, source EventSource, logger *zap.Logger, maxAttempts int) *Consumer {
	return &Consumer{views: views, source: source, logger: logger, maxAttempts: max(1, maxAttempts)}
}

// Deliver applies a batch that may span several games.
func (c *Consumer) Deliver(ctx context.Context, evts []event.Event) ([]Result, error) {
	byGame := make(map[string][]event.Event)
	var order []string
	for _, evt := range evts {
		if _, seen := byGame[evt.GameID]; !seen {
			order = append(order, evt.GameID)
		}
		byGame[evt.GameID] = append(byGame[evt.GameID], evt)
	}
	results := make([]Result, 0, len(order))
	for _, id := range order {
		res, err := c.apply(ctx, id, byGame[id], false)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Sync brings gameID's view up to the head of its stream.
func (c *Consumer) Sync(ctx context.Context, gameID string) (Result, error) {
	return c.apply(ctx, gameID, nil, true)
}

func (c *Consumer) apply(ctx context.Context, gameID string, delivered []event.Event, catchUp bool) (Result, error) {
	res := Result{GameID: gameID}
	for attempt := 1; ; attempt++ {
		view, err := c.views.Load(ctx, gameID)
		if err != nil && !errors.Is(err, ErrViewNotFound) {
			return res, fmt.Errorf("loading view %s: %w", gameID, err)
		}
		checkpoint := view.LastSeq

		pending, dupes := fresh(delivered, checkpoint)
		res.Duplicates = dupes
		if catchUp || (len(pending) > 0 && pending[0].Seq != checkpoint+1) {
			missing, err := c.source.LoadAfter(ctx, gameID, checkpoint)
			if err != nil {
				return res, fmt.Errorf("catching up %s after seq %d: %w", gameID, checkpoint, err)
			}
			if !catchUp {
				c.logger.Debug("filling gap from event source",
					zap.String("game_id", gameID),
					zap.Uint64("checkpoint", checkpoint),
					zap.Uint64("delivered_seq", pending[0].Seq),
					zap.Int("loaded", len(missing)),
				)
			}
			pending, _ = fresh(append(missing, pending...), checkpoint)
		}

		next := view
		var applied []event.Event
		for _, evt := range pending {
			if evt.Seq != next.LastSeq+1 {
				break
			}
			v, err := Apply(next, evt)
			if err != nil {
				return res, fmt.Errorf("projecting %s seq %d: %w", gameID, evt.Seq, err)
			}
			next = v
			applied = append(applied, evt)
		}
		if len(applied) == 0 {
			res.View = view
			return res, nil
		}

		err = c.views.Save(ctx, next, checkpoint)
		if errors.Is(err, ErrStaleCheckpoint) && attempt < c.maxAttempts {
			c.logger.Debug("view checkpoint moved, retrying",
				zap.String("game_id", gameID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("saving view %s: %w", gameID, err)
		}
		res.Applied = applied
		res.View = next
		return res, nil
	}
}

// fresh sorts evts by Seq, drops duplicates and anything at or below
// checkpoint, and reports how many were dropped.
func fresh(evts []event.Event, checkpoint uint64) ([]event.Event, int) {
	sorted := append([]event.Event(nil), evts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	out := sorted[:0]
	dropped := 0
	var last uint64
	for _, evt := range sorted {
		if evt.Seq <= checkpoint || (len(out) > 0 && evt.Seq == last) {
			dropped++
			continue
		}
		out = append(out, evt)
		last = evt.Seq
	}
	return out, dropped
}
