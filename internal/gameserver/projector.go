package gameserver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/game/projection"
	"github.com/cory-johannsen/splendor/internal/notify"
	"github.com/cory-johannsen/splendor/internal/observability"
)

// HeadSource reports the last stored sequence of every stream.
type HeadSource interface {
	StreamHeads(ctx context.Context) (map[string]uint64, error)
}

// Checkpointer reports how far every stored view has been projected.
type Checkpointer interface {
	Checkpoints(ctx context.Context) (map[string]uint64, error)
}

// Projector keeps read models in step with the event store.
//
// Batches handed to Enqueue are projected as they arrive. A periodic
// reconcile compares stream heads with view checkpoints and syncs anything
// that fell behind, so a dropped batch or a restart is repaired on the next
// tick. Every newly applied event produces one notification.
type Projector struct {
	consumer  *projection.Consumer
	heads     HeadSource
	views     Checkpointer
	publisher notify.Publisher
	logger    *zap.Logger
	interval  time.Duration
	queue     chan []event.Event

	healthy atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

// NewProjector creates a Projector.
//
// Precondition: consumer, heads, views, publisher and logger must be non-nil;
// interval must be > 0; buffer < 1 is treated as 1.
func NewProjector(consumer *projection.Consumer, heads HeadSource, views Checkpointer, publisher notify.Publisher, logger *zap.Logger, interval time.Duration, buffer int) *Projector {
	if interval <= 0 {
		panic("gameserver.NewProjector: interval must be > 0")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Projector{
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		consumer:  consumer,
		heads:     heads,
		views:     views,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		queue:     make(chan []event.Event, max(1, buffer)),
	}
	p.healthy.Store(true)
	return p
}

// Enqueue implements Sink. It never blocks: when the queue is full the batch
// is dropped and left to the next reconcile.
func (p *Projector) Enqueue(evts []event.Event) {
	if len(evts) == 0 {
		return
	}
	select {
	case p.queue <- evts:
	default:
		p.logger.Warn("projector queue full, deferring to reconcile",
			zap.String("game_id", evts[0].GameID),
			zap.Int("events", len(evts)),
		)
	}
}

// Healthy reports whether the most recent projection pass succeeded.
func (p *Projector) Healthy() bool {
	return p.healthy.Load()
}

// Check implements a health Checker.
func (p *Projector) Check(context.Context) error {
	if !p.Healthy() {
		return fmt.Errorf("projector is failing")
	}
	return nil
}

// Run projects until ctx is cancelled. It reconciles once on entry.
func (p *Projector) Run(ctx context.Context) {
	if err := p.Reconcile(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("initial reconcile failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evts := <-p.queue:
			p.Deliver(ctx, evts)
		case <-ticker.C:
			if err := p.Reconcile(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("reconcile failed", zap.Error(err))
			}
		}
	}
}

// Start runs the projector until Stop. It satisfies server.Service.
//
// Postcondition: Start returns at once when Stop has already been called or
// when the projector was started before.
func (p *Projector) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("projector already started")
	}
	defer close(p.done)
	if p.ctx.Err() != nil {
		return nil
	}
	p.Run(p.ctx)
	return nil
}

// Stop cancels Run and waits for a running Start to return. It may be
// called before Start and more than once.
func (p *Projector) Stop() {
	p.cancel()
	if p.started.Load() {
		<-p.done
	}
}

// Deliver projects one batch and notifies for what it applied.
func (p *Projector) Deliver(ctx context.Context, evts []event.Event) {
	results, err := p.consumer.Deliver(ctx, evts)
	for _, res := range results {
		p.record(ctx, res)
	}
	if err != nil {
		observability.RecordProjected(observability.ProjectedFailed, 1)
		p.healthy.Store(false)
		p.logger.Warn("projecting batch", zap.Int("events", len(evts)), zap.Error(err))
		return
	}
	p.healthy.Store(true)
}

// Reconcile syncs every view whose checkpoint trails its stream head.
//
// Postcondition: Returns the first error met; games after it are still tried.
func (p *Projector) Reconcile(ctx context.Context) error {
	heads, err := p.heads.StreamHeads(ctx)
	if err != nil {
		p.healthy.Store(false)
		return fmt.Errorf("reading stream heads: %w", err)
	}
	checkpoints, err := p.views.Checkpoints(ctx)
	if err != nil {
		p.healthy.Store(false)
		return fmt.Errorf("reading view checkpoints: %w", err)
	}

	var first error
	for gameID, head := range heads {
		if checkpoints[gameID] >= head {
			continue
		}
		res, err := p.consumer.Sync(ctx, gameID)
		if err != nil {
			observability.RecordProjected(observability.ProjectedFailed, 1)
			if first == nil {
				first = fmt.Errorf("syncing game %s: %w", gameID, err)
			}
			continue
		}
		if len(res.Applied) > 0 {
			p.logger.Info("reconciled lagging view",
				zap.String("game_id", gameID),
				zap.Int("applied", len(res.Applied)),
				zap.Uint64("last_seq", res.View.LastSeq),
			)
		}
		p.record(ctx, res)
	}
	p.healthy.Store(first == nil)
	return first
}

func (p *Projector) record(ctx context.Context, res projection.Result) {
	observability.RecordProjected(observability.ProjectedApplied, len(res.Applied))
	observability.RecordProjected(observability.ProjectedDuplicate, res.Duplicates)
	for _, evt := range res.Applied {
		n := notify.Notification{GameID: evt.GameID, EventType: evt.Type(), Version: evt.Seq}
		if err := p.publisher.Publish(ctx, n); err != nil {
			observability.RecordNotificationFailure()
			p.logger.Warn("publishing notification",
				zap.String("game_id", evt.GameID),
				zap.Uint64("seq", evt.Seq),
				zap.Error(err),
			)
		}
	}
}
