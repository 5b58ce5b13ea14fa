// Package gameserver hosts the application layer: the command service with
// its optimistic retry loop, the projector worker, the HTTP API and health
// reporting.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/splendor/internal/eventstore"
	"github.com/cory-johannsen/splendor/internal/game/aggregate"
	"github.com/cory-johannsen/splendor/internal/game/catalog"
	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/game/gems"
	"github.com/cory-johannsen/splendor/internal/game/projection"
	"github.com/cory-johannsen/splendor/internal/observability"
)

// ErrGameNotFound is returned by queries and commands on an empty stream.
var ErrGameNotFound = aggregate.ErrGameNotFound

// Command names used in logs and metrics.
const (
	CommandCreateGame = "create_game"
	CommandJoinGame   = "join_game"
	CommandStartGame  = "start_game"
	CommandTakeGems   = "take_gems"
	CommandBuyCard    = "buy_card"
)

// Sink receives freshly appended events for projection.
type Sink interface {
	Enqueue(evts []event.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(evts []event.Event)

// Enqueue implements Sink.
func (f SinkFunc) Enqueue(evts []event.Event) { f(evts) }

// CommandResult describes an accepted command.
type CommandResult struct {
	GameID string `json:"gameId"`
	// PlayerID is set by JoinGame.
	PlayerID string `json:"playerId,omitempty"`
	// Version is the stream sequence after the append.
	Version uint64        `json:"version"`
	Events  []event.Event `json:"-"`
}

// GameSummary is one row of the game list.
type GameSummary struct {
	ID          string            `json:"id"`
	Status      projection.Status `json:"status"`
	PlayerCount int               `json:"playerCount"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// VersionInfo reports how far a game's view has advanced.
type VersionInfo struct {
	GameID  string `json:"gameId"`
	Version int    `json:"version"`
	LastSeq uint64 `json:"lastSeq"`
}

// Service executes commands against the event store and answers queries.
//
// Commands never lock: each attempt loads the stream, folds it, decides and
// appends at the folded version. A lost race reloads and decides again.
type Service struct {
	store       eventstore.Store
	views       projection.ViewStore
	sink        Sink
	deps        aggregate.Deps
	logger      *zap.Logger
	maxAttempts int
}

// NewService creates a Service.
//
// Precondition: store, views, sink and logger must be non-nil; deps must be
// fully populated; maxAttempts < 1 is treated as 1.
func NewService(store eventstore.Store, views projection.ViewStore, sink Sink, deps aggregate.Deps, logger *zap.Logger, maxAttempts int) *Service {
	return &Service{
		store:       store,
		views:       views,
		sink:        sink,
		deps:        deps,
		logger:      logger,
		maxAttempts: max(1, maxAttempts),
	}
}

// CreateGame opens a new game owned by ownerID.
//
// Postcondition: On success the result carries the new game ID at version 1.
func (s *Service) CreateGame(ctx context.Context, ownerID string) (CommandResult, error) {
	gameID := s.deps.NewID()
	return s.execute(ctx, CommandCreateGame, gameID, func(g aggregate.Game) ([]event.Event, error) {
		return g.Create(s.deps, gameID, ownerID)
	})
}

// JoinGame seats a player named name, owned by ownerID, in gameID.
//
// Postcondition: On success the result carries the new player's ID.
func (s *Service) JoinGame(ctx context.Context, gameID, ownerID, name string) (CommandResult, error) {
	res, err := s.execute(ctx, CommandJoinGame, gameID, func(g aggregate.Game) ([]event.Event, error) {
		return g.Join(s.deps, ownerID, name)
	})
	if err != nil {
		return res, err
	}
	for _, evt := range res.Events {
		if joined, ok := evt.Payload.(event.PlayerJoined); ok {
			res.PlayerID = joined.PlayerID
		}
	}
	return res, nil
}

// StartGame deals the markets and hands out the first turn.
func (s *Service) StartGame(ctx context.Context, gameID, ownerID string) (CommandResult, error) {
	return s.execute(ctx, CommandStartGame, gameID, func(g aggregate.Game) ([]event.Event, error) {
		return g.Start(s.deps, ownerID)
	})
}

// TakeGems moves requested tokens from the bank to playerID.
func (s *Service) TakeGems(ctx context.Context, gameID, ownerID, playerID string, requested gems.Collection) (CommandResult, error) {
	return s.execute(ctx, CommandTakeGems, gameID, func(g aggregate.Game) ([]event.Event, error) {
		return g.TakeGems(s.deps, ownerID, playerID, requested)
	})
}

// BuyCard purchases cardID from a market for playerID.
func (s *Service) BuyCard(ctx context.Context, gameID, ownerID, playerID, cardID string) (CommandResult, error) {
	return s.execute(ctx, CommandBuyCard, gameID, func(g aggregate.Game) ([]event.Event, error) {
		return g.BuyCard(s.deps, ownerID, playerID, cardID)
	})
}

type decision func(aggregate.Game) ([]event.Event, error)

func (s *Service) execute(ctx context.Context, command, gameID string, decide decision) (CommandResult, error) {
	start := time.Now()
	res, attempts, err := s.run(ctx, command, gameID, decide)
	outcome := outcomeOf(err)
	observability.RecordCommand(command, outcome, time.Since(start))

	fields := []zap.Field{
		zap.String("command", command),
		zap.String("game_id", gameID),
		zap.String("outcome", outcome),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch outcome {
	case observability.OutcomeAccepted:
		s.logger.Debug("command accepted", append(fields, zap.Uint64("version", res.Version))...)
	case observability.OutcomeError, observability.OutcomeConflict:
		s.logger.Warn("command failed", append(fields, zap.Error(err))...)
	default:
		s.logger.Debug("command refused", append(fields, zap.Error(err))...)
	}
	return res, err
}

func (s *Service) run(ctx context.Context, command, gameID string, decide decision) (CommandResult, int, error) {
	for attempt := 1; ; attempt++ {
		history, err := s.store.Load(ctx, gameID)
		if err != nil {
			return CommandResult{}, attempt, fmt.Errorf("loading game %s: %w", gameID, err)
		}
		state, err := aggregate.Fold(history)
		if err != nil {
			return CommandResult{}, attempt, fmt.Errorf("rehydrating game %s: %w", gameID, err)
		}
		evts, err := decide(state)
		if err != nil {
			return CommandResult{}, attempt, err
		}

		stored, err := s.store.Append(ctx, gameID, state.Version, evts)
		if err == nil {
			s.sink.Enqueue(stored)
			return CommandResult{
				GameID:  gameID,
				Version: stored[len(stored)-1].Seq,
				Events:  stored,
			}, attempt, nil
		}
		if !errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return CommandResult{}, attempt, fmt.Errorf("appending to game %s: %w", gameID, err)
		}
		if attempt >= s.maxAttempts {
			return CommandResult{}, attempt, fmt.Errorf("game %s after %d attempts: %w", gameID, attempt, err)
		}
		observability.RecordConflictRetry(command)
		s.logger.Debug("append conflict, retrying",
			zap.String("command", command),
			zap.String("game_id", gameID),
			zap.Int("attempt", attempt),
		)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeAccepted
	case aggregate.IsNotFound(err):
		return observability.OutcomeNotFound
	case aggregate.IsRejection(err):
		return observability.OutcomeRejected
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return observability.OutcomeConflict
	default:
		return observability.OutcomeError
	}
}

// Game returns the projected view of gameID.
//
// A stream the projector has not reached yet is projected on the spot from
// the event store, so a client that just created a game can read it.
func (s *Service) Game(ctx context.Context, gameID string) (projection.GameView, error) {
	view, err := s.views.Load(ctx, gameID)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, projection.ErrViewNotFound) {
		return projection.GameView{}, fmt.Errorf("loading view %s: %w", gameID, err)
	}
	history, err := s.History(ctx, gameID)
	if err != nil {
		return projection.GameView{}, err
	}
	view, err = projection.Project(history)
	if err != nil {
		return projection.GameView{}, fmt.Errorf("projecting game %s: %w", gameID, err)
	}
	return view, nil
}

// Games lists every projected game, oldest first.
func (s *Service) Games(ctx context.Context) ([]GameSummary, error) {
	views, err := s.views.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing views: %w", err)
	}
	out := make([]GameSummary, 0, len(views))
	for _, v := range views {
		out = append(out, GameSummary{
			ID:          v.ID,
			Status:      v.Status,
			PlayerCount: len(v.Players),
			CreatedAt:   v.CreatedAt,
		})
	}
	return out, nil
}

// Version reports the view version of gameID for cheap polling.
func (s *Service) Version(ctx context.Context, gameID string) (VersionInfo, error) {
	view, err := s.Game(ctx, gameID)
	if err != nil {
		return VersionInfo{}, err
	}
	return VersionInfo{GameID: gameID, Version: view.Version, LastSeq: view.LastSeq}, nil
}

// History returns the raw event stream of gameID.
func (s *Service) History(ctx context.Context, gameID string) ([]event.Event, error) {
	history, err := s.store.Load(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("loading game %s: %w", gameID, err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return history, nil
}

// AvailableActions folds the authoritative state of gameID and lists the
// moves it currently accepts.
func (s *Service) AvailableActions(ctx context.Context, gameID string) ([]aggregate.Action, error) {
	history, err := s.History(ctx, gameID)
	if err != nil {
		return nil, err
	}
	state, err := aggregate.Fold(history)
	if err != nil {
		return nil, fmt.Errorf("rehydrating game %s: %w", gameID, err)
	}
	return state.AvailableActions(), nil
}

// Cards returns the whole card catalog.
func (s *Service) Cards() []catalog.Card {
	return catalog.Default().All()
}
