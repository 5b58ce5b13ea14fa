package gameserver_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/splendor/internal/eventstore"
	"github.com/cory-johannsen/splendor/internal/game/aggregate"
	"github.com/cory-johannsen/splendor/internal/game/catalog"
	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/game/gems"
	"github.com/cory-johannsen/splendor/internal/game/projection"
	"github.com/cory-johannsen/splendor/internal/game/shuffle"
	"github.com/cory-johannsen/splendor/internal/gameserver"
	"github.com/cory-johannsen/splendor/internal/notify"
)

var testNow = time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

func testDeps(seed uint64) aggregate.Deps {
	var n atomic.Int64
	return aggregate.Deps{
		Now:     func() time.Time { return testNow },
		NewID:   func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
		Shuffle: shuffle.NewSeededSource(seed),
	}
}

type harness struct {
	svc       *gameserver.Service
	store     eventstore.Store
	views     *projection.MemoryStore
	projector *gameserver.Projector
	hub       *notify.Hub
}

// newHarness wires a Service over store. With project set, every append is
// projected before the command returns; otherwise views only move on Reconcile.
func newHarness(t *testing.T, store eventstore.Store, project bool, maxAttempts int) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	views := projection.NewMemoryStore()
	hub := notify.NewHub(logger, 1024)
	consumer := projection.NewConsumer(views, store, logger, 3)
	projector := gameserver.NewProjector(consumer, store, views, hub, logger, time.Hour, 16)

	var sink gameserver.Sink = gameserver.SinkFunc(func([]event.Event) {})
	if project {
		sink = gameserver.SinkFunc(func(evts []event.Event) {
			projector.Deliver(context.Background(), evts)
		})
	}
	svc := gameserver.NewService(store, views, sink, testDeps(11), logger, maxAttempts)
	return &harness{svc: svc, store: store, views: views, projector: projector, hub: hub}
}

// seat creates a game owned by "A" with Alice ("A") and Bob ("B") seated.
func (h *harness) seat(t *testing.T) (gameID, alice, bob string) {
	t.Helper()
	ctx := context.Background()
	created, err := h.svc.CreateGame(ctx, "A")
	require.NoError(t, err)
	a, err := h.svc.JoinGame(ctx, created.GameID, "A", "Alice")
	require.NoError(t, err)
	b, err := h.svc.JoinGame(ctx, created.GameID, "B", "Bob")
	require.NoError(t, err)
	return created.GameID, a.PlayerID, b.PlayerID
}

func (h *harness) state(t *testing.T, gameID string) aggregate.Game {
	t.Helper()
	history, err := h.svc.History(context.Background(), gameID)
	require.NoError(t, err)
	g, err := aggregate.Fold(history)
	require.NoError(t, err)
	return g
}

func TestService_AliceAndBobEndToEnd(t *testing.T) {
	h := newHarness(t, eventstore.NewMemory(), true, 3)
	ctx := context.Background()

	gameID, alice, bob := h.seat(t)
	sub := h.hub.Subscribe(gameID)
	defer sub.Close()

	started, err := h.svc.StartGame(ctx, gameID, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), started.Version, "created, two joins, started, turn")

	take := gems.Collection{Diamond: 1, Sapphire: 1, Emerald: 1}
	_, err = h.svc.TakeGems(ctx, gameID, "B", bob, take)
	assert.ErrorIs(t, err, aggregate.ErrNotYourTurn)
	_, err = h.svc.TakeGems(ctx, gameID, "B", alice, take)
	assert.ErrorIs(t, err, aggregate.ErrNotYourPlayer)

	_, err = h.svc.TakeGems(ctx, gameID, "A", alice, take)
	require.NoError(t, err)

	view, err := h.svc.Game(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusStarted, view.Status)
	assert.Equal(t, bob, view.CurrentPlayerID)
	assert.Equal(t, 3, view.Players[0].Gems.Total())
	assert.Equal(t, uint64(8), view.LastSeq)

	// Keep playing until someone buys a card.
	bought := false
	for turn := 0; turn < 40 && !bought; turn++ {
		g := h.state(t, gameID)
		current, ok := g.Player(g.CurrentPlayerID)
		require.True(t, ok)
		if cardID := affordable(g, current); cardID != "" {
			_, err := h.svc.BuyCard(ctx, gameID, current.OwnerID, current.ID, cardID)
			require.NoError(t, err)
			bought = true
			continue
		}
		pick, ok := nextTake(g, current)
		require.True(t, ok, "bank ran dry")
		_, err := h.svc.TakeGems(ctx, gameID, current.OwnerID, current.ID, pick)
		require.NoError(t, err)
	}
	require.True(t, bought, "no card became affordable")

	g := h.state(t, gameID)
	view, err = h.svc.Game(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, g.Version, view.LastSeq)
	assert.Equal(t, g.CurrentPlayerID, view.CurrentPlayerID)
	for i, p := range g.Players {
		assert.ElementsMatch(t, p.Cards, view.Players[i].OwnedCardIDs)
		assert.Equal(t, p.Gems.Total(), view.Players[i].Gems.Total())
	}
	for tier := 1; tier <= catalog.Tiers; tier++ {
		assert.Equal(t, g.Market(tier), view.Market(tier))
		assert.Equal(t, len(g.Deck(tier)), view.DeckCount(tier))
	}

	history, err := h.svc.History(ctx, gameID)
	require.NoError(t, err)
	projected, err := projection.Project(history)
	require.NoError(t, err)
	assert.Equal(t, projected, view, "incremental projection matches a full replay")

	// Notifications follow the stream one-for-one from the subscription point.
	var last uint64 = 3
	for len(sub.Events()) > 0 {
		n := <-sub.Events()
		assert.Equal(t, last+1, n.Version)
		last = n.Version
	}
	assert.Equal(t, g.Version, last)
}

func TestService_CreateGame(t *testing.T) {
	h := newHarness(t, eventstore.NewMemory(), true, 3)
	ctx := context.Background()

	_, err := h.svc.CreateGame(ctx, " ")
	assert.ErrorIs(t, err, aggregate.ErrInvalidOwner)

	res, err := h.svc.CreateGame(ctx, "A")
	require.NoError(t, err)
	assert.NotEmpty(t, res.GameID)
	assert.Equal(t, uint64(1), res.Version)
	require.Len(t, res.Events, 1)
	assert.Equal(t, event.TypeGameCreated, res.Events[0].Type())
}

func TestService_UnknownGame(t *testing.T) {
	h := newHarness(t, eventstore.NewMemory(), true, 3)
	ctx := context.Background()

	_, err := h.svc.JoinGame(ctx, "nope", "A", "Alice")
	assert.ErrorIs(t, err, gameserver.ErrGameNotFound)
	_, err = h.svc.Game(ctx, "nope")
	assert.ErrorIs(t, err, gameserver.ErrGameNotFound)
	_, err = h.svc.Version(ctx, "nope")
	assert.ErrorIs(t, err, gameserver.ErrGameNotFound)
	_, err = h.svc.History(ctx, "nope")
	assert.ErrorIs(t, err, gameserver.ErrGameNotFound)
	_, err = h.svc.AvailableActions(ctx, "nope")
	assert.ErrorIs(t, err, gameserver.ErrGameNotFound)
}

func TestService_QueriesBeforeProjection(t *testing.T) {
	h := newHarness(t, eventstore.NewMemory(), false, 3)
	ctx := context.Background()
	gameID, _, _ := h.seat(t)

	view, err := h.svc.Game(ctx, gameID)
	require.NoError(t, err, "an unprojected stream is projected on read")
	assert.Len(t, view.Players, 2)

	games, err := h.svc.Games(ctx)
	require.NoError(t, err)
	assert.Empty(t, games, "the list only shows projected games")

	require.NoError(t, h.projector.Reconcile(ctx))
	games, err = h.svc.Games(ctx)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, gameserver.GameSummary{
		ID:          gameID,
		Status:      projection.StatusCreated,
		PlayerCount: 2,
		CreatedAt:   testNow,
	}, games[0])

	v, err := h.svc.Version(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, gameserver.VersionInfo{GameID: gameID, Version: 3, LastSeq: 3}, v)

	actions, err := h.svc.AvailableActions(ctx, gameID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []aggregate.Action{aggregate.ActionJoinGame, aggregate.ActionStartGame}, actions)

	assert.Len(t, h.svc.Cards(), len(catalog.Default().All()))
}

// rivalStore lets a competing writer slip one PlayerJoined in ahead of each
// of the first n appends it sees.
type rivalStore struct {
	eventstore.Store
	rivals  atomic.Int32
	appends atomic.Int32
}

func (r *rivalStore) Append(ctx context.Context, gameID string, expected uint64, evts []event.Event) ([]event.Event, error) {
	r.appends.Add(1)
	if r.rivals.Add(-1) >= 0 {
		k := r.rivals.Load()
		rival := event.New(gameID, testNow, event.PlayerJoined{
			PlayerID: fmt.Sprintf("rival-%d", k),
			OwnerID:  "R",
			Name:     fmt.Sprintf("Rival%d", k),
		})
		if _, err := r.Store.Append(ctx, gameID, expected, []event.Event{rival}); err != nil {
			return nil, err
		}
	}
	return r.Store.Append(ctx, gameID, expected, evts)
}

func TestService_ConflictIsRetried(t *testing.T) {
	store := &rivalStore{Store: eventstore.NewMemory()}
	h := newHarness(t, store, true, 3)
	ctx := context.Background()

	created, err := h.svc.CreateGame(ctx, "A")
	require.NoError(t, err)

	store.rivals.Store(2)
	store.appends.Store(0)
	res, err := h.svc.JoinGame(ctx, created.GameID, "A", "Alice")
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.appends.Load(), "two lost races then a win")
	assert.Equal(t, uint64(4), res.Version)

	g := h.state(t, created.GameID)
	require.Len(t, g.Players, 3)
	assert.Equal(t, "Alice", g.Players[2].Name, "the retried decision saw both rivals")
}

type conflictStore struct {
	eventstore.Store
	calls atomic.Int32
}

func (c *conflictStore) Append(context.Context, string, uint64, []event.Event) ([]event.Event, error) {
	c.calls.Add(1)
	return nil, fmt.Errorf("%w: always", eventstore.ErrConcurrencyConflict)
}

func TestService_ConflictRetriesExhausted(t *testing.T) {
	store := &conflictStore{Store: eventstore.NewMemory()}
	h := newHarness(t, store, true, 4)

	_, err := h.svc.CreateGame(context.Background(), "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, int32(4), store.calls.Load())
}

type brokenStore struct {
	eventstore.Store
}

var errDiskOnFire = errors.New("disk on fire")

func (brokenStore) Load(context.Context, string) ([]event.Event, error) {
	return nil, errDiskOnFire
}

func TestService_InfrastructureErrorsAreWrapped(t *testing.T) {
	h := newHarness(t, brokenStore{Store: eventstore.NewMemory()}, true, 3)

	_, err := h.svc.StartGame(context.Background(), "g", "A")
	assert.ErrorIs(t, err, errDiskOnFire)
	assert.False(t, aggregate.IsRejection(err))
	assert.False(t, aggregate.IsNotFound(err))
}

func affordable(g aggregate.Game, p aggregate.Player) string {
	for tier := 1; tier <= catalog.Tiers; tier++ {
		for _, id := range g.Market(tier) {
			card, err := catalog.FindByID(id)
			if err == nil && aggregate.CanAfford(p, card) {
				return id
			}
		}
	}
	return ""
}

// nextTake picks tokens toward the visible tier-1 card p is closest to
// affording, breaking ties by card ID.
func nextTake(g aggregate.Game, p aggregate.Player) (gems.Collection, bool) {
	ids := append([]string(nil), g.Market(1)...)
	sort.Strings(ids)
	bonuses := aggregate.Bonuses(p.Cards)
	var need gems.Collection
	best := -1
	for _, id := range ids {
		card, err := catalog.FindByID(id)
		if err != nil {
			continue
		}
		d := aggregate.EffectiveCost(card.Cost, bonuses).Sub(p.Gems)
		if best < 0 || d.Total() < best {
			best, need = d.Total(), d
		}
	}
	colors := append([]gems.Color(nil), gems.Colors...)
	sort.SliceStable(colors, func(i, j int) bool {
		a, b := colors[i], colors[j]
		if need.Get(a) != need.Get(b) {
			return need.Get(a) > need.Get(b)
		}
		return g.Bank.Get(a) > g.Bank.Get(b)
	})
	var take gems.Collection
	for _, c := range colors {
		if g.Bank.Get(c) > 0 && take.ColoredTotal() < 3 {
			take = take.With(c, 1)
		}
	}
	if take.ColoredTotal() == 3 {
		return take, true
	}
	for _, c := range colors {
		if g.Bank.Get(c) >= 4 {
			return gems.Collection{}.With(c, 2), true
		}
	}
	return gems.Collection{}, false
}
