package aggregate_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/splendor/internal/game/aggregate"
	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/game/gems"
	"github.com/cory-johannsen/splendor/internal/game/shuffle"
)

func testDeps(seed uint64) aggregate.Deps {
	n := 0
	return aggregate.Deps{
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
		Shuffle: shuffle.NewSeededSource(seed),
	}
}

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

// commit stamps sequence numbers the way a store would and folds the events in.
func commit(t tb, g aggregate.Game, evts []event.Event) aggregate.Game {
	t.Helper()
	for i := range evts {
		evts[i].Seq = g.Version + 1
		next, err := aggregate.Apply(g, evts[i])
		require.NoError(t, err)
		g = next
	}
	return g
}

// startedGame builds a started two-player game owned by "A" (Alice) and "B" (Bob).
func startedGame(t tb, deps aggregate.Deps) aggregate.Game {
	t.Helper()
	var g aggregate.Game
	evts, err := g.Create(deps, "game-1", "A")
	require.NoError(t, err)
	g = commit(t, g, evts)
	evts, err = g.Join(deps, "A", "Alice")
	require.NoError(t, err)
	g = commit(t, g, evts)
	evts, err = g.Join(deps, "B", "Bob")
	require.NoError(t, err)
	g = commit(t, g, evts)
	evts, err = g.Start(deps, "A")
	require.NoError(t, err)
	return commit(t, g, evts)
}

func TestScenario_AliceAndBob(t *testing.T) {
	deps := testDeps(7)
	g := startedGame(t, deps)

	assert.True(t, g.Started)
	for tier := 1; tier <= 3; tier++ {
		assert.Len(t, g.Market(tier), 4, "tier %d market", tier)
	}
	alice, bob := g.Players[0], g.Players[1]
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, alice.ID, g.CurrentPlayerID)

	before := g.Bank
	take := gems.Collection{Diamond: 1, Sapphire: 1, Emerald: 1}
	evts, err := g.TakeGems(deps, "A", alice.ID, take)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, event.TypeGemsTaken, evts[0].Type())
	assert.Equal(t, event.TypeTurnEnded, evts[1].Type())
	assert.Equal(t, event.TypeTurnStarted, evts[2].Type())
	g = commit(t, g, evts)

	assert.Equal(t, before.Diamond-1, g.Bank.Diamond)
	assert.Equal(t, before.Sapphire-1, g.Bank.Sapphire)
	assert.Equal(t, before.Emerald-1, g.Bank.Emerald)
	aliceNow, _ := g.Player(alice.ID)
	assert.Equal(t, take, aliceNow.Gems)
	assert.Equal(t, bob.ID, g.CurrentPlayerID)

	_, err = g.TakeGems(deps, "B", alice.ID, take)
	assert.ErrorIs(t, err, aggregate.ErrNotYourPlayer)
	_, err = g.TakeGems(deps, "A", alice.ID, take)
	assert.ErrorIs(t, err, aggregate.ErrNotYourTurn)

	_, err = g.Start(deps, "A")
	assert.ErrorIs(t, err, aggregate.ErrAlreadyStarted)
}

func TestCreate(t *testing.T) {
	deps := testDeps(1)
	var g aggregate.Game
	_, err := g.Create(deps, "g", "  ")
	assert.ErrorIs(t, err, aggregate.ErrInvalidOwner)

	evts, err := g.Create(deps, "", "A")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "id-1", evts[0].GameID)

	g = commit(t, g, evts)
	assert.Equal(t, "A", g.CreatorID)
	_, err = g.Create(deps, "g", "A")
	assert.ErrorIs(t, err, aggregate.ErrGameExists)
}

func TestJoin_Rejections(t *testing.T) {
	deps := testDeps(1)
	var g aggregate.Game
	_, err := g.Join(deps, "A", "Alice")
	assert.ErrorIs(t, err, aggregate.ErrGameNotFound)

	evts, _ := g.Create(deps, "g", "A")
	g = commit(t, g, evts)
	for _, name := range []string{"Alice", "Bob", "Cara", "Dan"} {
		evts, err := g.Join(deps, "A", name)
		require.NoError(t, err)
		g = commit(t, g, evts)
	}
	_, err = g.Join(deps, "E", "Eve")
	assert.ErrorIs(t, err, aggregate.ErrGameFull)

	var small aggregate.Game
	evts, _ = small.Create(deps, "s", "A")
	small = commit(t, small, evts)
	evts, _ = small.Join(deps, "A", "Alice")
	small = commit(t, small, evts)

	_, err = small.Join(deps, "B", "  aLiCe ")
	assert.ErrorIs(t, err, aggregate.ErrDuplicateName)
	_, err = small.Join(deps, "B", "   ")
	assert.ErrorIs(t, err, aggregate.ErrInvalidName)
	_, err = small.Join(deps, "B", "abcdefghijklmnopqrstuvwxyz0123456")
	assert.ErrorIs(t, err, aggregate.ErrInvalidName)
	assert.True(t, aggregate.IsRejection(err))

	joined, err := small.Join(deps, "A", "  Al  ")
	require.NoError(t, err)
	p := joined[0].Payload.(event.PlayerJoined)
	assert.Equal(t, "Al", p.Name)
	assert.NotContains(t, p.PlayerID, "Al")
}

func TestStart_Rejections(t *testing.T) {
	deps := testDeps(1)
	var g aggregate.Game
	evts, _ := g.Create(deps, "g", "A")
	g = commit(t, g, evts)
	evts, _ = g.Join(deps, "B", "Bob")
	g = commit(t, g, evts)

	_, err := g.Start(deps, "A")
	assert.ErrorIs(t, err, aggregate.ErrInsufficientPlayers)

	evts, _ = g.Join(deps, "C", "Cara")
	g = commit(t, g, evts)
	_, err = g.Start(deps, "Z")
	assert.ErrorIs(t, err, aggregate.ErrNotAuthorized)

	evts, err = g.Start(deps, "C")
	require.NoError(t, err, "a joined owner may start")
	require.Len(t, evts, 2)
	started := evts[0].Payload.(event.GameStarted)
	assert.Len(t, started.Deck(1), 8)
	assert.Len(t, started.Deck(2), 4)
	assert.Len(t, started.Deck(3), 2)
	assert.Equal(t, gems.StartingBank(2), started.Bank)
	assert.Equal(t, event.TurnStarted{PlayerID: g.Players[0].ID}, evts[1].Payload)
}

func TestStart_SameSeedSameDeal(t *testing.T) {
	a := startedGame(t, testDeps(42))
	b := startedGame(t, testDeps(42))
	assert.Equal(t, a.Markets, b.Markets)
	assert.Equal(t, a.Decks, b.Decks)
}

func TestTakeGems_Legality(t *testing.T) {
	bank := gems.Collection{Diamond: 4, Sapphire: 3, Emerald: 0, Ruby: 4, Onyx: 1, Gold: 5}
	cases := []struct {
		name string
		req  gems.Collection
		want error
	}{
		{"three distinct", gems.Collection{Diamond: 1, Sapphire: 1, Onyx: 1}, nil},
		{"two of a color with four", gems.Collection{Ruby: 2}, nil},
		{"two of a color with three", gems.Collection{Sapphire: 2}, aggregate.ErrInsufficientMarketSupply},
		{"distinct but empty color", gems.Collection{Diamond: 1, Emerald: 1, Ruby: 1}, aggregate.ErrInsufficientMarketSupply},
		{"single token", gems.Collection{Diamond: 1}, aggregate.ErrIllegalGemSelection},
		{"two distinct", gems.Collection{Diamond: 1, Ruby: 1}, aggregate.ErrIllegalGemSelection},
		{"two plus one", gems.Collection{Diamond: 2, Ruby: 1}, aggregate.ErrIllegalGemSelection},
		{"three of a color", gems.Collection{Diamond: 3}, aggregate.ErrIllegalGemSelection},
		{"four tokens", gems.Collection{Diamond: 1, Sapphire: 1, Ruby: 1, Onyx: 1}, aggregate.ErrTooManyGems},
		{"gold", gems.Collection{Diamond: 1, Sapphire: 1, Gold: 1}, aggregate.ErrIllegalGemSelection},
		{"negative", gems.Collection{Diamond: 2, Sapphire: 1, Ruby: -1}, aggregate.ErrIllegalGemSelection},
		{"nothing", gems.Collection{}, aggregate.ErrIllegalGemSelection},
	}
	deps := testDeps(3)
	base := startedGame(t, deps)
	base.Bank = bank
	alice := base.Players[0]
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evts, err := base.TakeGems(deps, "A", alice.ID, tc.req)
			if tc.want == nil {
				require.NoError(t, err)
				assert.Equal(t, tc.req, evts[0].Payload.(event.GemsTaken).Gems)
				return
			}
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, evts)
			assert.True(t, aggregate.IsRejection(err))
		})
	}
}

func TestTakeGems_CheckOrder(t *testing.T) {
	deps := testDeps(3)
	var pending aggregate.Game
	evts, _ := pending.Create(deps, "g", "A")
	pending = commit(t, pending, evts)
	_, err := pending.TakeGems(deps, "A", "nobody", gems.Collection{Diamond: 9})
	assert.ErrorIs(t, err, aggregate.ErrNotStarted)

	g := startedGame(t, deps)
	_, err = g.TakeGems(deps, "A", "nobody", gems.Collection{Diamond: 9})
	assert.ErrorIs(t, err, aggregate.ErrPlayerNotFound)
	assert.True(t, aggregate.IsNotFound(err))

	_, err = g.TakeGems(deps, "B", g.Players[0].ID, gems.Collection{Diamond: 9})
	assert.ErrorIs(t, err, aggregate.ErrNotYourPlayer)
	_, err = g.TakeGems(deps, "B", g.Players[1].ID, gems.Collection{Diamond: 9})
	assert.ErrorIs(t, err, aggregate.ErrNotYourTurn)
}

func TestBuyCard_RevealsDeckHead(t *testing.T) {
	deps := testDeps(11)
	g := startedGame(t, deps)
	alice := g.Players[0]
	cardID := g.Market(1)[2]
	head := g.Deck(1)[0]
	deckLen := len(g.Deck(1))
	g.Players[0].Gems = gems.Collection{Gold: 5, Diamond: 5, Sapphire: 5, Emerald: 5, Ruby: 5, Onyx: 5}
	bankBefore := g.Bank

	evts, err := g.BuyCard(deps, "A", alice.ID, cardID)
	require.NoError(t, err)
	require.Len(t, evts, 4)
	assert.Equal(t, event.CardRevealed{Level: 1, CardID: head}, evts[1].Payload)
	paid := evts[0].Payload.(event.CardPurchased).PaidGems
	g = commit(t, g, evts)

	assert.NotContains(t, g.Market(1), cardID)
	assert.Contains(t, g.Market(1), head)
	assert.Len(t, g.Market(1), 4)
	assert.Len(t, g.Deck(1), deckLen-1)
	assert.Equal(t, bankBefore.Add(paid), g.Bank)
	aliceNow, _ := g.Player(alice.ID)
	assert.Equal(t, []string{cardID}, aliceNow.Cards)
	assert.Equal(t, 30-paid.Total(), aliceNow.Gems.Total())
	assert.Equal(t, g.Players[1].ID, g.CurrentPlayerID)
}

func TestBuyCard_EmptyDeckRevealsNothing(t *testing.T) {
	deps := testDeps(11)
	g := startedGame(t, deps)
	g.Decks[2] = nil
	g.Players[0].Gems = gems.Collection{Gold: 20}
	evts, err := g.BuyCard(deps, "A", g.Players[0].ID, g.Market(3)[0])
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, event.TypeCardPurchased, evts[0].Type())
	assert.Equal(t, event.TypeTurnEnded, evts[1].Type())
}

func TestBuyCard_Rejections(t *testing.T) {
	deps := testDeps(11)
	g := startedGame(t, deps)
	alice := g.Players[0]

	_, err := g.BuyCard(deps, "A", alice.ID, "L9_99")
	assert.ErrorIs(t, err, aggregate.ErrCardNotFound)
	assert.True(t, aggregate.IsNotFound(err))

	_, err = g.BuyCard(deps, "A", alice.ID, g.Deck(2)[0])
	assert.ErrorIs(t, err, aggregate.ErrCardNotInMarket)

	_, err = g.BuyCard(deps, "A", alice.ID, g.Market(3)[0])
	assert.ErrorIs(t, err, aggregate.ErrCannotAfford)
}

func TestBonusesDiscountCost(t *testing.T) {
	// L1_01 and L1_02 grant diamond, L1_03 grants sapphire.
	bonuses := aggregate.Bonuses([]string{"L1_01", "L1_02", "L1_03", "nope"})
	assert.Equal(t, gems.Collection{Diamond: 2, Sapphire: 1}, bonuses)

	eff := aggregate.EffectiveCost(gems.Collection{Diamond: 3, Sapphire: 1, Ruby: 2}, bonuses)
	assert.Equal(t, gems.Collection{Diamond: 1, Ruby: 2}, eff)
}

func TestApply_RejectsGapsAndForeignEvents(t *testing.T) {
	at := time.Now()
	created := event.New("g", at, event.GameCreated{CreatorID: "A"})
	created.Seq = 2
	_, err := aggregate.Apply(aggregate.Game{}, created)
	assert.ErrorIs(t, err, aggregate.ErrSequenceGap)

	joined := event.New("g", at, event.PlayerJoined{PlayerID: "p", OwnerID: "A", Name: "x"})
	joined.Seq = 1
	_, err = aggregate.Apply(aggregate.Game{}, joined)
	assert.ErrorIs(t, err, aggregate.ErrInconsistentEvent)

	created.Seq = 1
	g, err := aggregate.Apply(aggregate.Game{}, created)
	require.NoError(t, err)
	other := event.New("h", at, event.TurnEnded{PlayerID: "p"})
	other.Seq = 2
	_, err = aggregate.Apply(g, other)
	assert.ErrorIs(t, err, aggregate.ErrInconsistentEvent)

	reveal := event.New("g", at, event.CardRevealed{Level: 1, CardID: "L1_01"})
	reveal.Seq = 2
	_, err = aggregate.Apply(g, reveal)
	assert.ErrorIs(t, err, aggregate.ErrInconsistentEvent)
}

func TestApply_CorruptStreamIsNotAClientError(t *testing.T) {
	at := time.Now()
	created := event.New("g", at, event.GameCreated{CreatorID: "A"})
	created.Seq = 1
	g, err := aggregate.Apply(aggregate.Game{}, created)
	require.NoError(t, err)
	joined := event.New("g", at, event.PlayerJoined{PlayerID: "p", OwnerID: "A", Name: "Alice"})
	joined.Seq = 2
	g, err = aggregate.Apply(g, joined)
	require.NoError(t, err)

	cases := map[string]event.Payload{
		"gems for unknown player":    event.GemsTaken{PlayerID: "ghost", Gems: gems.Collection{Diamond: 1}},
		"purchase by unknown player": event.CardPurchased{PlayerID: "ghost", CardID: "L1_01"},
		"card missing from catalog":  event.CardPurchased{PlayerID: "p", CardID: "retired"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			evt := event.New("g", at, payload)
			evt.Seq = 3
			_, err := aggregate.Apply(g, evt)
			require.ErrorIs(t, err, aggregate.ErrInconsistentEvent)
			assert.True(t, aggregate.IsCorrupt(err))
			assert.False(t, aggregate.IsNotFound(err))
			assert.False(t, aggregate.IsRejection(err))
		})
	}

	gap := event.New("g", at, event.TurnEnded{PlayerID: "p"})
	gap.Seq = 5
	_, err = aggregate.Apply(g, gap)
	assert.True(t, aggregate.IsCorrupt(err))
	assert.False(t, aggregate.IsNotFound(err))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	deps := testDeps(5)
	g := startedGame(t, deps)
	g.Players[0].Gems = gems.Collection{Gold: 20}
	marketBefore := append([]string(nil), g.Market(1)...)
	deckBefore := append([]string(nil), g.Deck(1)...)

	evts, err := g.BuyCard(deps, "A", g.Players[0].ID, g.Market(1)[0])
	require.NoError(t, err)
	_ = commit(t, g, evts)

	assert.Equal(t, marketBefore, g.Market(1))
	assert.Equal(t, deckBefore, g.Deck(1))
	assert.Empty(t, g.Players[0].Cards)
	assert.Equal(t, gems.Collection{Gold: 20}, g.Players[0].Gems)
}

func TestAvailableActions(t *testing.T) {
	deps := testDeps(1)
	var g aggregate.Game
	assert.Nil(t, g.AvailableActions())

	evts, _ := g.Create(deps, "g", "A")
	g = commit(t, g, evts)
	assert.Equal(t, []aggregate.Action{aggregate.ActionJoinGame}, g.AvailableActions())

	for _, name := range []string{"Alice", "Bob"} {
		evts, _ = g.Join(deps, "A", name)
		g = commit(t, g, evts)
	}
	assert.Equal(t, []aggregate.Action{aggregate.ActionJoinGame, aggregate.ActionStartGame}, g.AvailableActions())

	for _, name := range []string{"Cara", "Dan"} {
		evts, _ = g.Join(deps, "A", name)
		g = commit(t, g, evts)
	}
	assert.Equal(t, []aggregate.Action{aggregate.ActionStartGame}, g.AvailableActions())

	evts, _ = g.Start(deps, "A")
	g = commit(t, g, evts)
	assert.Equal(t, []aggregate.Action{aggregate.ActionTakeGems, aggregate.ActionBuyCard}, g.AvailableActions())
}
