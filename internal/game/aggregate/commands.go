package aggregate

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cory-johannsen/splendor/internal/game/catalog"
	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/game/gems"
	"github.com/cory-johannsen/splendor/internal/game/shuffle"
)

// Deps carries every non-deterministic input a command may need. Whatever a
// command draws from Deps ends up inside the events it returns, so the fold
// never consults them.
type Deps struct {
	Now     func() time.Time
	NewID   func() string
	Shuffle shuffle.Source
}

// DefaultDeps uses the wall clock, random UUIDs and the crypto shuffle source.
func DefaultDeps() Deps {
	return Deps{
		Now:     time.Now,
		NewID:   uuid.NewString,
		Shuffle: shuffle.NewCryptoSource(),
	}
}

// Create opens a new game stream.
//
// Precondition: g must be the zero Game (an empty stream).
// Postcondition: Returns exactly one GameCreated event.
func (g Game) Create(deps Deps, gameID, ownerID string) ([]event.Event, error) {
	if g.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrGameExists, g.ID)
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidOwner
	}
	if gameID == "" {
		gameID = deps.NewID()
	}
	return []event.Event{
		event.New(gameID, deps.Now(), event.GameCreated{CreatorID: ownerID}),
	}, nil
}

// Join seats a new player owned by ownerID.
//
// Postcondition: Returns one PlayerJoined event carrying a fresh opaque player
// ID and the trimmed name.
func (g Game) Join(deps Deps, ownerID, name string) ([]event.Event, error) {
	if !g.Exists() {
		return nil, ErrGameNotFound
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidOwner
	}
	if g.Started {
		return nil, ErrAlreadyStarted
	}
	if len(g.Players) >= MaxPlayers {
		return nil, fmt.Errorf("%w: %d players", ErrGameFull, len(g.Players))
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: must be 1 to %d characters", ErrInvalidName, MaxNameLength)
	}
	for _, p := range g.Players {
		if strings.EqualFold(p.Name, name) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	return []event.Event{
		event.New(g.ID, deps.Now(), event.PlayerJoined{
			PlayerID: deps.NewID(),
			OwnerID:  ownerID,
			Name:     name,
		}),
	}, nil
}

// Start shuffles every tier, deals the markets and hands the first turn to the
// first player to join.
//
// Precondition: deps.Shuffle must be non-nil.
// Postcondition: Returns GameStarted followed by TurnStarted.
func (g Game) Start(deps Deps, initiatorOwnerID string) ([]event.Event, error) {
	if !g.Exists() {
		return nil, ErrGameNotFound
	}
	if g.Started {
		return nil, ErrAlreadyStarted
	}
	if len(g.Players) < MinPlayers {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPlayers, len(g.Players), MinPlayers)
	}
	if !g.mayStart(initiatorOwnerID) {
		return nil, fmt.Errorf("%w: %q may not start this game", ErrNotAuthorized, initiatorOwnerID)
	}

	started := event.GameStarted{Bank: gems.StartingBank(len(g.Players))}
	var decks, markets [catalog.Tiers][]string
	for t := 1; t <= catalog.Tiers; t++ {
		ids := shuffle.Strings(deps.Shuffle, catalog.Default().IDsOfTier(t))
		n := min(MarketSize, len(ids))
		markets[t-1] = ids[:n:n]
		decks[t-1] = ids[n:]
	}
	started.Market1, started.Market2, started.Market3 = markets[0], markets[1], markets[2]
	started.Deck1, started.Deck2, started.Deck3 = decks[0], decks[1], decks[2]

	now := deps.Now()
	return []event.Event{
		event.New(g.ID, now, started),
		event.New(g.ID, now, event.TurnStarted{PlayerID: g.Players[0].ID}),
	}, nil
}

func (g Game) mayStart(ownerID string) bool {
	if ownerID == "" {
		return false
	}
	if ownerID == g.CreatorID {
		return true
	}
	for _, p := range g.Players {
		if p.OwnerID == ownerID {
			return true
		}
	}
	return false
}

// TakeGems moves requested tokens from the bank to playerID and ends the turn.
//
// Postcondition: Returns GemsTaken carrying requested unchanged, then
// TurnEnded and TurnStarted for the next player in join order.
func (g Game) TakeGems(deps Deps, initiatorOwnerID, playerID string, requested gems.Collection) ([]event.Event, error) {
	if _, err := g.checkTurn(initiatorOwnerID, playerID); err != nil {
		return nil, err
	}
	if err := checkTake(g.Bank, requested); err != nil {
		return nil, err
	}
	now := deps.Now()
	evts := []event.Event{
		event.New(g.ID, now, event.GemsTaken{PlayerID: playerID, Gems: requested}),
	}
	return append(evts, g.handOff(now, playerID)...), nil
}

// checkTake validates the shape of a take request and the bank's supply.
func checkTake(bank, req gems.Collection) error {
	if req.HasNegative() {
		return fmt.Errorf("%w: counts must not be negative", ErrIllegalGemSelection)
	}
	if req.Gold > 0 {
		return fmt.Errorf("%w: gold cannot be taken", ErrIllegalGemSelection)
	}
	total := req.ColoredTotal()
	if total > 3 {
		return fmt.Errorf("%w: requested %d, at most 3", ErrTooManyGems, total)
	}

	var picked []gems.Color
	for _, c := range gems.Colors {
		if req.Get(c) > 0 {
			picked = append(picked, c)
		}
	}
	switch {
	case total == 3 && len(picked) == 3:
		for _, c := range picked {
			if bank.Get(c) < 1 {
				return fmt.Errorf("%w: no %s left", ErrInsufficientMarketSupply, c)
			}
		}
	case total == 2 && len(picked) == 1:
		c := picked[0]
		if bank.Get(c) < 4 {
			return fmt.Errorf("%w: taking two %s needs 4 in the bank, have %d", ErrInsufficientMarketSupply, c, bank.Get(c))
		}
	default:
		return fmt.Errorf("%w: take three different colors or two of one color", ErrIllegalGemSelection)
	}
	return nil
}

// BuyCard purchases a visible card for playerID, paying with bonuses first,
// then matching gems, then gold.
//
// Postcondition: Returns CardPurchased with the exact payment, a CardRevealed
// for the tier's deck head when the deck is not empty, then TurnEnded and
// TurnStarted for the next player.
func (g Game) BuyCard(deps Deps, initiatorOwnerID, playerID, cardID string) ([]event.Event, error) {
	player, err := g.checkTurn(initiatorOwnerID, playerID)
	if err != nil {
		return nil, err
	}
	card, err := catalog.FindByID(cardID)
	if err != nil {
		return nil, err
	}
	if !contains(g.Markets[card.Tier-1], card.ID) {
		return nil, fmt.Errorf("%w: %s", ErrCardNotInMarket, card.ID)
	}
	paid, ok := Payment(EffectiveCost(card.Cost, Bonuses(player.Cards)), player.Gems)
	if !ok {
		return nil, fmt.Errorf("%w: %s needs %d gold, have %d", ErrCannotAfford, card.ID, paid.Gold, player.Gems.Gold)
	}

	now := deps.Now()
	evts := []event.Event{
		event.New(g.ID, now, event.CardPurchased{PlayerID: playerID, CardID: card.ID, PaidGems: paid}),
	}
	if deck := g.Decks[card.Tier-1]; len(deck) > 0 {
		evts = append(evts, event.New(g.ID, now, event.CardRevealed{Level: card.Tier, CardID: deck[0]}))
	}
	return append(evts, g.handOff(now, playerID)...), nil
}

// checkTurn runs the checks shared by every in-game action, in order.
func (g Game) checkTurn(initiatorOwnerID, playerID string) (Player, error) {
	if !g.Exists() {
		return Player{}, ErrGameNotFound
	}
	if !g.Started {
		return Player{}, ErrNotStarted
	}
	player, ok := g.Player(playerID)
	if !ok {
		return Player{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	if player.OwnerID != initiatorOwnerID {
		return Player{}, fmt.Errorf("%w: %s", ErrNotYourPlayer, playerID)
	}
	if g.CurrentPlayerID != playerID {
		return Player{}, fmt.Errorf("%w: waiting on %s", ErrNotYourTurn, g.CurrentPlayerID)
	}
	return player, nil
}

// NextPlayerID returns the player after playerID in join order, wrapping.
func (g Game) NextPlayerID(playerID string) string {
	i := g.PlayerIndex(playerID)
	if i < 0 || len(g.Players) == 0 {
		return ""
	}
	return g.Players[(i+1)%len(g.Players)].ID
}

func (g Game) handOff(at time.Time, playerID string) []event.Event {
	return []event.Event{
		event.New(g.ID, at, event.TurnEnded{PlayerID: playerID}),
		event.New(g.ID, at, event.TurnStarted{PlayerID: g.NextPlayerID(playerID)}),
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
