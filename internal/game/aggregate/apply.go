package aggregate

import (
	"fmt"

	"github.com/cory-johannsen/splendor/internal/game/catalog"
	"github.com/cory-johannsen/splendor/internal/game/event"
)

// Apply folds one stored event into state.
//
// Precondition: evt.Seq must equal state.Version+1.
// Postcondition: Returns the next state with Version == evt.Seq, or the
// unchanged state and an error wrapping ErrSequenceGap or ErrInconsistentEvent.
// The input state is never modified.
func Apply(state Game, evt event.Event) (Game, error) {
	if evt.Seq != state.Version+1 {
		return state, fmt.Errorf("%w: have version %d, got seq %d", ErrSequenceGap, state.Version, evt.Seq)
	}
	if state.Exists() && evt.GameID != state.ID {
		return state, fmt.Errorf("%w: event for game %q applied to %q", ErrInconsistentEvent, evt.GameID, state.ID)
	}
	if !state.Exists() && evt.Type() != event.TypeGameCreated {
		return state, fmt.Errorf("%w: stream must open with %s, got %s", ErrInconsistentEvent, event.TypeGameCreated, evt.Type())
	}

	next := state.clone()
	var err error
	switch p := evt.Payload.(type) {
	case event.GameCreated:
		err = next.applyCreated(evt.GameID, p)
	case event.PlayerJoined:
		next.Players = append(next.Players, Player{ID: p.PlayerID, OwnerID: p.OwnerID, Name: p.Name})
	case event.GameStarted:
		next.Started = true
		next.Bank = p.Bank
		for t := 1; t <= catalog.Tiers; t++ {
			next.Decks[t-1] = cloneStrings(p.Deck(t))
			next.Markets[t-1] = cloneStrings(p.Market(t))
		}
	case event.TurnStarted:
		next.CurrentPlayerID = p.PlayerID
	case event.GemsTaken:
		err = next.applyGemsTaken(p)
	case event.TurnEnded:
	case event.CardPurchased:
		err = next.applyCardPurchased(p)
	case event.CardRevealed:
		err = next.applyCardRevealed(p)
	default:
		err = fmt.Errorf("%w: unhandled payload %T", ErrInconsistentEvent, evt.Payload)
	}
	if err != nil {
		return state, fmt.Errorf("applying %s seq %d: %w", evt.Type(), evt.Seq, err)
	}
	next.Version = evt.Seq
	return next, nil
}

// Fold rebuilds a game from its full stream.
func Fold(events []event.Event) (Game, error) {
	return FoldOnto(Game{}, events)
}

// FoldOnto continues folding events onto an already folded state.
func FoldOnto(state Game, events []event.Event) (Game, error) {
	for _, evt := range events {
		next, err := Apply(state, evt)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

func (g *Game) applyCreated(gameID string, p event.GameCreated) error {
	if gameID == "" {
		return fmt.Errorf("%w: empty game id", ErrInconsistentEvent)
	}
	g.ID = gameID
	g.CreatorID = p.CreatorID
	return nil
}

func (g *Game) applyGemsTaken(p event.GemsTaken) error {
	i := g.PlayerIndex(p.PlayerID)
	if i < 0 {
		return fmt.Errorf("%w: unknown player %q", ErrInconsistentEvent, p.PlayerID)
	}
	g.Bank = g.Bank.Sub(p.Gems)
	g.Players[i].Gems = g.Players[i].Gems.Add(p.Gems)
	return nil
}

func (g *Game) applyCardPurchased(p event.CardPurchased) error {
	i := g.PlayerIndex(p.PlayerID)
	if i < 0 {
		return fmt.Errorf("%w: unknown player %q", ErrInconsistentEvent, p.PlayerID)
	}
	card, err := catalog.FindByID(p.CardID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistentEvent, err)
	}
	market, ok := without(g.Markets[card.Tier-1], card.ID)
	if !ok {
		return fmt.Errorf("%w: card %q not in tier %d market", ErrInconsistentEvent, card.ID, card.Tier)
	}
	g.Markets[card.Tier-1] = market
	g.Players[i].Gems = g.Players[i].Gems.Sub(p.PaidGems)
	g.Players[i].Cards = append(g.Players[i].Cards, card.ID)
	g.Bank = g.Bank.Add(p.PaidGems)
	return nil
}

func (g *Game) applyCardRevealed(p event.CardRevealed) error {
	if p.Level < 1 || p.Level > catalog.Tiers {
		return fmt.Errorf("%w: tier %d out of range", ErrInconsistentEvent, p.Level)
	}
	deck := g.Decks[p.Level-1]
	if len(deck) == 0 || deck[0] != p.CardID {
		return fmt.Errorf("%w: card %q is not the head of the tier %d deck", ErrInconsistentEvent, p.CardID, p.Level)
	}
	g.Decks[p.Level-1] = deck[1:]
	g.Markets[p.Level-1] = append(g.Markets[p.Level-1], p.CardID)
	return nil
}

// without returns ids minus the first occurrence of id.
func without(ids []string, id string) ([]string, bool) {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...), true
		}
	}
	return ids, false
}
