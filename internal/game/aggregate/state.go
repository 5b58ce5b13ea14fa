// Package aggregate holds the authoritative game state, the command handlers
// that validate against it, and the pure fold that rebuilds it from events.
package aggregate

import (
	"github.com/cory-johannsen/splendor/internal/game/catalog"
	"github.com/cory-johannsen/splendor/internal/game/gems"
)

const (
	// MinPlayers is the number of seats required to start.
	MinPlayers = 2
	// MaxPlayers is the seat limit.
	MaxPlayers = 4
	// MarketSize is the number of face-up cards dealt per tier.
	MarketSize = 4
	// MaxNameLength bounds a player's display name, in runes.
	MaxNameLength = 32
)

// Player is one seat in a game.
type Player struct {
	ID      string
	OwnerID string
	Name    string
	Gems    gems.Collection
	// Cards holds owned card IDs in purchase order.
	Cards []string
}

// Game is the folded state of one stream.
//
// A Game value is owned by whoever folded it. Apply never mutates its input,
// so values may be shared read-only between goroutines.
type Game struct {
	ID              string
	CreatorID       string
	Players         []Player
	Started         bool
	CurrentPlayerID string
	Bank            gems.Collection
	Decks           [catalog.Tiers][]string
	Markets         [catalog.Tiers][]string
	// Version is the sequence of the last applied event; 0 for an empty stream.
	Version uint64
}

// Exists reports whether a GameCreated event has been applied.
func (g Game) Exists() bool {
	return g.ID != ""
}

// PlayerIndex returns the join-order index of playerID, or -1.
func (g Game) PlayerIndex(playerID string) int {
	for i, p := range g.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// Player returns the seat for playerID.
func (g Game) Player(playerID string) (Player, bool) {
	if i := g.PlayerIndex(playerID); i >= 0 {
		return g.Players[i], true
	}
	return Player{}, false
}

// Deck returns tier's remaining deck (1-based tier).
func (g Game) Deck(tier int) []string {
	if tier < 1 || tier > catalog.Tiers {
		return nil
	}
	return g.Decks[tier-1]
}

// Market returns tier's visible cards (1-based tier).
func (g Game) Market(tier int) []string {
	if tier < 1 || tier > catalog.Tiers {
		return nil
	}
	return g.Markets[tier-1]
}

// Action names a move the game currently accepts.
type Action string

const (
	ActionJoinGame  Action = "join_game"
	ActionStartGame Action = "start_game"
	ActionTakeGems  Action = "take_gems"
	ActionBuyCard   Action = "buy_card"
)

// AvailableActions lists the moves the current state accepts from someone.
// It does not check who is asking.
func (g Game) AvailableActions() []Action {
	if !g.Exists() {
		return nil
	}
	if g.Started {
		return []Action{ActionTakeGems, ActionBuyCard}
	}
	actions := make([]Action, 0, 2)
	if len(g.Players) < MaxPlayers {
		actions = append(actions, ActionJoinGame)
	}
	if len(g.Players) >= MinPlayers {
		actions = append(actions, ActionStartGame)
	}
	return actions
}

// clone returns a deep copy so a fold step can modify it freely.
func (g Game) clone() Game {
	out := g
	out.Players = make([]Player, len(g.Players))
	for i, p := range g.Players {
		p.Cards = cloneStrings(p.Cards)
		out.Players[i] = p
	}
	for t := range g.Decks {
		out.Decks[t] = cloneStrings(g.Decks[t])
		out.Markets[t] = cloneStrings(g.Markets[t])
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
