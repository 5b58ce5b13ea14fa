// Package projection builds the display read model from the event stream.
//
// It deliberately shares nothing with the aggregate beyond the leaf gem,
// catalog and event packages: both fold the same log, neither reads the other.
package projection

import (
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/splendor/internal/game/catalog"
	"github.com/cory-johannsen/splendor/internal/game/event"
	"github.com/cory-johannsen/splendor/internal/game/gems"
)

// ErrUnexpectedEvent is returned when an event cannot be mirrored onto a view.
var ErrUnexpectedEvent = errors.New("unexpected event for view")

// Status is the display lifecycle of a game.
type Status string

const (
	StatusCreated Status = "created"
	StatusStarted Status = "started"
)

// GemCounts is the display form of a token collection.
type GemCounts struct {
	Diamond  int `json:"diamond"`
	Sapphire int `json:"sapphire"`
	Emerald  int `json:"emerald"`
	Ruby     int `json:"ruby"`
	Onyx     int `json:"onyx"`
	Gold     int `json:"gold"`
}

func countsOf(c gems.Collection) GemCounts {
	return GemCounts{
		Diamond:  c.Diamond,
		Sapphire: c.Sapphire,
		Emerald:  c.Emerald,
		Ruby:     c.Ruby,
		Onyx:     c.Onyx,
		Gold:     c.Gold,
	}
}

func (g GemCounts) plus(c gems.Collection) GemCounts {
	return GemCounts{
		Diamond:  g.Diamond + c.Diamond,
		Sapphire: g.Sapphire + c.Sapphire,
		Emerald:  g.Emerald + c.Emerald,
		Ruby:     g.Ruby + c.Ruby,
		Onyx:     g.Onyx + c.Onyx,
		Gold:     g.Gold + c.Gold,
	}
}

func (g GemCounts) minus(c gems.Collection) GemCounts {
	return GemCounts{
		Diamond:  max(0, g.Diamond-c.Diamond),
		Sapphire: max(0, g.Sapphire-c.Sapphire),
		Emerald:  max(0, g.Emerald-c.Emerald),
		Ruby:     max(0, g.Ruby-c.Ruby),
		Onyx:     max(0, g.Onyx-c.Onyx),
		Gold:     max(0, g.Gold-c.Gold),
	}
}

// Total sums every count.
func (g GemCounts) Total() int {
	return g.Diamond + g.Sapphire + g.Emerald + g.Ruby + g.Onyx + g.Gold
}

// PlayerView is one seat as displayed.
type PlayerView struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Name         string    `json:"name"`
	Gems         GemCounts `json:"gems"`
	OwnedCardIDs []string  `json:"ownedCardIds"`
	Points       int       `json:"points"`
}

// GameView is the display read model of one game.
type GameView struct {
	ID              string       `json:"id"`
	Version         int          `json:"version"`
	Status          Status       `json:"status"`
	CreatorID       string       `json:"creatorId"`
	Players         []PlayerView `json:"players"`
	MarketGems      GemCounts    `json:"marketGems"`
	CurrentPlayerID string       `json:"currentPlayerId,omitempty"`
	Market1         []string     `json:"market1"`
	Market2         []string     `json:"market2"`
	Market3         []string     `json:"market3"`
	Deck1Count      int          `json:"deck1Count"`
	Deck2Count      int          `json:"deck2Count"`
	Deck3Count      int          `json:"deck3Count"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	// LastSeq is the stream sequence of the last event mirrored into the view.
	// It is the consumer's checkpoint and is stored with the view.
	LastSeq uint64 `json:"lastSeq"`
}

// Apply mirrors one event onto view.
//
// Precondition: evt.Seq must be view.LastSeq+1.
// Postcondition: Returns a new view with LastSeq == evt.Seq. Version grows by
// one for every event except TurnEnded. view is never modified.
func Apply(view GameView, evt event.Event) (GameView, error) {
	if evt.Seq != view.LastSeq+1 {
		return view, fmt.Errorf("%w: view at seq %d, got seq %d", ErrUnexpectedEvent, view.LastSeq, evt.Seq)
	}
	if view.ID == "" && evt.Type() != event.TypeGameCreated {
		return view, fmt.Errorf("%w: %s before game_created", ErrUnexpectedEvent, evt.Type())
	}
	if view.ID != "" && evt.GameID != view.ID {
		return view, fmt.Errorf("%w: event for %q applied to view %q", ErrUnexpectedEvent, evt.GameID, view.ID)
	}

	next := view.clone()
	switch p := evt.Payload.(type) {
	case event.GameCreated:
		next.ID = evt.GameID
		next.CreatorID = p.CreatorID
		next.Status = StatusCreated
		next.CreatedAt = evt.OccurredAt
	case event.PlayerJoined:
		next.Players = append(next.Players, PlayerView{
			ID:           p.PlayerID,
			OwnerID:      p.OwnerID,
			Name:         p.Name,
			OwnedCardIDs: []string{},
		})
	case event.GameStarted:
		next.Status = StatusStarted
		next.MarketGems = countsOf(p.Bank)
		next.Market1 = append([]string{}, p.Market1...)
		next.Market2 = append([]string{}, p.Market2...)
		next.Market3 = append([]string{}, p.Market3...)
		next.Deck1Count = len(p.Deck1)
		next.Deck2Count = len(p.Deck2)
		next.Deck3Count = len(p.Deck3)
	case event.TurnStarted:
		next.CurrentPlayerID = p.PlayerID
	case event.GemsTaken:
		pv, err := next.player(p.PlayerID)
		if err != nil {
			return view, err
		}
		pv.Gems = pv.Gems.plus(p.Gems)
		next.MarketGems = next.MarketGems.minus(p.Gems)
	case event.TurnEnded:
		next.LastSeq = evt.Seq
		return next, nil
	case event.CardPurchased:
		pv, err := next.player(p.PlayerID)
		if err != nil {
			return view, err
		}
		card, err := catalog.FindByID(p.CardID)
		if err != nil {
			return view, fmt.Errorf("%w: %v", ErrUnexpectedEvent, err)
		}
		market := next.market(card.Tier)
		*market = remove(*market, card.ID)
		pv.Gems = pv.Gems.minus(p.PaidGems)
		pv.OwnedCardIDs = append(pv.OwnedCardIDs, card.ID)
		pv.Points += card.Points
		next.MarketGems = next.MarketGems.plus(p.PaidGems)
	case event.CardRevealed:
		market := next.market(p.Level)
		if market == nil {
			return view, fmt.Errorf("%w: tier %d out of range", ErrUnexpectedEvent, p.Level)
		}
		*market = append(*market, p.CardID)
		count := next.deckCount(p.Level)
		*count = max(0, *count-1)
	default:
		return view, fmt.Errorf("%w: unhandled payload %T", ErrUnexpectedEvent, evt.Payload)
	}
	next.Version++
	next.LastSeq = evt.Seq
	next.UpdatedAt = evt.OccurredAt
	return next, nil
}

// Project builds a view from a complete stream.
func Project(events []event.Event) (GameView, error) {
	var view GameView
	for _, evt := range events {
		next, err := Apply(view, evt)
		if err != nil {
			return view, err
		}
		view = next
	}
	return view, nil
}

// Market returns the visible cards of tier (1-based).
func (v GameView) Market(tier int) []string {
	if m := (&v).market(tier); m != nil {
		return *m
	}
	return nil
}

// DeckCount returns the number of face-down cards left in tier (1-based).
func (v GameView) DeckCount(tier int) int {
	if c := (&v).deckCount(tier); c != nil {
		return *c
	}
	return 0
}

func (v *GameView) market(tier int) *[]string {
	switch tier {
	case 1:
		return &v.Market1
	case 2:
		return &v.Market2
	case 3:
		return &v.Market3
	}
	return nil
}

func (v *GameView) deckCount(tier int) *int {
	switch tier {
	case 1:
		return &v.Deck1Count
	case 2:
		return &v.Deck2Count
	case 3:
		return &v.Deck3Count
	}
	return nil
}

func (v *GameView) player(id string) (*PlayerView, error) {
	for i := range v.Players {
		if v.Players[i].ID == id {
			return &v.Players[i], nil
		}
	}
	return nil, fmt.Errorf("%w: unknown player %q", ErrUnexpectedEvent, id)
}

func (v GameView) clone() GameView {
	out := v
	out.Players = make([]PlayerView, len(v.Players))
	for i, p := range v.Players {
		p.OwnedCardIDs = append([]string{}, p.OwnedCardIDs...)
		out.Players[i] = p
	}
	out.Market1 = cloneIDs(v.Market1)
	out.Market2 = cloneIDs(v.Market2)
	out.Market3 = cloneIDs(v.Market3)
	return out
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append(make([]string, 0, len(ids)), ids...)
}

func remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
