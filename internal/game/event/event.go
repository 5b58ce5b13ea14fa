// Package event defines the immutable facts recorded in a game's stream.
//
// Every fact is an Event envelope carrying one typed Payload. The set of
// payload types is closed: the aggregate fold and the read-model projector
// both switch over exactly these types.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/splendor/internal/game/gems"
)

// Type is the stable wire name of a payload type.
type Type string

const (
	TypeGameCreated   Type = "game_created"
	TypePlayerJoined  Type = "player_joined"
	TypeGameStarted   Type = "game_started"
	TypeTurnStarted   Type = "turn_started"
	TypeGemsTaken     Type = "gems_taken"
	TypeTurnEnded     Type = "turn_ended"
	TypeCardPurchased Type = "card_purchased"
	TypeCardRevealed  Type = "card_revealed"
)

// ErrUnknownType is returned when decoding a payload whose type is not registered.
var ErrUnknownType = errors.New("unknown event type")

// Payload is implemented by every fact type.
type Payload interface {
	EventType() Type
}

// Event is the envelope stored in and read from a stream.
//
// Seq is assigned by the event store on append; it is 1-based and contiguous
// within one game's stream. Events produced by a command carry Seq 0 until
// they are stored.
type Event struct {
	GameID     string
	Seq        uint64
	OccurredAt time.Time
	Payload    Payload
}

// New wraps p in an unsequenced envelope.
func New(gameID string, at time.Time, p Payload) Event {
	return Event{GameID: gameID, OccurredAt: at.UTC(), Payload: p}
}

// Type returns the payload's wire type, or "" when the payload is nil.
func (e Event) Type() Type {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// GameCreated opens a stream.
type GameCreated struct {
	CreatorID string `json:"creatorId"`
}

// PlayerJoined adds a seat in join order.
type PlayerJoined struct {
	PlayerID string `json:"playerId"`
	OwnerID  string `json:"ownerId"`
	Name     string `json:"name"`
}

// GameStarted records the shuffled decks, the dealt markets and the starting bank.
type GameStarted struct {
	Deck1   []string        `json:"deck1"`
	Deck2   []string        `json:"deck2"`
	Deck3   []string        `json:"deck3"`
	Market1 []string        `json:"market1"`
	Market2 []string        `json:"market2"`
	Market3 []string        `json:"market3"`
	Bank    gems.Collection `json:"bank"`
}

// Deck returns the deck of tier (1-based), or nil when out of range.
func (g GameStarted) Deck(tier int) []string {
	switch tier {
	case 1:
		return g.Deck1
	case 2:
		return g.Deck2
	case 3:
		return g.Deck3
	}
	return nil
}

// Market returns the visible cards of tier (1-based), or nil when out of range.
func (g GameStarted) Market(tier int) []string {
	switch tier {
	case 1:
		return g.Market1
	case 2:
		return g.Market2
	case 3:
		return g.Market3
	}
	return nil
}

// TurnStarted names the active player.
type TurnStarted struct {
	PlayerID string `json:"playerId"`
}

// GemsTaken moves tokens from the bank to a player.
type GemsTaken struct {
	PlayerID string          `json:"playerId"`
	Gems     gems.Collection `json:"gems"`
}

// TurnEnded closes the acting player's turn. It changes no visible state.
type TurnEnded struct {
	PlayerID string `json:"playerId"`
}

// CardPurchased moves a card from a market to a player and the payment from
// the player to the bank.
type CardPurchased struct {
	PlayerID string          `json:"playerId"`
	CardID   string          `json:"cardId"`
	PaidGems gems.Collection `json:"paidGems"`
}

// CardRevealed moves the head of a tier's deck into that tier's market.
type CardRevealed struct {
	Level  int    `json:"level"`
	CardID string `json:"cardId"`
}

func (GameCreated) EventType() Type   { return TypeGameCreated }
func (PlayerJoined) EventType() Type  { return TypePlayerJoined }
func (GameStarted) EventType() Type   { return TypeGameStarted }
func (TurnStarted) EventType() Type   { return TypeTurnStarted }
func (GemsTaken) EventType() Type     { return TypeGemsTaken }
func (TurnEnded) EventType() Type     { return TypeTurnEnded }
func (CardPurchased) EventType() Type { return TypeCardPurchased }
func (CardRevealed) EventType() Type  { return TypeCardRevealed }

var decoders = map[Type]func([]byte) (Payload, error){
	TypeGameCreated:   decodeAs[GameCreated],
	TypePlayerJoined:  decodeAs[PlayerJoined],
	TypeGameStarted:   decodeAs[GameStarted],
	TypeTurnStarted:   decodeAs[TurnStarted],
	TypeGemsTaken:     decodeAs[GemsTaken],
	TypeTurnEnded:     decodeAs[TurnEnded],
	TypeCardPurchased: decodeAs[CardPurchased],
	TypeCardRevealed:  decodeAs[CardRevealed],
}

func decodeAs[P Payload](data []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Types lists every registered payload type.
func Types() []Type {
	return []Type{
		TypeGameCreated, TypePlayerJoined, TypeGameStarted, TypeTurnStarted,
		TypeGemsTaken, TypeTurnEnded, TypeCardPurchased, TypeCardRevealed,
	}
}

// EncodePayload serializes p for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil event payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// DecodePayload rebuilds the payload of type t from data.
//
// Postcondition: Returns a value payload (never a pointer) whose EventType()
// equals t, or an error wrapping ErrUnknownType.
func DecodePayload(t Type, data []byte) (Payload, error) {
	dec, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	p, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", t, err)
	}
	return p, nil
}

type wireEvent struct {
	GameID     string          `json:"gameId"`
	Seq        uint64          `json:"seq"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON renders the envelope with its type name alongside the payload.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		GameID:     e.GameID,
		Seq:        e.Seq,
		Type:       e.Type(),
		OccurredAt: e.OccurredAt,
		Payload:    payload,
	})
}

// UnmarshalJSON restores an envelope written by MarshalJSON.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{GameID: w.GameID, Seq: w.Seq, OccurredAt: w.OccurredAt, Payload: p}
	return nil
}
