package aggregate

import (
	"errors"

	"github.com/cory-johannsen/splendor/internal/game/catalog"
)

// Missing-resource errors.
var (
	// ErrGameNotFound is returned when a command targets a stream that was never created.
	ErrGameNotFound = errors.New("game not found")
	// ErrPlayerNotFound is returned when a player ID is not seated in the game.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrCardNotFound is returned when a card ID is not in the catalog.
	ErrCardNotFound = catalog.ErrCardNotFound
)

// Rule violations. Each rejects one command and leaves the stream untouched.
var (
	ErrGameExists               = errors.New("game already exists")
	ErrInvalidOwner             = errors.New("owner id must not be empty")
	ErrInvalidName              = errors.New("invalid player name")
	ErrAlreadyStarted           = errors.New("game already started")
	ErrGameFull                 = errors.New("game is full")
	ErrDuplicateName            = errors.New("player name already taken")
	ErrInsufficientPlayers      = errors.New("not enough players to start")
	ErrNotAuthorized            = errors.New("not authorized")
	ErrNotStarted               = errors.New("game not started")
	ErrNotYourPlayer            = errors.New("player belongs to another owner")
	ErrNotYourTurn              = errors.New("not your turn")
	ErrTooManyGems              = errors.New("too many gems requested")
	ErrIllegalGemSelection      = errors.New("illegal gem selection")
	ErrInsufficientMarketSupply = errors.New("insufficient market supply")
	ErrCardNotInMarket          = errors.New("card is not in the market")
	ErrCannotAfford             = errors.New("cannot afford card")
)

// Fold errors. These mean the stream itself is inconsistent and are never
// caused by user input.
var (
	ErrSequenceGap       = errors.New("event sequence gap")
	ErrInconsistentEvent = errors.New("event inconsistent with game state")
)

var notFound = []error{ErrGameNotFound, ErrPlayerNotFound, ErrCardNotFound}

var rejections = []error{
	ErrGameExists, ErrInvalidOwner, ErrInvalidName, ErrAlreadyStarted, ErrGameFull,
	ErrDuplicateName, ErrInsufficientPlayers, ErrNotAuthorized, ErrNotStarted,
	ErrNotYourPlayer, ErrNotYourTurn, ErrTooManyGems, ErrIllegalGemSelection,
	ErrInsufficientMarketSupply, ErrCardNotInMarket, ErrCannotAfford,
}

// IsNotFound reports whether err names a missing game, player or card.
// A stream that cannot be folded is never reported as not found.
func IsNotFound(err error) bool {
	return isAny(err, notFound)
}

// IsRejection reports whether err is a rule violation raised by a command.
func IsRejection(err error) bool {
	return isAny(err, rejections)
}

// IsCorrupt reports whether err comes from folding a stream that does not
// fit the game rules or the catalog.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrInconsistentEvent) || errors.Is(err, ErrSequenceGap)
}

func isAny(err error, targets []error) bool {
	if IsCorrupt(err) {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
