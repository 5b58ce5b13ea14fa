// Package catalog holds the fixed table of purchasable cards.
//
// The table is parsed once from the embedded cards.yaml on first use and is
// never mutated afterwards. Every accessor hands out copies.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/splendor/internal/game/gems"
)

// Tiers is the number of card tiers.
const Tiers = 3

//go:embed cards.yaml
var cardsYAML []byte

// ErrCardNotFound is returned when a card ID is not in the catalog.
var ErrCardNotFound = errors.New("card not found")

// Card is an immutable development card.
type Card struct {
	ID     string          `json:"id"`
	Tier   int             `json:"tier"`
	Bonus  gems.Color      `json:"bonus"`
	Points int             `json:"points"`
	Cost   gems.Collection `json:"cost"`
}

type cardDef struct {
	ID     string          `yaml:"id"`
	Tier   int             `yaml:"tier"`
	Bonus  string          `yaml:"bonus"`
	Points int             `yaml:"points"`
	Cost   gems.Collection `yaml:"cost"`
}

type cardFile struct {
	Cards []cardDef `yaml:"cards"`
}

// Catalog is a parsed, validated card table.
type Catalog struct {
	cards  []Card
	byID   map[string]int
	byTier [Tiers][]int
}

// Parse decodes and validates a YAML card table.
//
// Postcondition: Returns a Catalog whose cards have unique IDs, tiers in
// [1, Tiers], non-negative costs and no gold in any cost; or a non-nil error.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f cardFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding card table: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(f.Cards))}
	for _, def := range f.Cards {
		if def.ID == "" {
			return nil, errors.New("card with empty id")
		}
		if _, dup := c.byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate card id %q", def.ID)
		}
		if def.Tier < 1 || def.Tier > Tiers {
			return nil, fmt.Errorf("card %q: tier must be 1-%d, got %d", def.ID, Tiers, def.Tier)
		}
		bonus, err := gems.ParseColor(def.Bonus)
		if err != nil {
			return nil, fmt.Errorf("card %q: %w", def.ID, err)
		}
		if bonus == gems.Gold {
			return nil, fmt.Errorf("card %q: gold cannot be a bonus", def.ID)
		}
		if def.Cost.HasNegative() || def.Cost.Gold != 0 {
			return nil, fmt.Errorf("card %q: invalid cost %v", def.ID, def.Cost)
		}
		if def.Points < 0 {
			return nil, fmt.Errorf("card %q: negative points", def.ID)
		}

		idx := len(c.cards)
		c.cards = append(c.cards, Card{
			ID:     def.ID,
			Tier:   def.Tier,
			Bonus:  bonus,
			Points: def.Points,
			Cost:   def.Cost,
		})
		c.byID[def.ID] = idx
		c.byTier[def.Tier-1] = append(c.byTier[def.Tier-1], idx)
	}
	return c, nil
}

// All returns every card in declaration order.
func (c *Catalog) All() []Card {
	out := make([]Card, len(c.cards))
	copy(out, c.cards)
	return out
}

// CardsOfTier returns the cards of tier in declaration order, or nil when
// tier is out of range.
func (c *Catalog) CardsOfTier(tier int) []Card {
	if tier < 1 || tier > Tiers {
		return nil
	}
	idxs := c.byTier[tier-1]
	out := make([]Card, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, c.cards[i])
	}
	return out
}

// IDsOfTier returns only the card IDs of tier in declaration order.
func (c *Catalog) IDsOfTier(tier int) []string {
	cards := c.CardsOfTier(tier)
	ids := make([]string, len(cards))
	for i, card := range cards {
		ids[i] = card.ID
	}
	return ids
}

// FindByID returns the card with id or ErrCardNotFound.
func (c *Catalog) FindByID(id string) (Card, error) {
	i, ok := c.byID[id]
	if !ok {
		return Card{}, fmt.Errorf("%w: %q", ErrCardNotFound, id)
	}
	return c.cards[i], nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the process-wide catalog built from the embedded table.
// It panics if the embedded table is invalid, which is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(cardsYAML)
		if err != nil {
			panic("catalog: embedded card table is invalid: " + err.Error())
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// FindByID looks id up in the default catalog.
func FindByID(id string) (Card, error) { return Default().FindByID(id) }

// CardsOfTier returns the default catalog's cards of tier.
func CardsOfTier(tier int) []Card { return Default().CardsOfTier(tier) }
