package aggregate

import (
	"github.com/cory-johannsen/splendor/internal/game/catalog"
	"github.com/cory-johannsen/splendor/internal/game/gems"
)

// Bonuses counts owned cards by the color they discount.
//
// Precondition: every id must be in the catalog; unknown ids are skipped.
func Bonuses(cardIDs []string) gems.Collection {
	var out gems.Collection
	for _, id := range cardIDs {
		card, err := catalog.FindByID(id)
		if err != nil {
			continue
		}
		out = out.With(card.Bonus, out.Get(card.Bonus)+1)
	}
	return out
}

// EffectiveCost is cost less bonuses, floored at zero per color.
func EffectiveCost(cost, bonuses gems.Collection) gems.Collection {
	bonuses.Gold = 0
	return cost.Sub(bonuses)
}

// Payment splits an effective cost into what held covers color by color and
// the gold needed for the rest.
//
// Postcondition: paid.Get(c) == min(held.Get(c), cost.Get(c)) for each colored c,
// paid.Gold is the summed shortfall, and ok reports paid.Gold <= held.Gold.
func Payment(cost, held gems.Collection) (paid gems.Collection, ok bool) {
	shortfall := 0
	for _, c := range gems.Colors {
		own := min(held.Get(c), cost.Get(c))
		paid = paid.With(c, own)
		shortfall += cost.Get(c) - own
	}
	paid.Gold = shortfall
	return paid, shortfall <= held.Gold
}

// CanAfford reports whether p can buy card with the gems and bonuses p holds now.
func CanAfford(p Player, card catalog.Card) bool {
	_, ok := Payment(EffectiveCost(card.Cost, Bonuses(p.Cards)), p.Gems)
	return ok
}
