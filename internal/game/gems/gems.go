// Package gems provides the six-color token collection used for holdings,
// card costs, payments and the shared bank.
package gems

import (
	"fmt"
	"strings"
)

// Color identifies one of the six token kinds.
type Color int

const (
	Diamond Color = iota
	Sapphire
	Emerald
	Ruby
	Onyx
	// Gold is the wildcard token. It can cover a shortfall of any other color.
	Gold
)

// Colors lists the five non-wildcard colors in canonical order.
var Colors = []Color{Diamond, Sapphire, Emerald, Ruby, Onyx}

var allColors = []Color{Diamond, Sapphire, Emerald, Ruby, Onyx, Gold}

var colorNames = map[Color]string{
	Diamond:  "diamond",
	Sapphire: "sapphire",
	Emerald:  "emerald",
	Ruby:     "ruby",
	Onyx:     "onyx",
	Gold:     "gold",
}

// String returns the lower-case color name.
func (c Color) String() string {
	if n, ok := colorNames[c]; ok {
		return n
	}
	return fmt.Sprintf("color(%d)", int(c))
}

// ParseColor maps a case-insensitive name to a Color.
//
// Postcondition: Returns the Color or an error naming the unknown input.
func ParseColor(name string) (Color, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for c, n := range colorNames {
		if n == key {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown gem color %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	n, ok := colorNames[c]
	if !ok {
		return nil, fmt.Errorf("unknown gem color %d", int(c))
	}
	return []byte(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(b []byte) error {
	parsed, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Collection is a quantity vector over the six token kinds.
//
// Invariant: values built through Add and Sub from non-negative inputs have
// no negative field. Sub clamps at zero, so it is not the inverse of Add.
type Collection struct {
	Diamond  int `json:"diamond" yaml:"diamond"`
	Sapphire int `json:"sapphire" yaml:"sapphire"`
	Emerald  int `json:"emerald" yaml:"emerald"`
	Ruby     int `json:"ruby" yaml:"ruby"`
	Onyx     int `json:"onyx" yaml:"onyx"`
	Gold     int `json:"gold" yaml:"gold"`
}

// Add returns the field-wise sum of c and o.
//
// Postcondition: result.Total() == c.Total() + o.Total().
func (c Collection) Add(o Collection) Collection {
	return Collection{
		Diamond:  c.Diamond + o.Diamond,
		Sapphire: c.Sapphire + o.Sapphire,
		Emerald:  c.Emerald + o.Emerald,
		Ruby:     c.Ruby + o.Ruby,
		Onyx:     c.Onyx + o.Onyx,
		Gold:     c.Gold + o.Gold,
	}
}

// Sub returns the field-wise difference of c and o, clamped at zero.
//
// Postcondition: result.Get(x) == max(0, c.Get(x)-o.Get(x)) for every color x.
// Callers that need exact conservation must check c.Covers(o) first.
func (c Collection) Sub(o Collection) Collection {
	return Collection{
		Diamond:  clampSub(c.Diamond, o.Diamond),
		Sapphire: clampSub(c.Sapphire, o.Sapphire),
		Emerald:  clampSub(c.Emerald, o.Emerald),
		Ruby:     clampSub(c.Ruby, o.Ruby),
		Onyx:     clampSub(c.Onyx, o.Onyx),
		Gold:     clampSub(c.Gold, o.Gold),
	}
}

func clampSub(a, b int) int {
	if a-b < 0 {
		return 0
	}
	return a - b
}

// Total returns the sum across all six fields.
func (c Collection) Total() int {
	return c.Diamond + c.Sapphire + c.Emerald + c.Ruby + c.Onyx + c.Gold
}

// ColoredTotal returns the sum across the five non-wildcard fields.
func (c Collection) ColoredTotal() int {
	return c.Total() - c.Gold
}

// Get returns the count held for color.
func (c Collection) Get(color Color) int {
	switch color {
	case Diamond:
		return c.Diamond
	case Sapphire:
		return c.Sapphire
	case Emerald:
		return c.Emerald
	case Ruby:
		return c.Ruby
	case Onyx:
		return c.Onyx
	case Gold:
		return c.Gold
	}
	return 0
}

// With returns a copy of c with color set to n.
func (c Collection) With(color Color, n int) Collection {
	switch color {
	case Diamond:
		c.Diamond = n
	case Sapphire:
		c.Sapphire = n
	case Emerald:
		c.Emerald = n
	case Ruby:
		c.Ruby = n
	case Onyx:
		c.Onyx = n
	case Gold:
		c.Gold = n
	}
	return c
}

// Covers reports whether every field of c is at least the matching field of o.
func (c Collection) Covers(o Collection) bool {
	for _, color := range allColors {
		if c.Get(color) < o.Get(color) {
			return false
		}
	}
	return true
}

// HasNegative reports whether any field is below zero.
func (c Collection) HasNegative() bool {
	for _, color := range allColors {
		if c.Get(color) < 0 {
			return true
		}
	}
	return false
}

// IsZero reports whether every field is zero.
func (c Collection) IsZero() bool {
	return c == Collection{}
}

// String renders only the non-zero fields, e.g. "diamond:1 ruby:2".
func (c Collection) String() string {
	var parts []string
	for _, color := range allColors {
		if n := c.Get(color); n != 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", color, n))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

// StartingBank returns the supply placed in the bank when a game starts.
//
// Precondition: players is in [2, 4]; other values are clamped into range.
// Postcondition: every color holds 4, 5 or 7 tokens for 2, 3 or 4 players, and gold holds 5.
func StartingBank(players int) Collection {
	per := 4
	switch {
	case players >= 4:
		per = 7
	case players == 3:
		per = 5
	}
	return Collection{Diamond: per, Sapphire: per, Emerald: per, Ruby: per, Onyx: per, Gold: 5}
}
