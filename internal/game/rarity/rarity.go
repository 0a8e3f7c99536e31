// Package rarity defines the ordered rarity tiers and the per-tier subgrade
// refinement axis shared by the pull and fusion engines.
package rarity

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rarity is a totally ordered item tier. Higher values are rarer.
type Rarity int

const (
	Common Rarity = iota
	Uncommon
	Rare
	Epic
	Legendary
	Mythic
	Celestial
)

var names = [...]string{
	Common:    "common",
	Uncommon:  "uncommon",
	Rare:      "rare",
	Epic:      "epic",
	Legendary: "legendary",
	Mythic:    "mythic",
	Celestial: "celestial",
}

// All returns every tier in ascending order.
//
// Postcondition: result[i] < result[i+1] for all i.
func All() []Rarity {
	out := make([]Rarity, len(names))
	for i := range names {
		out[i] = Rarity(i)
	}
	return out
}

// Top returns the highest tier.
func Top() Rarity { return Celestial }

// Valid reports whether r is one of the declared tiers.
func (r Rarity) Valid() bool {
	return r >= Common && r <= Celestial
}

// IsTop reports whether r is the highest tier.
func (r Rarity) IsTop() bool { return r == Top() }

// Next returns the tier directly above r and true, or r and false if r is the top tier.
func (r Rarity) Next() (Rarity, bool) {
	if r.IsTop() || !r.Valid() {
		return r, false
	}
	return r + 1, true
}

// String returns the lowercase tier name.
func (r Rarity) String() string {
	if !r.Valid() {
		return fmt.Sprintf("rarity(%d)", int(r))
	}
	return names[r]
}

// Parse resolves a tier name case-insensitively.
//
// Postcondition: returns a valid Rarity or a non-nil error.
func Parse(s string) (Rarity, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == key {
			return Rarity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rarity %q", s)
}

// MarshalYAML encodes the tier by name.
func (r Rarity) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML decodes a tier from its name.
func (r *Rarity) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText encodes the tier by name for JSON and map keys.
func (r Rarity) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a tier from its name.
func (r *Rarity) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
