package rarity

import "fmt"

// Multipliers maps each tier to the stat multiplier applied when an item is
// promoted into that tier.
type Multipliers map[Rarity]float64

// DefaultMultipliers returns the stock promotion curve.
func DefaultMultipliers() Multipliers {
	return Multipliers{
		Common:    1.0,
		Uncommon:  1.5,
		Rare:      2.2,
		Epic:      3.2,
		Legendary: 4.6,
		Mythic:    6.5,
		Celestial: 9.0,
	}
}

// Multiplier returns the multiplier for r, or 1.0 if r is not configured.
func (m Multipliers) Multiplier(r Rarity) float64 {
	if v, ok := m[r]; ok {
		return v
	}
	return 1.0
}

// Validate checks that every tier has a positive multiplier and that the
// curve is non-decreasing.
//
// Postcondition: returns nil iff all tiers are present, > 0 and ascending.
func (m Multipliers) Validate() error {
	prev := 0.0
	for _, r := range All() {
		v, ok := m[r]
		if !ok {
			return fmt.Errorf("stat multiplier for %s is missing", r)
		}
		if v <= 0 {
			return fmt.Errorf("stat multiplier for %s must be > 0, got %g", r, v)
		}
		if v < prev {
			return fmt.Errorf("stat multiplier for %s (%g) must not be below the previous tier (%g)", r, v, prev)
		}
		prev = v
	}
	return nil
}

// Ratio returns Multiplier(to) / Multiplier(from).
func (m Multipliers) Ratio(from, to Rarity) float64 {
	return m.Multiplier(to) / m.Multiplier(from)
}
