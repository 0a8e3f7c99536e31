package ruleset

import (
	"fmt"
	"math"
	"sort"

	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// ProbabilityEpsilon is the tolerance used when checking that a distribution
// sums to 100.
const ProbabilityEpsilon = 1e-6

// RateEntry is the declared pull probability for one tier.
type RateEntry struct {
	Rarity          rarity.Rarity `yaml:"rarity"`
	BaseProbability float64       `yaml:"probability"`
	// SubGrades holds the percent chance of each subgrade 1..5.
	SubGrades [rarity.SubGradeCount]float64 `yaml:"subgrades"`
}

// RateTable is the full per-tier distribution of one pull stream.
//
// Invariant (after Validate): entries are unique per tier, sorted ascending by
// rarity, and BaseProbability sums to 100 ± ProbabilityEpsilon.
type RateTable []RateEntry

// Total returns the sum of every entry's BaseProbability.
func (t RateTable) Total() float64 {
	var sum float64
	for _, e := range t {
		sum += e.BaseProbability
	}
	return sum
}

// Entry returns the entry for r and whether it exists.
func (t RateTable) Entry(r rarity.Rarity) (RateEntry, bool) {
	for _, e := range t {
		if e.Rarity == r {
			return e, true
		}
	}
	return RateEntry{}, false
}

// Tiers returns the tiers present in the table in table order.
func (t RateTable) Tiers() []rarity.Rarity {
	out := make([]rarity.Rarity, len(t))
	for i, e := range t {
		out[i] = e.Rarity
	}
	return out
}

// Sorted returns a copy of t ordered ascending by rarity.
func (t RateTable) Sorted() RateTable {
	out := make(RateTable, len(t))
	copy(out, t)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rarity < out[j].Rarity })
	return out
}

// Restrict returns the sub-table of tiers >= min with probabilities rescaled so
// they sum to 100.
//
// Postcondition: ok is false iff no tier >= min has positive probability.
func (t RateTable) Restrict(min rarity.Rarity) (RateTable, bool) {
	var kept RateTable
	var sum float64
	for _, e := range t.Sorted() {
		if e.Rarity < min || e.BaseProbability <= 0 {
			continue
		}
		kept = append(kept, e)
		sum += e.BaseProbability
	}
	if sum <= 0 {
		return nil, false
	}
	for i := range kept {
		kept[i].BaseProbability = kept[i].BaseProbability / sum * 100
	}
	return kept, true
}

// Validate checks the normalization invariants of the table.
//
// Postcondition: returns nil iff every tier is valid and unique, every
// probability is in [0,100], the table sums to 100 and every subgrade
// distribution sums to 100 (each within ProbabilityEpsilon).
func (t RateTable) Validate() error {
	var errs []string
	if len(t) == 0 {
		return joinViolations([]string{"rate table must not be empty"})
	}
	seen := make(map[rarity.Rarity]bool, len(t))
	for i, e := range t {
		if !e.Rarity.Valid() {
			errs = append(errs, fmt.Sprintf("rates[%d]: invalid rarity %d", i, int(e.Rarity)))
			continue
		}
		if seen[e.Rarity] {
			errs = append(errs, fmt.Sprintf("rates[%d]: duplicate rarity %s", i, e.Rarity))
		}
		seen[e.Rarity] = true
		if e.BaseProbability < 0 || e.BaseProbability > 100 || math.IsNaN(e.BaseProbability) {
			errs = append(errs, fmt.Sprintf("rates[%d] (%s): probability must be in [0,100], got %g", i, e.Rarity, e.BaseProbability))
		}
		var sub float64
		for g, p := range e.SubGrades {
			if p < 0 || math.IsNaN(p) {
				errs = append(errs, fmt.Sprintf("rates[%d] (%s): subgrade %d probability must be >= 0, got %g", i, e.Rarity, g+1, p))
			}
			sub += p
		}
		if math.Abs(sub-100) > ProbabilityEpsilon {
			errs = append(errs, fmt.Sprintf("rates[%d] (%s): subgrade distribution must sum to 100, got %g", i, e.Rarity, sub))
		}
	}
	if total := t.Total(); math.Abs(total-100) > ProbabilityEpsilon {
		errs = append(errs, fmt.Sprintf("rate probabilities must sum to 100, got %g", total))
	}
	if len(errs) > 0 {
		return joinViolations(errs)
	}
	return nil
}
