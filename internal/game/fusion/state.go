// Package fusion consumes duplicate items to produce one higher-tier item.
package fusion

import (
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// State is the fusion state of a template-equal group.
type State int

const (
	// Insufficient means fewer than the required copies are owned.
	Insufficient State = iota
	// Fusable means the group can be upgraded to the next subgrade.
	Fusable
	// Promotable means the group is at max subgrade and can move up a tier.
	Promotable
	// Maxed means the group is at max subgrade of the top tier.
	Maxed
)

var stateNames = [...]string{"insufficient", "fusable", "promotable", "maxed"}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Kind is the transition a fusion applies.
type Kind string

const (
	KindSubGradeUpgrade Kind = "subgrade_upgrade"
	KindRarityPromotion Kind = "rarity_promotion"
	KindMaxed           Kind = "maxed"
)

// Classify returns the state of a group at (r, g) with owned copies.
// Maxed takes precedence over the owned count.
func Classify(r rarity.Rarity, g rarity.SubGrade, owned, required int) State {
	switch {
	case g.IsMax() && r.IsTop():
		return Maxed
	case owned < required:
		return Insufficient
	case g.IsMax():
		return Promotable
	default:
		return Fusable
	}
}

// Transition returns the kind of fusion that applies to t regardless of count.
func Transition(t catalog.ItemTemplate) Kind {
	switch {
	case t.SubGrade.IsMax() && t.Rarity.IsTop():
		return KindMaxed
	case t.SubGrade.IsMax():
		return KindRarityPromotion
	default:
		return KindSubGradeUpgrade
	}
}

// Outcome is a read-only projection of what fusing a group would produce.
type Outcome struct {
	Kind   Kind                 `json:"kind"`
	State  State                `json:"state"`
	Source catalog.ItemTemplate `json:"source"`
	Result catalog.ItemTemplate `json:"result"`
	// SourceStat and ResultStat are primary stats with the subgrade bonus applied.
	SourceStat    float64 `json:"source_stat"`
	ResultStat    float64 `json:"result_stat,omitempty"`
	RequiredCount int     `json:"required_count"`
	Owned         int     `json:"owned"`
	// SuccessRate is always 1: fusion never fails once materials suffice.
	SuccessRate float64 `json:"success_rate"`
}

// CanFuse reports whether the outcome's group is Fusable or Promotable.
func (o Outcome) CanFuse() bool {
	return o.State == Fusable || o.State == Promotable
}
