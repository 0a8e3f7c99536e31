package rarity

// SubGrade is the intra-tier refinement level.
//
// Invariant: a valid SubGrade is in [MinSubGrade, MaxSubGrade].
type SubGrade int

const (
	MinSubGrade SubGrade = 1
	MaxSubGrade SubGrade = 5

	// SubGradeCount is the number of subgrade levels per tier.
	SubGradeCount = int(MaxSubGrade - MinSubGrade + 1)
)

// Valid reports whether g is within [MinSubGrade, MaxSubGrade].
func (g SubGrade) Valid() bool {
	return g >= MinSubGrade && g <= MaxSubGrade
}

// IsMax reports whether g is the highest subgrade.
func (g SubGrade) IsMax() bool { return g == MaxSubGrade }

// Clamp returns g limited to [MinSubGrade, MaxSubGrade].
func (g SubGrade) Clamp() SubGrade {
	if g < MinSubGrade {
		return MinSubGrade
	}
	if g > MaxSubGrade {
		return MaxSubGrade
	}
	return g
}

// SubGradeFromIndex converts a zero-based distribution index to a SubGrade.
func SubGradeFromIndex(i int) SubGrade {
	return (MinSubGrade + SubGrade(i)).Clamp()
}

// Bonus returns the flat stat multiplier contributed by g given a per-grade bonus:
// 1 + perGrade*(g-1).
func (g SubGrade) Bonus(perGrade float64) float64 {
	return 1 + perGrade*float64(g.Clamp()-MinSubGrade)
}
