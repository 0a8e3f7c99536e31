package dice

// PercentScale is the upper bound of a percent roll.
const PercentScale = 100.0

// Percent draws a uniform value in [0, 100) from src.
//
// Precondition: src must be non-nil.
func Percent(src Source) float64 {
	return src.Float64() * PercentScale
}

// Cumulative scans weights in order, accumulating positive entries, and
// returns the first index whose running total exceeds roll.
//
// Postcondition: ok is false iff roll >= sum of positive weights (or no
// positive weight exists); idx is then -1.
func Cumulative(weights []float64, roll float64) (idx int, ok bool) {
	var cum float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cum += w
		if roll < cum {
			return i, true
		}
	}
	return -1, false
}

// Weighted draws an index with probability proportional to its weight.
// Non-positive weights are never selected.
//
// Postcondition: ok is false iff no weight is positive.
func Weighted(weights []float64, src Source) (int, bool) {
	var total float64
	last := -1
	for i, w := range weights {
		if w > 0 {
			total += w
			last = i
		}
	}
	if last < 0 {
		return -1, false
	}
	roll := src.Float64() * total
	if idx, ok := Cumulative(weights, roll); ok {
		return idx, true
	}
	// roll landed on the upper edge through rounding; it belongs to the last
	// positive weight.
	return last, true
}
