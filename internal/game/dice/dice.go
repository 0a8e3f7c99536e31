// Package dice provides the randomness abstraction used by the pull engine:
// uniform draws, percent rolls and weighted index selection.
package dice

// Source is the randomness provider for every draw the engine makes.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
	// Float64 returns a uniform random float in [0, 1).
	Float64() float64
}
