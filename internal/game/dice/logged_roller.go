package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger to provide logged draws.
// All draws are logged at debug level with their purpose and result.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that draws from src and logs each draw to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Source returns the underlying randomness source.
func (r *Roller) Source() Source { return r.src }

// Percent draws a value in [0, 100) and logs it.
func (r *Roller) Percent(purpose string) float64 {
	roll := Percent(r.src)
	r.logger.Debug("percent roll",
		zap.String("purpose", purpose),
		zap.Float64("roll", roll),
	)
	return roll
}

// Intn draws a value in [0, n) and logs it.
//
// Precondition: n > 0.
func (r *Roller) Intn(purpose string, n int) int {
	v := r.src.Intn(n)
	r.logger.Debug("index roll",
		zap.String("purpose", purpose),
		zap.Int("n", n),
		zap.Int("result", v),
	)
	return v
}

// Weighted draws an index proportional to weights and logs it.
//
// Postcondition: ok is false iff no weight is positive.
func (r *Roller) Weighted(purpose string, weights []float64) (int, bool) {
	idx, ok := Weighted(weights, r.src)
	r.logger.Debug("weighted roll",
		zap.String("purpose", purpose),
		zap.Float64s("weights", weights),
		zap.Int("result", idx),
		zap.Bool("ok", ok),
	)
	return idx, ok
}
