package scripting

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// CurveFunc is the global Lua function a curve script must define. It is
// called with a tier name and returns that tier's stat multiplier.
const CurveFunc = "stat_multiplier"

// Curve evaluates stat multipliers through a Lua script, falling back to a
// configured table when the script is absent, fails, or returns a
// non-positive number. Results are cached per tier.
type Curve struct {
	mgr      *Manager
	key      string
	fallback rarity.Multipliers
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[rarity.Rarity]float64
}

// NewCurve binds the curve to the VM loaded under key.
//
// Precondition: mgr and logger must be non-nil.
func NewCurve(mgr *Manager, key string, fallback rarity.Multipliers, logger *zap.Logger) *Curve {
	if fallback == nil {
		fallback = rarity.DefaultMultipliers()
	}
	return &Curve{
		mgr:      mgr,
		key:      key,
		fallback: fallback,
		logger:   logger,
		cache:    make(map[rarity.Rarity]float64),
	}
}

// Multiplier returns the multiplier of r.
//
// Postcondition: the result is > 0 whenever the fallback table's value is.
func (c *Curve) Multiplier(r rarity.Rarity) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[r]; ok {
		return v
	}
	v := c.eval(r)
	c.cache[r] = v
	return v
}

func (c *Curve) eval(r rarity.Rarity) float64 {
	if !c.mgr.Has(c.key, CurveFunc) {
		return c.fallback.Multiplier(r)
	}
	ret, err := c.mgr.Call(c.key, CurveFunc, lua.LString(r.String()))
	if err != nil {
		return c.fallback.Multiplier(r)
	}
	n, ok := ret.(lua.LNumber)
	if !ok || float64(n) <= 0 {
		c.logger.Warn("stat curve returned invalid value; using table",
			zap.String("rarity", r.String()),
			zap.String("value", ret.String()),
		)
		return c.fallback.Multiplier(r)
	}
	return float64(n)
}

// Table evaluates the curve for every tier.
func (c *Curve) Table() rarity.Multipliers {
	out := make(rarity.Multipliers, len(rarity.All()))
	for _, r := range rarity.All() {
		out[r] = c.Multiplier(r)
	}
	return out
}
