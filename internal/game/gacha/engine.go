// Package gacha resolves randomized pulls against a rate table with soft and
// hard pity, and orchestrates multi-pull batches with rarity guarantees.
package gacha

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/dice"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
)

// ErrCatalogExhausted is returned when no template can be materialized for a
// resolved rarity, even after fallback.
var ErrCatalogExhausted = gerrors.New(gerrors.CodeCatalogExhausted, "catalog exhausted")

// Catalog is the template lookup the engine materializes from.
type Catalog interface {
	Find(q catalog.Query) []catalog.ItemTemplate
	Template(k catalog.Key) (catalog.ItemTemplate, bool)
}

// Engine resolves pulls. It holds no per-stream state; every call operates on
// the *Stream passed in.
type Engine struct {
	catalog Catalog
	roller  *dice.Roller
	logger  *zap.Logger
}

// NewEngine creates an Engine.
//
// Precondition: cat, roller and logger must be non-nil.
func NewEngine(cat Catalog, roller *dice.Roller, logger *zap.Logger) *Engine {
	return &Engine{catalog: cat, roller: roller, logger: logger}
}

// SampleRarity maps roll ∈ [0,100) to a tier. Tiers are scanned from highest
// to lowest, accumulating effective probabilities; a tier at or above floor
// with a positive base probability contributes base + bonus, every other tier
// contributes its base. The first tier whose running total exceeds roll wins.
// If none does, the lowest tier in the table wins.
//
// Postcondition: for a fixed roll, the result is >= floor for every bonus at
// least as large as one that already yields a result >= floor.
func SampleRarity(table ruleset.RateTable, floor rarity.Rarity, bonus, roll float64) rarity.Rarity {
	sorted := table.Sorted()
	if len(sorted) == 0 {
		return floor
	}
	weights := make([]float64, len(sorted))
	for i := range sorted {
		e := sorted[len(sorted)-1-i]
		w := e.BaseProbability
		if e.Rarity >= floor && w > 0 {
			w += bonus
		}
		weights[i] = w
	}
	if idx, ok := dice.Cumulative(weights, roll); ok {
		return sorted[len(sorted)-1-idx].Rarity
	}
	return sorted[0].Rarity
}

// ResolveRarity advances s's pity counter and resolves one tier.
//
// Postcondition: if the incremented counter reaches HardThreshold the floor
// tier is returned; the counter is 0 whenever the result is >= floor.
func (e *Engine) ResolveRarity(s *Stream) rarity.Rarity {
	r, _ := e.resolveRarity(s)
	return r
}

func (e *Engine) resolveRarity(s *Stream) (r rarity.Rarity, hard bool) {
	p := &s.Pity
	p.PullsSinceGuarantee++
	if p.PullsSinceGuarantee >= p.HardThreshold {
		p.PullsSinceGuarantee = 0
		s.Stats.HardPityTriggers++
		e.logger.Debug("hard pity triggered",
			zap.String("stream", s.Def.Name),
			zap.Stringer("rarity", p.Floor),
		)
		return p.Floor, true
	}
	bonus := p.Bonus()
	roll := e.roller.Percent("rarity")
	r = SampleRarity(s.Def.Rates, p.Floor, bonus, roll)
	if r >= p.Floor {
		p.PullsSinceGuarantee = 0
	}
	return r, false
}

// ResolveSubGrade samples a subgrade from r's distribution in s's rate table.
//
// Postcondition: the result is a valid SubGrade; MinSubGrade when r has no
// entry or its distribution has no positive weight.
func (e *Engine) ResolveSubGrade(s *Stream, r rarity.Rarity) rarity.SubGrade {
	entry, ok := s.Def.Rates.Entry(r)
	if !ok {
		return rarity.MinSubGrade
	}
	idx, ok := e.roller.Weighted("subgrade", entry.SubGrades[:])
	if !ok {
		return rarity.MinSubGrade
	}
	return rarity.SubGradeFromIndex(idx)
}

// MaterializeItem picks a template uniformly among those of tier r and
// subgrade g whose type is one of types, and returns a new instance of it.
// No types matches any type. Templates of tier r at another subgrade are
// restamped to g. When tier r has no template of types, other tiers are
// searched in ascending order under the same type set and the substitution
// is logged at warn level.
//
// Postcondition: returns an instance whose type is one of types (when given)
// or an error matching ErrCatalogExhausted.
func (e *Engine) MaterializeItem(r rarity.Rarity, g rarity.SubGrade, types ...catalog.ItemType) (catalog.ItemInstance, error) {
	if candidates := e.catalog.Find(catalog.Query{Rarity: r, SubGrade: g, Types: types}); len(candidates) > 0 {
		return catalog.NewInstance(e.pick(candidates)), nil
	}
	if candidates := e.catalog.Find(catalog.Query{Rarity: r, Types: types}); len(candidates) > 0 {
		return catalog.NewInstance(e.restamp(e.pick(candidates), g)), nil
	}
	for _, alt := range rarity.All() {
		if alt == r {
			continue
		}
		candidates := e.catalog.Find(catalog.Query{Rarity: alt, Types: types})
		if len(candidates) == 0 {
			continue
		}
		t := e.restamp(e.pick(candidates), g)
		e.logger.Warn("catalog substitution",
			zap.Stringer("wanted_rarity", r),
			zap.Stringer("substituted_rarity", alt),
			zap.String("types", typeList(types)),
			zap.String("template", t.ID),
		)
		return catalog.NewInstance(t), nil
	}
	return catalog.ItemInstance{}, gerrors.WithMetadata(gerrors.CodeCatalogExhausted,
		fmt.Sprintf("no template for rarity %s and types %q", r, typeList(types)),
		map[string]string{"rarity": r.String(), "types": typeList(types)},
	)
}

func typeList(types []catalog.ItemType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}

func (e *Engine) pick(candidates []catalog.ItemTemplate) catalog.ItemTemplate {
	if len(candidates) == 1 {
		return candidates[0]
	}
	return candidates[e.roller.Intn("template", len(candidates))]
}

// restamp returns t at subgrade g, preferring a registered template-equal entry.
func (e *Engine) restamp(t catalog.ItemTemplate, g rarity.SubGrade) catalog.ItemTemplate {
	if t.SubGrade == g {
		return t
	}
	k := t.Key()
	k.SubGrade = g
	if exact, ok := e.catalog.Template(k); ok {
		return exact
	}
	t.SubGrade = g
	t.ID = catalog.DeriveID(k)
	return t
}

// PullSingle resolves one pull on s, filtered to the stream's item types.
//
// Postcondition: on success s's pity and statistics are advanced; on error
// they are unchanged.
func (e *Engine) PullSingle(s *Stream) (catalog.ItemInstance, error) {
	return e.pullOne(s, s.Def.ItemTypes)
}

func (e *Engine) pullOne(s *Stream, types []catalog.ItemType) (catalog.ItemInstance, error) {
	snap := s.snapshot()
	r, hard := e.resolveRarity(s)
	g := e.ResolveSubGrade(s, r)
	item, err := e.MaterializeItem(r, g, types...)
	if err != nil {
		s.restore(snap)
		return catalog.ItemInstance{}, err
	}
	s.Stats.Record(item.Template.Rarity)
	e.logger.Debug("pull resolved",
		zap.String("stream", s.Def.Name),
		zap.Stringer("rarity", item.Template.Rarity),
		zap.Int("subgrade", int(item.Template.SubGrade)),
		zap.String("template", item.Template.ID),
		zap.Bool("hard_pity", hard),
		zap.Int("pity_count", s.Pity.PullsSinceGuarantee),
	)
	return item, nil
}
