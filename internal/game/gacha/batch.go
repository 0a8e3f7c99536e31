package gacha

import (
	"fmt"

	"go.uber.org/zap"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// PullBatch performs n pulls on s with the stream's item types. When enabled
// and none of the first n-1 results reach guarantee, the final slot is a
// GuaranteedPull.
//
// Precondition: n >= 1.
// Postcondition: on success len(result) == n in pull order, and if enabled at
// least one result is >= guarantee; on error s is unchanged.
func (e *Engine) PullBatch(s *Stream, n int, guarantee rarity.Rarity, enabled bool) ([]catalog.ItemInstance, error) {
	return e.pullBatch(s, n, s.Def.ItemTypes, guarantee, enabled)
}

// PullBatchByType is PullBatch with every materialization filtered to typ.
//
// Precondition: typ must be one of the stream's item types.
func (e *Engine) PullBatchByType(s *Stream, n int, typ catalog.ItemType, guarantee rarity.Rarity, enabled bool) ([]catalog.ItemInstance, error) {
	if !typ.Valid() {
		return nil, gerrors.New(gerrors.CodeInvalidArgument, fmt.Sprintf("unknown item type %q", typ))
	}
	if !s.Def.Offers(typ) {
		return nil, gerrors.New(gerrors.CodeInvalidArgument,
			fmt.Sprintf("stream %s does not offer item type %q", s.Def.Name, typ))
	}
	return e.pullBatch(s, n, []catalog.ItemType{typ}, guarantee, enabled)
}

func (e *Engine) pullBatch(s *Stream, n int, types []catalog.ItemType, guarantee rarity.Rarity, enabled bool) ([]catalog.ItemInstance, error) {
	if n < 1 {
		return nil, gerrors.New(gerrors.CodeInvalidArgument, fmt.Sprintf("batch size must be >= 1, got %d", n))
	}
	snap := s.snapshot()
	items := make([]catalog.ItemInstance, 0, n)
	met := false
	for i := 0; i < n-1; i++ {
		item, err := e.pullOne(s, types)
		if err != nil {
			s.restore(snap)
			return nil, err
		}
		met = met || item.Template.Rarity >= guarantee
		items = append(items, item)
	}

	var last catalog.ItemInstance
	var err error
	if enabled && !met {
		last, err = e.guaranteedPull(s, guarantee, types)
	} else {
		last, err = e.pullOne(s, types)
	}
	if err != nil {
		s.restore(snap)
		return nil, err
	}
	items = append(items, last)

	e.logger.Info("batch pulled",
		zap.String("stream", s.Def.Name),
		zap.Int("size", n),
		zap.Stringer("guarantee", guarantee),
		zap.Bool("guarantee_enabled", enabled),
		zap.Bool("guarantee_applied", enabled && !met),
	)
	return items, nil
}

// GuaranteedPull resolves one pull whose rarity is sampled from the stream's
// rate table restricted to tiers >= min and renormalized. Soft-pity bonus does
// not apply and the pity counter is not touched.
//
// Postcondition: on success the result's rarity is >= min unless the catalog
// forced a lower-tier substitution (logged at warn level).
func (e *Engine) GuaranteedPull(s *Stream, min rarity.Rarity) (catalog.ItemInstance, error) {
	return e.guaranteedPull(s, min, s.Def.ItemTypes)
}

func (e *Engine) guaranteedPull(s *Stream, min rarity.Rarity, types []catalog.ItemType) (catalog.ItemInstance, error) {
	r := min
	if restricted, ok := s.Def.Rates.Restrict(min); ok {
		weights := make([]float64, len(restricted))
		for i, entry := range restricted {
			weights[i] = entry.BaseProbability
		}
		if idx, ok := e.roller.Weighted("guaranteed rarity", weights); ok {
			r = restricted[idx].Rarity
		}
	}
	g := e.ResolveSubGrade(s, r)
	item, err := e.MaterializeItem(r, g, types...)
	if err != nil {
		return catalog.ItemInstance{}, err
	}
	s.Stats.Record(item.Template.Rarity)
	s.Stats.BatchGuarantees++
	e.logger.Debug("guaranteed pull resolved",
		zap.String("stream", s.Def.Name),
		zap.Stringer("min", min),
		zap.Stringer("rarity", item.Template.Rarity),
		zap.String("template", item.Template.ID),
	)
	return item, nil
}
