package fusion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/event"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
)

var (
	// ErrInsufficientMaterials is returned when fewer than the required copies are owned.
	ErrInsufficientMaterials = gerrors.New(gerrors.CodeInsufficientMaterials, "insufficient materials")
	// ErrInvalidFusionState is returned when fusing a Maxed item.
	ErrInvalidFusionState = gerrors.New(gerrors.CodeInvalidFusionState, "item cannot be fused further")
)

// StatCurve yields the stat multiplier of each tier.
type StatCurve interface {
	Multiplier(r rarity.Rarity) float64
}

// Catalog looks up registered templates by group key.
type Catalog interface {
	Template(k catalog.Key) (catalog.ItemTemplate, bool)
}

// Config holds the collaborators of an Engine.
type Config struct {
	Rule      ruleset.FusionRule
	Curve     StatCurve
	Catalog   Catalog
	Store     inventory.TransactionalStore
	Publisher event.Publisher
	Logger    *zap.Logger
	// PlayerID is stamped on published events.
	PlayerID string
}

// Engine applies fusion to one inventory.
type Engine struct {
	rule     ruleset.FusionRule
	curve    StatCurve
	catalog  Catalog
	store    inventory.TransactionalStore
	pub      event.Publisher
	logger   *zap.Logger
	playerID string
}

// NewEngine creates an Engine. A nil Curve falls back to Rule.StatMultipliers;
// a nil Catalog always synthesizes result templates; a nil Publisher discards
// events.
//
// Precondition: cfg.Store and cfg.Logger must be non-nil; cfg.Rule.RequiredCount >= 1.
func NewEngine(cfg Config) *Engine {
	curve := cfg.Curve
	if curve == nil {
		curve = cfg.Rule.StatMultipliers
	}
	return &Engine{
		rule:     cfg.Rule,
		curve:    curve,
		catalog:  cfg.Catalog,
		store:    cfg.Store,
		pub:      cfg.Publisher,
		logger:   cfg.Logger,
		playerID: cfg.PlayerID,
	}
}

// RequiredCount returns the number of copies one fusion consumes by default.
func (e *Engine) RequiredCount() int { return e.rule.RequiredCount }

// EffectiveStat returns t's primary stat with the rule's subgrade bonus applied.
func (e *Engine) EffectiveStat(t catalog.ItemTemplate) float64 {
	return t.EffectiveStat(e.rule.SubGradeBonus)
}

// ResultTemplate returns the template a fusion of src would produce. A
// registered template with the target key is used verbatim; otherwise one is
// synthesized from src.
//
// Postcondition: returns ErrInvalidFusionState iff src is Maxed.
func (e *Engine) ResultTemplate(src catalog.ItemTemplate) (catalog.ItemTemplate, Kind, error) {
	kind := Transition(src)
	target := src.Key()
	switch kind {
	case KindMaxed:
		return catalog.ItemTemplate{}, kind, gerrors.Wrap(gerrors.CodeInvalidFusionState,
			fmt.Sprintf("%s is at max subgrade of the top tier", src.Key()), ErrInvalidFusionState)
	case KindSubGradeUpgrade:
		target.SubGrade = src.SubGrade + 1
	case KindRarityPromotion:
		next, _ := src.Rarity.Next()
		target.Rarity = next
		target.SubGrade = rarity.MinSubGrade
	}

	if e.catalog != nil {
		if t, ok := e.catalog.Template(target); ok {
			return t, kind, nil
		}
	}
	out := src
	out.Rarity = target.Rarity
	out.SubGrade = target.SubGrade
	out.ID = catalog.DeriveID(target)
	if kind == KindRarityPromotion {
		ratio := e.ratio(src.Rarity, target.Rarity)
		out.Stats = src.Stats.ScalePrimary(src.Type, ratio)
		out.Price = src.Price.Scale(ratio)
	}
	return out, kind, nil
}

func (e *Engine) ratio(from, to rarity.Rarity) float64 {
	f := e.curve.Multiplier(from)
	if f <= 0 {
		return 1
	}
	return e.curve.Multiplier(to) / f
}

// Preview projects the fusion state machine for item's group without side effects.
func (e *Engine) Preview(ctx context.Context, item catalog.ItemTemplate) (Outcome, error) {
	owned, err := e.store.Count(ctx, item.Key())
	if err != nil {
		return Outcome{}, fmt.Errorf("counting %s: %w", item.Key(), err)
	}
	out := Outcome{
		Kind:          Transition(item),
		State:         Classify(item.Rarity, item.SubGrade, owned, e.rule.RequiredCount),
		Source:        item,
		SourceStat:    e.EffectiveStat(item),
		RequiredCount: e.rule.RequiredCount,
		Owned:         owned,
		SuccessRate:   1.0,
	}
	if out.Kind == KindMaxed {
		return out, nil
	}
	result, _, err := e.ResultTemplate(item)
	if err != nil {
		return Outcome{}, err
	}
	out.Result = result
	out.ResultStat = e.EffectiveStat(result)
	return out, nil
}

// Result is the outcome of one successful fusion.
type Result struct {
	Outcome  Outcome              `json:"outcome"`
	Consumed int                  `json:"consumed"`
	Item     catalog.ItemInstance `json:"item"`
}

// TryFuse consumes count copies of item's group and adds one result item, as
// a single inventory transaction. count 0 means RequiredCount.
//
// Precondition: count == 0 or count >= RequiredCount.
// Postcondition: on success the group lost count copies and the result group
// gained one; on error the inventory is unchanged.
func (e *Engine) TryFuse(ctx context.Context, item catalog.ItemTemplate, count int) (Result, error) {
	if count == 0 {
		count = e.rule.RequiredCount
	}
	if count < e.rule.RequiredCount {
		return Result{}, gerrors.New(gerrors.CodeInvalidArgument,
			fmt.Sprintf("fusion count must be >= %d, got %d", e.rule.RequiredCount, count))
	}
	resultTmpl, kind, err := e.ResultTemplate(item)
	if err != nil {
		return Result{}, err
	}

	key := item.Key()
	var res Result
	err = e.store.WithinTx(ctx, func(ctx context.Context, s inventory.Store) error {
		owned, err := s.Count(ctx, key)
		if err != nil {
			return fmt.Errorf("counting %s: %w", key, err)
		}
		if owned < count {
			return gerrors.Wrap(gerrors.CodeInsufficientMaterials,
				fmt.Sprintf("fusing %s needs %d copies, %d owned", key, count, owned),
				ErrInsufficientMaterials)
		}
		if err := s.Remove(ctx, key, count); err != nil {
			return err
		}
		inst := catalog.NewInstance(resultTmpl)
		if err := s.Add(ctx, inst, 1); err != nil {
			return err
		}
		res = Result{
			Outcome: Outcome{
				Kind:          kind,
				State:         Classify(item.Rarity, item.SubGrade, owned, e.rule.RequiredCount),
				Source:        item,
				Result:        resultTmpl,
				SourceStat:    e.EffectiveStat(item),
				ResultStat:    e.EffectiveStat(resultTmpl),
				RequiredCount: e.rule.RequiredCount,
				Owned:         owned,
				SuccessRate:   1.0,
			},
			Consumed: count,
			Item:     inst,
		}
		return nil
	})
	if err != nil {
		if !gerrors.IsCode(err, gerrors.CodeInsufficientMaterials) {
			e.logger.Error("fusion rolled back", zap.String("source", key.String()), zap.Error(err))
		}
		return Result{}, err
	}

	e.logger.Info("fusion completed",
		zap.String("player", e.playerID),
		zap.String("source", key.String()),
		zap.String("result", resultTmpl.Key().String()),
		zap.String("kind", string(kind)),
		zap.Int("consumed", count),
		zap.Float64("result_stat", res.Outcome.ResultStat),
	)
	e.publish(event.FusionCompleted{
		PlayerID: e.playerID,
		Source:   item,
		Result:   resultTmpl,
		Outcome:  string(kind),
		Consumed: count,
		Success:  true,
	})
	return res, nil
}

// AutoFuseReport summarizes an auto-fusion sweep.
type AutoFuseReport struct {
	Attempts  int      `json:"attempts"`
	Successes int      `json:"successes"`
	Results   []Result `json:"results"`
	// Truncated is true when the sweep stopped at the iteration cap.
	Truncated bool `json:"truncated"`
}

// AutoFuse repeatedly fuses every group of typ (all types when empty) that
// holds at least RequiredCount copies. Groups are visited ascending by
// (rarity, subgrade, name); after a group is drained the scan restarts from
// the lowest group, since the fusion may have created a new fusable group. The
// sweep ends when a full scan fuses nothing or the iteration cap is reached.
//
// Postcondition: report.Attempts >= report.Successes.
func (e *Engine) AutoFuse(ctx context.Context, typ catalog.ItemType) (AutoFuseReport, error) {
	var report AutoFuseReport
	limit := e.rule.MaxAutoFuseIterations
	if limit < 1 {
		limit = ruleset.DefaultMaxAutoFuseIterations
	}

scan:
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		stacks, err := e.store.All(ctx)
		if err != nil {
			return report, fmt.Errorf("listing inventory: %w", err)
		}
		inventory.SortStacks(stacks)
		for _, st := range stacks {
			if typ != "" && st.Template.Type != typ {
				continue
			}
			state := Classify(st.Template.Rarity, st.Template.SubGrade, st.Count, e.rule.RequiredCount)
			if state != Fusable && state != Promotable {
				continue
			}
			remaining := st.Count
			for remaining >= e.rule.RequiredCount {
				if report.Successes >= limit {
					report.Truncated = true
					e.logger.Warn("auto-fusion iteration cap reached",
						zap.String("player", e.playerID),
						zap.Int("cap", limit),
					)
					break scan
				}
				report.Attempts++
				res, err := e.TryFuse(ctx, st.Template, 0)
				if errors.Is(err, ErrInsufficientMaterials) {
					break
				}
				if err != nil {
					return report, err
				}
				report.Successes++
				report.Results = append(report.Results, res)
				remaining -= res.Consumed
			}
			continue scan
		}
		break
	}

	e.logger.Info("auto-fusion completed",
		zap.String("player", e.playerID),
		zap.String("type", string(typ)),
		zap.Int("attempts", report.Attempts),
		zap.Int("successes", report.Successes),
		zap.Bool("truncated", report.Truncated),
	)
	e.publish(event.AutoFusionCompleted{
		PlayerID:  e.playerID,
		Type:      typ,
		Attempts:  report.Attempts,
		Successes: report.Successes,
	})
	return report, nil
}

func (e *Engine) publish(ev event.Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}
