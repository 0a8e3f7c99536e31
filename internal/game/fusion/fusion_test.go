package fusion_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/event"
	"github.com/cory-johannsen/gacha/internal/game/fusion"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
)

func sword(r rarity.Rarity, g rarity.SubGrade) catalog.ItemTemplate {
	k := catalog.Key{Name: "Sword", Type: catalog.Weapon, Rarity: r, SubGrade: g}
	return catalog.ItemTemplate{
		ID:       catalog.DeriveID(k),
		Name:     "Sword",
		Type:     catalog.Weapon,
		Rarity:   r,
		SubGrade: g,
		Stats:    catalog.Stats{Attack: 10},
		Price:    catalog.Price{Buy: 100, Sell: 25},
	}
}

func rule() ruleset.FusionRule {
	return ruleset.FusionRule{
		RequiredCount:         5,
		SubGradeBonus:         0.1,
		StatMultipliers:       rarity.DefaultMultipliers(),
		MaxAutoFuseIterations: 10_000,
	}
}

type tb interface {
	require.TestingT
	Helper()
}

func fill(t tb, store inventory.Store, tmpl catalog.ItemTemplate, n int) {
	t.Helper()
	require.NoError(t, store.Add(context.Background(), catalog.NewInstance(tmpl), n))
}

func count(t tb, store inventory.Store, tmpl catalog.ItemTemplate) int {
	t.Helper()
	n, err := store.Count(context.Background(), tmpl.Key())
	require.NoError(t, err)
	return n
}

type fixture struct {
	engine *fusion.Engine
	store  *inventory.Memory
	events *event.Recorder
}

func newFixture(t testing.TB, cat fusion.Catalog) fixture {
	store := inventory.NewMemory()
	rec := &event.Recorder{}
	e := fusion.NewEngine(fusion.Config{
		Rule:      rule(),
		Catalog:   cat,
		Store:     store,
		Publisher: rec,
		Logger:    zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)),
		PlayerID:  "p1",
	})
	return fixture{engine: e, store: store, events: rec}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		r     rarity.Rarity
		g     rarity.SubGrade
		owned int
		want  fusion.State
	}{
		{"insufficient", rarity.Common, 1, 4, fusion.Insufficient},
		{"fusable", rarity.Common, 1, 5, fusion.Fusable},
		{"promotable", rarity.Rare, 5, 5, fusion.Promotable},
		{"promotable needs count", rarity.Rare, 5, 2, fusion.Insufficient},
		{"maxed regardless of count", rarity.Celestial, 5, 0, fusion.Maxed},
		{"maxed with plenty", rarity.Celestial, 5, 50, fusion.Maxed},
		{"top tier below max subgrade", rarity.Celestial, 4, 5, fusion.Fusable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fusion.Classify(tc.r, tc.g, tc.owned, 5))
		})
	}
	assert.Equal(t, "promotable", fusion.Promotable.String())
	assert.Equal(t, "unknown", fusion.State(42).String())
}

func TestTransition(t *testing.T) {
	assert.Equal(t, fusion.KindSubGradeUpgrade, fusion.Transition(sword(rarity.Common, 3)))
	assert.Equal(t, fusion.KindRarityPromotion, fusion.Transition(sword(rarity.Epic, 5)))
	assert.Equal(t, fusion.KindMaxed, fusion.Transition(sword(rarity.Celestial, 5)))
}

// 12 Common sg5 swords promote once, leaving 7 plus one Uncommon sg1.
func TestTryFuse_PromotionLeavesRemainder(t *testing.T) {
	f := newFixture(t, nil)
	src := sword(rarity.Common, 5)
	fill(t, f.store, src, 12)

	res, err := f.engine.TryFuse(context.Background(), src, 0)
	require.NoError(t, err)

	assert.Equal(t, fusion.KindRarityPromotion, res.Outcome.Kind)
	assert.Equal(t, fusion.Promotable, res.Outcome.State)
	assert.Equal(t, 5, res.Consumed)
	assert.Equal(t, rarity.Uncommon, res.Item.Template.Rarity)
	assert.Equal(t, rarity.SubGrade(1), res.Item.Template.SubGrade)
	assert.NotEmpty(t, res.Item.InstanceID)

	assert.Equal(t, 7, count(t, f.store, src))
	assert.Equal(t, 1, count(t, f.store, sword(rarity.Uncommon, 1)))

	// 1.5 / 1.0 rescales attack and price
	assert.InDelta(t, 15.0, res.Item.Template.Stats.Attack, 1e-9)
	assert.Equal(t, catalog.Price{Buy: 150, Sell: 38}, res.Item.Template.Price)

	evs := f.events.Events()
	require.Len(t, evs, 1)
	fc, ok := evs[0].(event.FusionCompleted)
	require.True(t, ok)
	assert.Equal(t, "p1", fc.PlayerID)
	assert.Equal(t, string(fusion.KindRarityPromotion), fc.Outcome)
	assert.True(t, fc.Success)
}

func TestTryFuse_SubGradeUpgradeKeepsStats(t *testing.T) {
	f := newFixture(t, nil)
	src := sword(rarity.Rare, 2)
	fill(t, f.store, src, 5)

	res, err := f.engine.TryFuse(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, fusion.KindSubGradeUpgrade, res.Outcome.Kind)
	assert.Equal(t, rarity.Rare, res.Item.Template.Rarity)
	assert.Equal(t, rarity.SubGrade(3), res.Item.Template.SubGrade)
	assert.Equal(t, src.Stats, res.Item.Template.Stats)
	assert.Equal(t, src.Price, res.Item.Template.Price)
	assert.Zero(t, count(t, f.store, src))
	// base attack 10 with a 0.1 bonus per subgrade above 1
	assert.InDelta(t, 11.0, res.Outcome.SourceStat, 1e-9)
	assert.InDelta(t, 12.0, res.Outcome.ResultStat, 1e-9)
	assert.InDelta(t, 12.0, f.engine.EffectiveStat(res.Item.Template), 1e-9)
}

func TestTryFuse_UsesCatalogTemplateWhenRegistered(t *testing.T) {
	cat := catalog.New()
	registered := sword(rarity.Uncommon, 1)
	registered.ID = "sword_uncommon_custom"
	registered.Stats.Attack = 99
	require.NoError(t, cat.Register(registered))

	f := newFixture(t, cat)
	src := sword(rarity.Common, 5)
	fill(t, f.store, src, 5)

	res, err := f.engine.TryFuse(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, registered, res.Item.Template)
}

func TestTryFuse_Insufficient(t *testing.T) {
	f := newFixture(t, nil)
	src := sword(rarity.Common, 1)
	fill(t, f.store, src, 4)

	_, err := f.engine.TryFuse(context.Background(), src, 0)
	require.ErrorIs(t, err, fusion.ErrInsufficientMaterials)
	assert.True(t, gerrors.IsCode(err, gerrors.CodeInsufficientMaterials))
	assert.Equal(t, 4, count(t, f.store, src))
	assert.Empty(t, f.events.Events())
}

func TestTryFuse_MaxedRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t, nil)
	src := sword(rarity.Celestial, 5)
	fill(t, f.store, src, 10)

	_, err := f.engine.TryFuse(context.Background(), src, 0)
	require.ErrorIs(t, err, fusion.ErrInvalidFusionState)
	assert.Equal(t, 10, count(t, f.store, src))
}

func TestTryFuse_ExplicitCount(t *testing.T) {
	f := newFixture(t, nil)
	src := sword(rarity.Common, 1)
	fill(t, f.store, src, 8)

	_, err := f.engine.TryFuse(context.Background(), src, 3)
	assert.True(t, gerrors.IsCode(err, gerrors.CodeInvalidArgument))

	res, err := f.engine.TryFuse(context.Background(), src, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Consumed)
	assert.Equal(t, 1, count(t, f.store, src))
}

type failingAdd struct {
	*inventory.Memory
}

func (s failingAdd) WithinTx(ctx context.Context, fn func(ctx context.Context, s inventory.Store) error) error {
	return s.Memory.WithinTx(ctx, func(ctx context.Context, tx inventory.Store) error {
		return fn(ctx, addFails{tx})
	})
}

type addFails struct {
	inventory.Store
}

func (addFails) Add(context.Context, catalog.ItemInstance, int) error {
	return errors.New("disk full")
}

func TestTryFuse_RollsBackWhenAddFails(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	mem := inventory.NewMemory()
	src := sword(rarity.Common, 1)
	fill(t, mem, src, 5)
	e := fusion.NewEngine(fusion.Config{
		Rule:   rule(),
		Store:  failingAdd{mem},
		Logger: zap.New(core),
	})

	_, err := e.TryFuse(context.Background(), src, 0)
	require.Error(t, err)
	assert.Equal(t, 5, count(t, mem, src))
	assert.Equal(t, 1, logs.FilterMessage("fusion rolled back").Len())
}

func TestPreview_NoSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	src := sword(rarity.Epic, 5)
	fill(t, f.store, src, 6)

	out, err := f.engine.Preview(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, fusion.Promotable, out.State)
	assert.True(t, out.CanFuse())
	assert.Equal(t, 6, out.Owned)
	assert.Equal(t, 5, out.RequiredCount)
	assert.Equal(t, 1.0, out.SuccessRate)
	assert.Equal(t, rarity.Legendary, out.Result.Rarity)
	assert.InDelta(t, 14.0, out.SourceStat, 1e-9)
	assert.InDelta(t, 14.375, out.ResultStat, 0.01)
	assert.Equal(t, 6, count(t, f.store, src))
	assert.Empty(t, f.events.Events())

	maxed, err := f.engine.Preview(context.Background(), sword(rarity.Celestial, 5))
	require.NoError(t, err)
	assert.Equal(t, fusion.Maxed, maxed.State)
	assert.False(t, maxed.CanFuse())
	assert.InDelta(t, 14.0, maxed.SourceStat, 1e-9)
	assert.Zero(t, maxed.ResultStat)
}

func TestAutoFuse_CascadesToFixedPoint(t *testing.T) {
	f := newFixture(t, nil)
	// 25 sg1 -> 5 sg2 -> 1 sg3
	fill(t, f.store, sword(rarity.Common, 1), 25)

	report, err := f.engine.AutoFuse(context.Background(), catalog.Weapon)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Successes)
	assert.Equal(t, report.Successes, report.Attempts)
	assert.False(t, report.Truncated)
	assert.Zero(t, count(t, f.store, sword(rarity.Common, 1)))
	assert.Zero(t, count(t, f.store, sword(rarity.Common, 2)))
	assert.Equal(t, 1, count(t, f.store, sword(rarity.Common, 3)))

	evs := f.events.Events()
	last, ok := evs[len(evs)-1].(event.AutoFusionCompleted)
	require.True(t, ok)
	assert.Equal(t, 6, last.Successes)
}

func TestAutoFuse_FiltersByType(t *testing.T) {
	f := newFixture(t, nil)
	armor := catalog.ItemTemplate{ID: "plate", Name: "Plate", Type: catalog.Armor, Rarity: rarity.Common, SubGrade: 1, Stats: catalog.Stats{HP: 50}}
	fill(t, f.store, armor, 5)
	fill(t, f.store, sword(rarity.Common, 1), 5)

	_, err := f.engine.AutoFuse(context.Background(), catalog.Weapon)
	require.NoError(t, err)
	assert.Equal(t, 5, count(t, f.store, armor))
	assert.Zero(t, count(t, f.store, sword(rarity.Common, 1)))
}

func TestAutoFuse_StopsAtIterationCap(t *testing.T) {
	store := inventory.NewMemory()
	r := rule()
	r.MaxAutoFuseIterations = 2
	core, logs := observer.New(zapcore.WarnLevel)
	e := fusion.NewEngine(fusion.Config{Rule: r, Store: store, Logger: zap.New(core)})
	fill(t, store, sword(rarity.Common, 1), 50)

	report, err := e.AutoFuse(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, report.Truncated)
	assert.Equal(t, 2, report.Successes)
	assert.Equal(t, 40, count(t, store, sword(rarity.Common, 1)))
	assert.Equal(t, 1, logs.FilterMessage("auto-fusion iteration cap reached").Len())
}

func TestAutoFuse_LeavesMaxedAlone(t *testing.T) {
	f := newFixture(t, nil)
	fill(t, f.store, sword(rarity.Celestial, 5), 12)
	report, err := f.engine.AutoFuse(context.Background(), catalog.Weapon)
	require.NoError(t, err)
	assert.Zero(t, report.Attempts)
	assert.Equal(t, 12, count(t, f.store, sword(rarity.Celestial, 5)))
}

func TestCurveFallsBackToRuleMultipliers(t *testing.T) {
	f := newFixture(t, nil)
	tmpl, kind, err := f.engine.ResultTemplate(sword(rarity.Rare, 5))
	require.NoError(t, err)
	assert.Equal(t, fusion.KindRarityPromotion, kind)
	// 3.2 / 2.2 * 10
	assert.InDelta(t, 14.55, tmpl.Stats.Attack, 1e-9)
}

type flatCurve struct{}

func (flatCurve) Multiplier(rarity.Rarity) float64 { return 0 }

func TestNonPositiveCurveKeepsStats(t *testing.T) {
	e := fusion.NewEngine(fusion.Config{Rule: rule(), Curve: flatCurve{}, Store: inventory.NewMemory(), Logger: zap.NewNop()})
	tmpl, _, err := e.ResultTemplate(sword(rarity.Common, 5))
	require.NoError(t, err)
	assert.Equal(t, 10.0, tmpl.Stats.Attack)
}

func genTemplate(rt *rapid.T) catalog.ItemTemplate {
	r := rarity.Rarity(rapid.IntRange(int(rarity.Common), int(rarity.Celestial)).Draw(rt, "rarity"))
	g := rarity.SubGrade(rapid.IntRange(int(rarity.MinSubGrade), int(rarity.MaxSubGrade)).Draw(rt, "subgrade"))
	return sword(r, g)
}

// A successful fusion removes exactly the consumed copies and adds one result.
func TestProperty_FusionConservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, nil)
		src := genTemplate(rt)
		owned := rapid.IntRange(0, 30).Draw(rt, "owned")
		if owned > 0 {
			fill(rt, f.store, src, owned)
		}
		_, err := f.engine.TryFuse(context.Background(), src, 0)
		switch {
		case fusion.Transition(src) == fusion.KindMaxed:
			require.ErrorIs(rt, err, fusion.ErrInvalidFusionState)
			assert.Equal(rt, owned, count(rt, f.store, src))
		case owned < 5:
			require.ErrorIs(rt, err, fusion.ErrInsufficientMaterials)
			assert.Equal(rt, owned, count(rt, f.store, src))
		default:
			require.NoError(rt, err)
			assert.Equal(rt, owned-5, count(rt, f.store, src))
			stacks, err := f.store.All(context.Background())
			require.NoError(rt, err)
			total := 0
			for _, s := range stacks {
				total += s.Count
			}
			assert.Equal(rt, owned-4, total)
		}
	})
}

// Fusion results are strictly higher than their source by (rarity, subgrade).
func TestProperty_FusionMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	rapid.Check(t, func(rt *rapid.T) {
		src := genTemplate(rt)
		res, kind, err := f.engine.ResultTemplate(src)
		if kind == fusion.KindMaxed {
			require.Error(rt, err)
			return
		}
		require.NoError(rt, err)
		assert.True(rt, src.Key().Less(res.Key()), "%s !< %s", src.Key(), res.Key())
		assert.GreaterOrEqual(rt, res.Stats.Attack, src.Stats.Attack)
		if kind == fusion.KindRarityPromotion {
			assert.Equal(rt, rarity.SubGrade(1), res.SubGrade)
			assert.Equal(rt, src.Rarity+1, res.Rarity)
		} else {
			assert.Equal(rt, src.Rarity, res.Rarity)
			assert.Equal(rt, src.SubGrade+1, res.SubGrade)
		}
	})
}

// Auto-fusion terminates with no Fusable or Promotable group of the type left.
func TestProperty_AutoFuseFixedPoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, nil)
		groups := rapid.IntRange(1, 4).Draw(rt, "groups")
		for i := 0; i < groups; i++ {
			src := genTemplate(rt)
			fill(rt, f.store, src, rapid.IntRange(1, 60).Draw(rt, "n"))
		}
		report, err := f.engine.AutoFuse(context.Background(), catalog.Weapon)
		require.NoError(rt, err)
		require.False(rt, report.Truncated)
		assert.GreaterOrEqual(rt, report.Attempts, report.Successes)

		stacks, err := f.store.All(context.Background())
		require.NoError(rt, err)
		for _, s := range stacks {
			state := fusion.Classify(s.Template.Rarity, s.Template.SubGrade, s.Count, 5)
			assert.NotEqual(rt, fusion.Fusable, state, "%s", s.Key())
			assert.NotEqual(rt, fusion.Promotable, state, "%s", s.Key())
		}
	})
}
