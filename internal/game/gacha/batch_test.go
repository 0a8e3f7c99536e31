package gacha_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/dice"
	"github.com/cory-johannsen/gacha/internal/game/gacha"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// Ten sub-Rare pulls force the eleventh slot to sample from >= Rare.
func TestPullBatch_GuaranteedFinalSlot(t *testing.T) {
	e := newEngine(t, fullCatalog(t, catalog.Weapon), fixedSource{0.99})
	s := gacha.NewStream(scenarioStream(6))

	items, err := e.PullBatch(s, 11, rarity.Rare, true)
	require.NoError(t, err)
	require.Len(t, items, 11)
	for i, item := range items[:10] {
		assert.Less(t, item.Template.Rarity, rarity.Rare, "slot %d", i)
	}
	assert.GreaterOrEqual(t, items[10].Template.Rarity, rarity.Rare)
	// the guaranteed slot does not touch the pity counter
	assert.Equal(t, 10, s.Pity.PullsSinceGuarantee)
	assert.Equal(t, 1, s.Stats.BatchGuarantees)
	assert.Equal(t, 11, s.Stats.Total)
}

func TestPullBatch_GuaranteeDisabled(t *testing.T) {
	e := newEngine(t, fullCatalog(t, catalog.Weapon), fixedSource{0.99})
	s := gacha.NewStream(scenarioStream(6))

	items, err := e.PullBatch(s, 11, rarity.Rare, false)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, rarity.Common, item.Template.Rarity)
	}
	assert.Equal(t, 11, s.Pity.PullsSinceGuarantee)
	assert.Zero(t, s.Stats.BatchGuarantees)
}

func TestPullBatch_GuaranteeAlreadyMet(t *testing.T) {
	// roll 5 resolves Rare on every ordinary pull
	e := newEngine(t, fullCatalog(t, catalog.Weapon), fixedSource{0.05})
	s := gacha.NewStream(scenarioStream(6))

	items, err := e.PullBatch(s, 11, rarity.Rare, true)
	require.NoError(t, err)
	require.Len(t, items, 11)
	assert.Zero(t, s.Stats.BatchGuarantees)
	assert.Equal(t, 11, s.Stats.ByRarity[rarity.Rare])
}

func TestGuaranteedPull_SamplesOnlyFromRestrictedTiers(t *testing.T) {
	for _, f := range []float64{0, 0.3, 0.6, 0.9, 0.999} {
		e := newEngine(t, fullCatalog(t, catalog.Weapon), fixedSource{f})
		s := gacha.NewStream(scenarioStream(6))
		item, err := e.GuaranteedPull(s, rarity.Epic)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, item.Template.Rarity, rarity.Epic, "f=%v", f)
		assert.Zero(t, s.Pity.PullsSinceGuarantee)
	}
}

func TestGuaranteedPull_AboveTableUsesMinimumTier(t *testing.T) {
	e := newEngine(t, fullCatalog(t, catalog.Weapon), fixedSource{0.5})
	s := gacha.NewStream(scenarioStream(6))
	item, err := e.GuaranteedPull(s, rarity.Celestial)
	require.NoError(t, err)
	assert.Equal(t, rarity.Celestial, item.Template.Rarity)
}

func TestPullBatchByType_FiltersType(t *testing.T) {
	e := newEngine(t, fullCatalog(t, catalog.Weapon, catalog.Armor, catalog.Relic), dice.NewSeededSource(7))
	s := gacha.NewStream(scenarioStream(6))

	items, err := e.PullBatchByType(s, 11, catalog.Armor, rarity.Rare, true)
	require.NoError(t, err)
	require.Len(t, items, 11)
	for _, item := range items {
		assert.Equal(t, catalog.Armor, item.Template.Type)
	}

	_, err = e.PullBatchByType(s, 11, catalog.ItemType("shield"), rarity.Rare, true)
	assert.True(t, gerrors.IsCode(err, gerrors.CodeInvalidArgument))
}

func TestPullBatchByType_RejectsTypeOutsideStream(t *testing.T) {
	e := newEngine(t, fullCatalog(t, catalog.Weapon, catalog.Armor, catalog.Relic), dice.NewSeededSource(7))
	def := scenarioStream(6)
	def.ItemTypes = []catalog.ItemType{catalog.Weapon, catalog.Armor}
	s := gacha.NewStream(def)

	_, err := e.PullBatchByType(s, 11, catalog.Relic, rarity.Rare, true)
	assert.True(t, gerrors.IsCode(err, gerrors.CodeInvalidArgument))
	assert.Zero(t, s.Pity.PullsSinceGuarantee)
	assert.Zero(t, s.Stats.Total)
}

func TestPullBatch_RejectsEmptyBatch(t *testing.T) {
	e := newEngine(t, fullCatalog(t, catalog.Weapon), fixedSource{0.5})
	s := gacha.NewStream(scenarioStream(6))
	_, err := e.PullBatch(s, 0, rarity.Rare, true)
	assert.True(t, gerrors.IsCode(err, gerrors.CodeInvalidArgument))
}

func TestPullBatch_ExhaustedCatalogLeavesStreamUnchanged(t *testing.T) {
	e := newEngine(t, fullCatalog(t, catalog.Weapon), fixedSource{0.5})
	s := gacha.NewStream(scenarioStream(6))
	s.Pity.PullsSinceGuarantee = 3

	_, err := e.PullBatchByType(s, 11, catalog.Relic, rarity.Rare, true)
	require.ErrorIs(t, err, gacha.ErrCatalogExhausted)
	assert.Equal(t, 3, s.Pity.PullsSinceGuarantee)
	assert.Zero(t, s.Stats.Total)
}

// Every batch of 11 with a Rare guarantee holds at least one item >= Rare.
func TestProperty_BatchGuarantee_TenThousandBatches(t *testing.T) {
	cat := fullCatalog(t, catalog.Weapon)
	e := gacha.NewEngine(cat, dice.NewLoggedRoller(dice.NewSeededSource(2024), zap.NewNop()), zap.NewNop())
	s := gacha.NewStream(scenarioStream(6))
	for b := 0; b < 10_000; b++ {
		items, err := e.PullBatch(s, 11, rarity.Rare, true)
		require.NoError(t, err)
		found := false
		for _, item := range items {
			if item.Template.Rarity >= rarity.Rare {
				found = true
				break
			}
		}
		require.True(t, found, "batch %d had no item >= rare", b)
	}
}

func TestProperty_BatchGuaranteeAnySeed(t *testing.T) {
	cat := fullCatalog(t, catalog.Weapon)
	rapid.Check(t, func(rt *rapid.T) {
		seed := rapid.Uint64().Draw(rt, "seed")
		n := rapid.SampledFrom([]int{11, 55}).Draw(rt, "n")
		guarantee := rapid.SampledFrom([]rarity.Rarity{rarity.Uncommon, rarity.Rare, rarity.Epic, rarity.Legendary}).Draw(rt, "guarantee")
		e := gacha.NewEngine(cat, dice.NewLoggedRoller(dice.NewSeededSource(seed), zap.NewNop()), zap.NewNop())
		s := gacha.NewStream(scenarioStream(6))
		items, err := e.PullBatch(s, n, guarantee, true)
		require.NoError(rt, err)
		require.Len(rt, items, n)
		best := rarity.Common
		for _, item := range items {
			if item.Template.Rarity > best {
				best = item.Template.Rarity
			}
		}
		assert.GreaterOrEqual(rt, best, guarantee)
	})
}

func TestSimulate_BoundedByHardPity(t *testing.T) {
	def := scenarioStream(6)
	report, err := gacha.Simulate(context.Background(), def, gacha.SimOptions{Trials: 2000, Workers: 4, Seed: 99})
	require.NoError(t, err)
	assert.Equal(t, 2000, report.Trials)
	assert.LessOrEqual(t, report.PullsToFloor.Max, def.Pity.HardThreshold)
	assert.GreaterOrEqual(t, report.PullsToFloor.Mean, 1.0)
	assert.InDelta(t, 0.15, report.DeclaredFloorRate, 1e-9)
	// geometric with p=0.15 has mean 6.67
	assert.InDelta(t, 6.67, report.PullsToFloor.Mean, 1.0)
	assert.InDelta(t, 1/report.PullsToFloor.Mean, report.EffectiveFloorRate, 1e-9)
	assert.GreaterOrEqual(t, report.HardPityRate, 0.0)
	assert.LessOrEqual(t, report.HardPityRate, 1.0)

	var sum float64
	for _, f := range report.RarityFrequency {
		sum += f
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSimulate_ReproducibleWithSeed(t *testing.T) {
	def := scenarioStream(6)
	opts := gacha.SimOptions{Trials: 500, Workers: 3, Seed: 11}
	a, err := gacha.Simulate(context.Background(), def, opts)
	require.NoError(t, err)
	b, err := gacha.Simulate(context.Background(), def, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSimulate_RejectsZeroTrials(t *testing.T) {
	_, err := gacha.Simulate(context.Background(), scenarioStream(6), gacha.SimOptions{})
	assert.True(t, gerrors.IsCode(err, gerrors.CodeInvalidArgument))
}

func TestSimulate_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gacha.Simulate(ctx, scenarioStream(6), gacha.SimOptions{Trials: 100})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	s := gacha.Summarize([]int{4, 1, 3, 2})
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.InDelta(t, 1.25, s.Var, 1e-9)
	assert.InDelta(t, 2.5, s.P50, 1e-9)
	assert.Equal(t, 4, s.Max)
	assert.Equal(t, gacha.Summary{}, gacha.Summarize(nil))
}
