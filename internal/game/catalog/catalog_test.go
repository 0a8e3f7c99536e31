package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
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

func TestItemType_StatNames(t *testing.T) {
	assert.Equal(t, "attack", catalog.Weapon.StatName())
	assert.Equal(t, "hp", catalog.Armor.StatName())
	assert.Equal(t, "regen", catalog.Relic.StatName())
	_, err := catalog.ParseItemType("shield")
	assert.Error(t, err)
	typ, err := catalog.ParseItemType("RELIC")
	require.NoError(t, err)
	assert.Equal(t, catalog.Relic, typ)
}

func TestStats_ScalePrimary_OnlyTouchesTypeField(t *testing.T) {
	s := catalog.Stats{Attack: 10, HP: 50, Regen: 2}
	scaled := s.ScalePrimary(catalog.Weapon, 1.5)
	assert.InDelta(t, 15.0, scaled.Attack, 1e-9)
	assert.InDelta(t, 50.0, scaled.HP, 1e-9)
	assert.InDelta(t, 2.0, scaled.Regen, 1e-9)

	scaled = s.ScalePrimary(catalog.Relic, 1.0/3.0)
	assert.InDelta(t, 0.67, scaled.Regen, 1e-9)
}

func TestPrice_Scale_RoundsHalfUp(t *testing.T) {
	p := catalog.Price{Buy: 5, Sell: 1}
	scaled := p.Scale(1.5)
	assert.Equal(t, int64(8), scaled.Buy)
	assert.Equal(t, int64(2), scaled.Sell)
}

func TestKey_StringParseRoundTrip(t *testing.T) {
	k := catalog.Key{Name: "Starforged Edge", Type: catalog.Weapon, Rarity: rarity.Celestial, SubGrade: 4}
	parsed, err := catalog.ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	for _, bad := range []string{"", "weapon/Sword/common", "shield/Sword/common/1", "weapon/Sword/common/6", "weapon//common/1"} {
		_, err := catalog.ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestKey_Less_OrdersByRaritySubGradeName(t *testing.T) {
	a := catalog.Key{Name: "Z", Rarity: rarity.Common, SubGrade: 5}
	b := catalog.Key{Name: "A", Rarity: rarity.Uncommon, SubGrade: 1}
	c := catalog.Key{Name: "A", Rarity: rarity.Uncommon, SubGrade: 2}
	d := catalog.Key{Name: "B", Rarity: rarity.Uncommon, SubGrade: 2}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, c.Less(d))
	assert.False(t, d.Less(a))
}

func TestItemTemplate_EffectiveStat(t *testing.T) {
	tmpl := sword(rarity.Common, 5)
	assert.InDelta(t, 14.0, tmpl.EffectiveStat(0.1), 1e-9)
	tmpl.SubGrade = 1
	assert.InDelta(t, 10.0, tmpl.EffectiveStat(0.1), 1e-9)
}

func TestNewInstance_IndependentIdentity(t *testing.T) {
	tmpl := sword(rarity.Rare, 2)
	a := catalog.NewInstance(tmpl)
	b := catalog.NewInstance(tmpl)
	assert.NotEqual(t, a.InstanceID, b.InstanceID)
	assert.Equal(t, a.Key(), b.Key())

	a.Template.Stats.Attack = 999
	assert.InDelta(t, 10.0, b.Template.Stats.Attack, 1e-9)
	assert.InDelta(t, 10.0, tmpl.Stats.Attack, 1e-9)
}

func TestCatalog_RegisterAndFind(t *testing.T) {
	c := catalog.New()
	require.NoError(t, c.Register(sword(rarity.Common, 1)))
	require.NoError(t, c.Register(sword(rarity.Common, 5)))
	require.NoError(t, c.Register(sword(rarity.Rare, 1)))

	assert.Equal(t, 3, c.Len())
	assert.Len(t, c.Find(catalog.Query{Rarity: rarity.Common}), 2)
	assert.Len(t, c.Find(catalog.Query{Rarity: rarity.Common, SubGrade: 5}), 1)
	assert.Empty(t, c.Find(catalog.Query{Rarity: rarity.Common, Types: []catalog.ItemType{catalog.Armor}}))
	assert.Len(t, c.Find(catalog.Query{Rarity: rarity.Common, Types: []catalog.ItemType{catalog.Armor, catalog.Weapon}}), 2)

	got, ok := c.Template(sword(rarity.Rare, 1).Key())
	require.True(t, ok)
	assert.Equal(t, sword(rarity.Rare, 1), got)

	_, ok = c.ByID("missing")
	assert.False(t, ok)
}

func TestCatalog_Register_RejectsDuplicates(t *testing.T) {
	c := catalog.New()
	require.NoError(t, c.Register(sword(rarity.Common, 1)))
	assert.Error(t, c.Register(sword(rarity.Common, 1)))

	dupKey := sword(rarity.Common, 1)
	dupKey.ID = "other"
	assert.Error(t, c.Register(dupKey))

	invalid := sword(rarity.Common, 1)
	invalid.SubGrade = 0
	invalid.ID = "x"
	assert.Error(t, c.Register(invalid))
}

func TestLoadTemplates_DefaultsIDAndSubGrade(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.yaml"), []byte(`
- name: Rusty Sword
  type: weapon
  rarity: common
  stats: {attack: 3}
  price: {buy: 10, sell: 2}
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("skip"), 0644))

	templates, err := catalog.LoadTemplates(dir)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, rarity.MinSubGrade, templates[0].SubGrade)
	assert.Equal(t, "weapon_rusty_sword_common_1", templates[0].ID)
}

func TestLoadTemplates_InvalidTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("- name: X\n  type: shield\n  rarity: common\n"), 0644))
	_, err := catalog.LoadTemplates(dir)
	assert.Error(t, err)
}

func TestLoad_ShippedContent(t *testing.T) {
	c, err := catalog.Load("../../../content/items")
	require.NoError(t, err)
	for _, r := range rarity.All() {
		for _, typ := range []catalog.ItemType{catalog.Weapon, catalog.Armor, catalog.Relic} {
			assert.NotEmpty(t, c.Find(catalog.Query{Rarity: r, Types: []catalog.ItemType{typ}}), "%s %s", r, typ)
		}
	}
}

func TestProperty_ScaleRatioOneIsIdentity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := catalog.Price{
			Buy:  rapid.Int64Range(0, 1_000_000).Draw(rt, "buy"),
			Sell: rapid.Int64Range(0, 1_000_000).Draw(rt, "sell"),
		}
		assert.Equal(rt, p, p.Scale(1.0))
	})
}

func TestProperty_KeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := catalog.Key{
			Name:     rapid.StringMatching(`[A-Za-z][A-Za-z ]{0,15}`).Draw(rt, "name"),
			Type:     rapid.SampledFrom([]catalog.ItemType{catalog.Weapon, catalog.Armor, catalog.Relic}).Draw(rt, "type"),
			Rarity:   rapid.SampledFrom(rarity.All()).Draw(rt, "rarity"),
			SubGrade: rarity.SubGrade(rapid.IntRange(1, 5).Draw(rt, "subgrade")),
		}
		parsed, err := catalog.ParseKey(k.String())
		require.NoError(rt, err)
		assert.Equal(rt, k, parsed)
	})
}
