package testutil

import (
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// Template returns a valid weapon template with a derived ID.
func Template(name string, r rarity.Rarity, g rarity.SubGrade) catalog.ItemTemplate {
	k := catalog.Key{Name: name, Type: catalog.Weapon, Rarity: r, SubGrade: g}
	return catalog.ItemTemplate{
		ID:       catalog.DeriveID(k),
		Name:     name,
		Type:     catalog.Weapon,
		Rarity:   r,
		SubGrade: g,
		Stats:    catalog.Stats{Attack: 10 * float64(r+1)},
		Price:    catalog.Price{Buy: 100, Sell: 25},
	}
}
