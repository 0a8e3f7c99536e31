package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// ItemType is the category of an item. Each type has one primary stat.
type ItemType string

// ItemType constants.
const (
	Weapon ItemType = "weapon"
	Armor  ItemType = "armor"
	Relic  ItemType = "relic"
)

var validTypes = map[ItemType]string{
	Weapon: "attack",
	Armor:  "hp",
	Relic:  "regen",
}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// StatName returns the name of the type's primary stat, or "" for unknown types.
func (t ItemType) StatName() string {
	return validTypes[t]
}

// ParseItemType converts a case-insensitive name into an ItemType.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return t, nil
}

// Stats holds the base stat fields of an item.
type Stats struct {
	Attack float64 `yaml:"attack,omitempty" json:"attack,omitempty"`
	HP     float64 `yaml:"hp,omitempty" json:"hp,omitempty"`
	Regen  float64 `yaml:"regen,omitempty" json:"regen,omitempty"`
}

// Primary returns the stat field that t uses.
func (s Stats) Primary(t ItemType) float64 {
	switch t {
	case Weapon:
		return s.Attack
	case Armor:
		return s.HP
	case Relic:
		return s.Regen
	}
	return 0
}

// ScalePrimary returns a copy of s with t's primary stat multiplied by ratio
// and rounded half-up to two decimal places. Other fields are unchanged.
func (s Stats) ScalePrimary(t ItemType, ratio float64) Stats {
	scale := func(v float64) float64 {
		return decimal.NewFromFloat(v).Mul(decimal.NewFromFloat(ratio)).Round(2).InexactFloat64()
	}
	switch t {
	case Weapon:
		s.Attack = scale(s.Attack)
	case Armor:
		s.HP = scale(s.HP)
	case Relic:
		s.Regen = scale(s.Regen)
	}
	return s
}

// Price holds the purchase and sale values of an item in whole currency units.
type Price struct {
	Buy  int64 `yaml:"buy" json:"buy"`
	Sell int64 `yaml:"sell" json:"sell"`
}

// Scale returns p with both values multiplied by ratio, rounded half-up to
// whole units.
func (p Price) Scale(ratio float64) Price {
	r := decimal.NewFromFloat(ratio)
	return Price{
		Buy:  decimal.NewFromInt(p.Buy).Mul(r).Round(0).IntPart(),
		Sell: decimal.NewFromInt(p.Sell).Mul(r).Round(0).IntPart(),
	}
}

// Key identifies a template-equal group: items with the same key are
// interchangeable for fusion.
type Key struct {
	Name     string          `json:"name"`
	Type     ItemType        `json:"type"`
	Rarity   rarity.Rarity   `json:"rarity"`
	SubGrade rarity.SubGrade `json:"subgrade"`
}

// String renders k as "type/name/rarity/subgrade".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.Type, k.Name, k.Rarity, int(k.SubGrade))
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("malformed item key %q", s)
	}
	t, err := ParseItemType(parts[0])
	if err != nil {
		return Key{}, err
	}
	r, err := rarity.Parse(parts[2])
	if err != nil {
		return Key{}, err
	}
	g, err := strconv.Atoi(parts[3])
	if err != nil || !rarity.SubGrade(g).Valid() {
		return Key{}, fmt.Errorf("malformed subgrade in item key %q", s)
	}
	if parts[1] == "" {
		return Key{}, fmt.Errorf("empty name in item key %q", s)
	}
	return Key{Name: parts[1], Type: t, Rarity: r, SubGrade: rarity.SubGrade(g)}, nil
}

// Less orders keys ascending by (rarity, subgrade, name, type).
func (k Key) Less(o Key) bool {
	if k.Rarity != o.Rarity {
		return k.Rarity < o.Rarity
	}
	if k.SubGrade != o.SubGrade {
		return k.SubGrade < o.SubGrade
	}
	if k.Name != o.Name {
		return k.Name < o.Name
	}
	return k.Type < o.Type
}

// DeriveID returns the deterministic template ID for k.
func DeriveID(k Key) string {
	slug := strings.ToLower(strings.Join(strings.Fields(k.Name), "_"))
	return fmt.Sprintf("%s_%s_%s_%d", k.Type, slug, k.Rarity, int(k.SubGrade))
}

// ItemTemplate is an immutable catalog entry.
type ItemTemplate struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Type        ItemType        `yaml:"type" json:"type"`
	Rarity      rarity.Rarity   `yaml:"rarity" json:"rarity"`
	SubGrade    rarity.SubGrade `yaml:"subgrade" json:"subgrade"`
	Stats       Stats           `yaml:"stats" json:"stats"`
	Price       Price           `yaml:"price" json:"price"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
}

// Key returns the template-equality key of t.
func (t ItemTemplate) Key() Key {
	return Key{Name: t.Name, Type: t.Type, Rarity: t.Rarity, SubGrade: t.SubGrade}
}

// EffectiveStat returns the primary stat with the subgrade bonus applied,
// base × (1 + perGrade × (subgrade − 1)), rounded half-up to two places.
func (t ItemTemplate) EffectiveStat(perGrade float64) float64 {
	return decimal.NewFromFloat(t.Stats.Primary(t.Type)).
		Mul(decimal.NewFromFloat(t.SubGrade.Bonus(perGrade))).
		Round(2).InexactFloat64()
}

// Validate checks that the template satisfies its invariants.
//
// Postcondition: returns nil iff all fields are valid.
func (t ItemTemplate) Validate() error {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("ID must not be empty"))
	}
	if t.Name == "" {
		errs = append(errs, errors.New("Name must not be empty"))
	}
	if strings.Contains(t.Name, "/") {
		errs = append(errs, errors.New("Name must not contain '/'"))
	}
	if !t.Type.Valid() {
		errs = append(errs, fmt.Errorf("Type must be one of weapon, armor, relic; got %q", t.Type))
	}
	if !t.Rarity.Valid() {
		errs = append(errs, fmt.Errorf("Rarity is invalid: %d", int(t.Rarity)))
	}
	if !t.SubGrade.Valid() {
		errs = append(errs, fmt.Errorf("SubGrade must be in [%d,%d]; got %d", rarity.MinSubGrade, rarity.MaxSubGrade, int(t.SubGrade)))
	}
	if t.Stats.Primary(t.Type) < 0 {
		errs = append(errs, errors.New("primary stat must be >= 0"))
	}
	if t.Price.Buy < 0 || t.Price.Sell < 0 {
		errs = append(errs, errors.New("Price values must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("template %q validation failed: %v", t.ID, errs)
	}
	return nil
}

// ItemInstance is an owned copy of a template with its own identity.
type ItemInstance struct {
	InstanceID string       `json:"instance_id"`
	Template   ItemTemplate `json:"template"`
}

// NewInstance materializes t into a new instance with a fresh UUID.
//
// Postcondition: the returned instance holds a value copy of t.
func NewInstance(t ItemTemplate) ItemInstance {
	return ItemInstance{InstanceID: uuid.NewString(), Template: t}
}

// Key returns the template-equality key of the instance.
func (i ItemInstance) Key() Key {
	return i.Template.Key()
}
