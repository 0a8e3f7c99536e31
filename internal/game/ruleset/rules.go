package ruleset

import (
	"fmt"
	"sort"
	"strings"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// Default fusion tuning applied when the ruleset omits a value.
const (
	DefaultRequiredCount         = 5
	DefaultSubGradeBonus         = 0.10
	DefaultMaxAutoFuseIterations = 10_000
)

// PityConfig holds the pity thresholds of one pull stream.
type PityConfig struct {
	// HardThreshold is the pull count at which Floor is forced.
	HardThreshold int `yaml:"hard_threshold"`
	// SoftStart is the pull count after which every further pull adds
	// SoftIncrement percent to each tier >= Floor.
	SoftStart     int           `yaml:"soft_start"`
	SoftIncrement float64       `yaml:"soft_increment"`
	Floor         rarity.Rarity `yaml:"floor"`
}

// Validate checks the pity thresholds.
//
// Postcondition: returns nil iff HardThreshold >= 1, 0 <= SoftStart <= HardThreshold,
// SoftIncrement >= 0 and Floor is a valid tier.
func (p PityConfig) Validate() error {
	var errs []string
	if p.HardThreshold < 1 {
		errs = append(errs, fmt.Sprintf("pity.hard_threshold must be >= 1, got %d", p.HardThreshold))
	}
	if p.SoftStart < 0 || p.SoftStart > p.HardThreshold {
		errs = append(errs, fmt.Sprintf("pity.soft_start must satisfy 0 <= soft_start <= hard_threshold, got %d", p.SoftStart))
	}
	if p.SoftIncrement < 0 {
		errs = append(errs, fmt.Sprintf("pity.soft_increment must be >= 0, got %g", p.SoftIncrement))
	}
	if !p.Floor.Valid() {
		errs = append(errs, "pity.floor must be a valid rarity")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// StreamDef declares one independent pull stream (e.g. "equipment", "relic").
type StreamDef struct {
	Name string `yaml:"-"`
	// ItemTypes restricts materialization to the listed catalog types; empty means any.
	ItemTypes []catalog.ItemType `yaml:"item_types"`
	Pity      PityConfig         `yaml:"pity"`
	Rates     RateTable          `yaml:"rates"`
}

// Offers reports whether the stream may materialize items of type t.
func (s StreamDef) Offers(t catalog.ItemType) bool {
	if len(s.ItemTypes) == 0 {
		return true
	}
	for _, typ := range s.ItemTypes {
		if typ == t {
			return true
		}
	}
	return false
}

func (s StreamDef) validateTypes() []string {
	var errs []string
	seen := make(map[catalog.ItemType]bool, len(s.ItemTypes))
	for _, t := range s.ItemTypes {
		if !t.Valid() {
			errs = append(errs, fmt.Sprintf("unknown item type %q", t))
		}
		if seen[t] {
			errs = append(errs, fmt.Sprintf("duplicate item type %q", t))
		}
		seen[t] = true
	}
	return errs
}

// BatchRule declares the guarantee applied to a multi-pull of Size.
type BatchRule struct {
	Size      int           `yaml:"size"`
	Guarantee rarity.Rarity `yaml:"guarantee"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
}

// GuaranteeEnabled reports whether the batch guarantee applies.
func (b BatchRule) GuaranteeEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// FusionRule tunes the fusion engine.
type FusionRule struct {
	RequiredCount         int                `yaml:"required_count"`
	SubGradeBonus         float64            `yaml:"subgrade_bonus"`
	StatMultipliers       rarity.Multipliers `yaml:"stat_multipliers"`
	MaxAutoFuseIterations int                `yaml:"max_auto_fuse_iterations"`
}

// Ruleset is the complete balance configuration, loaded once at startup.
type Ruleset struct {
	Streams map[string]StreamDef `yaml:"streams"`
	Batches []BatchRule          `yaml:"batches"`
	Fusion  FusionRule           `yaml:"fusion"`
}

// Stream returns the named stream definition.
func (r *Ruleset) Stream(name string) (StreamDef, bool) {
	s, ok := r.Streams[name]
	return s, ok
}

// StreamNames returns stream names in lexical order.
func (r *Ruleset) StreamNames() []string {
	names := make([]string, 0, len(r.Streams))
	for n := range r.Streams {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Batch returns the rule for the given batch size.
func (r *Ruleset) Batch(size int) (BatchRule, bool) {
	for _, b := range r.Batches {
		if b.Size == size {
			return b, true
		}
	}
	return BatchRule{}, false
}

// applyDefaults fills omitted tuning values and names each stream after its key.
func (r *Ruleset) applyDefaults() {
	if r.Fusion.RequiredCount == 0 {
		r.Fusion.RequiredCount = DefaultRequiredCount
	}
	if r.Fusion.SubGradeBonus == 0 {
		r.Fusion.SubGradeBonus = DefaultSubGradeBonus
	}
	if r.Fusion.MaxAutoFuseIterations == 0 {
		r.Fusion.MaxAutoFuseIterations = DefaultMaxAutoFuseIterations
	}
	if len(r.Fusion.StatMultipliers) == 0 {
		r.Fusion.StatMultipliers = rarity.DefaultMultipliers()
	}
	for name, s := range r.Streams {
		s.Name = name
		s.Rates = s.Rates.Sorted()
		r.Streams[name] = s
	}
}

// Validate checks every invariant of the ruleset.
//
// Postcondition: returns nil, or a CONFIGURATION_INVARIANT_VIOLATION error
// describing every violation found.
func (r *Ruleset) Validate() error {
	var errs []string
	if len(r.Streams) == 0 {
		errs = append(errs, "at least one stream must be declared")
	}
	for _, name := range r.StreamNames() {
		s := r.Streams[name]
		for _, msg := range s.validateTypes() {
			errs = append(errs, fmt.Sprintf("streams.%s: item_types: %s", name, msg))
		}
		if err := s.Pity.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("streams.%s: %v", name, err))
		}
		if err := s.Rates.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("streams.%s: %s", name, gerrors.GetMetadata(err)["detail"]))
		}
		if _, ok := s.Rates.Restrict(s.Pity.Floor); ok {
			continue
		}
		if s.Pity.Floor.Valid() {
			errs = append(errs, fmt.Sprintf("streams.%s: no positive rate at or above pity floor %s", name, s.Pity.Floor))
		}
	}
	sizes := make(map[int]bool, len(r.Batches))
	for i, b := range r.Batches {
		if b.Size < 2 {
			errs = append(errs, fmt.Sprintf("batches[%d]: size must be >= 2, got %d", i, b.Size))
		}
		if sizes[b.Size] {
			errs = append(errs, fmt.Sprintf("batches[%d]: duplicate size %d", i, b.Size))
		}
		sizes[b.Size] = true
		if !b.Guarantee.Valid() {
			errs = append(errs, fmt.Sprintf("batches[%d]: guarantee must be a valid rarity", i))
		}
	}
	if r.Fusion.RequiredCount < 2 {
		errs = append(errs, fmt.Sprintf("fusion.required_count must be >= 2, got %d", r.Fusion.RequiredCount))
	}
	if r.Fusion.SubGradeBonus < 0 {
		errs = append(errs, fmt.Sprintf("fusion.subgrade_bonus must be >= 0, got %g", r.Fusion.SubGradeBonus))
	}
	if r.Fusion.MaxAutoFuseIterations < 1 {
		errs = append(errs, fmt.Sprintf("fusion.max_auto_fuse_iterations must be >= 1, got %d", r.Fusion.MaxAutoFuseIterations))
	}
	if err := r.Fusion.StatMultipliers.Validate(); err != nil {
		errs = append(errs, "fusion.stat_multipliers: "+err.Error())
	}
	if len(errs) > 0 {
		return joinViolations(errs)
	}
	return nil
}

// joinViolations builds a CONFIGURATION_INVARIANT_VIOLATION error from messages.
func joinViolations(errs []string) error {
	detail := strings.Join(errs, "; ")
	return gerrors.WithMetadata(
		gerrors.CodeConfigurationInvariantViolation,
		"ruleset validation failed: "+detail,
		map[string]string{"detail": detail},
	)
}
