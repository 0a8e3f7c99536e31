package gacha

import (
	"math"

	"github.com/cory-johannsen/gacha/internal/game/rarity"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
)

// PityState is the per-stream pity counter together with its thresholds.
//
// Invariant: 0 <= PullsSinceGuarantee < HardThreshold between pulls.
type PityState struct {
	ruleset.PityConfig
	PullsSinceGuarantee int `json:"pulls_since_guarantee"`
}

// NewPityState returns a zeroed counter for cfg.
func NewPityState(cfg ruleset.PityConfig) PityState {
	return PityState{PityConfig: cfg}
}

// Bonus returns the soft-pity bonus in percent for the current counter:
// max(0, PullsSinceGuarantee - SoftStart) × SoftIncrement.
func (p PityState) Bonus() float64 {
	over := p.PullsSinceGuarantee - p.SoftStart
	if over <= 0 {
		return 0
	}
	return float64(over) * p.SoftIncrement
}

// Progress returns PullsSinceGuarantee / HardThreshold clamped to [0,1].
func (p PityState) Progress() float64 {
	if p.HardThreshold <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, float64(p.PullsSinceGuarantee)/float64(p.HardThreshold)))
}

// PullsUntilHardPity returns how many more pulls force the floor tier.
func (p PityState) PullsUntilHardPity() int {
	n := p.HardThreshold - p.PullsSinceGuarantee
	if n < 0 {
		return 0
	}
	return n
}

// Statistics counts pull outcomes for one stream.
type Statistics struct {
	Total            int                   `json:"total"`
	ByRarity         map[rarity.Rarity]int `json:"by_rarity"`
	HardPityTriggers int                   `json:"hard_pity_triggers"`
	BatchGuarantees  int                   `json:"batch_guarantees"`
}

// NewStatistics returns empty counters.
func NewStatistics() Statistics {
	return Statistics{ByRarity: make(map[rarity.Rarity]int)}
}

// Record counts one pull of r.
func (s *Statistics) Record(r rarity.Rarity) {
	if s.ByRarity == nil {
		s.ByRarity = make(map[rarity.Rarity]int)
	}
	s.Total++
	s.ByRarity[r]++
}

// Frequency returns the observed share of pulls that resolved to r, in [0,1].
func (s Statistics) Frequency(r rarity.Rarity) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ByRarity[r]) / float64(s.Total)
}

// Clone returns a deep copy.
func (s Statistics) Clone() Statistics {
	out := s
	out.ByRarity = make(map[rarity.Rarity]int, len(s.ByRarity))
	for k, v := range s.ByRarity {
		out.ByRarity[k] = v
	}
	return out
}

// Stream is the mutable state of one pull stream. Callers must serialize
// access to a Stream.
type Stream struct {
	Def   ruleset.StreamDef
	Pity  PityState
	Stats Statistics
}

// NewStream returns a fresh stream for def.
func NewStream(def ruleset.StreamDef) *Stream {
	return &Stream{
		Def:   def,
		Pity:  NewPityState(def.Pity),
		Stats: NewStatistics(),
	}
}

// ResetStats clears the stream's statistics. Pity is untouched.
func (s *Stream) ResetStats() {
	s.Stats = NewStatistics()
}

type streamSnapshot struct {
	pity  PityState
	stats Statistics
}

func (s *Stream) snapshot() streamSnapshot {
	return streamSnapshot{pity: s.Pity, stats: s.Stats.Clone()}
}

func (s *Stream) restore(snap streamSnapshot) {
	s.Pity = snap.pity
	s.Stats = snap.stats
}
