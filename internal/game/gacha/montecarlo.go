package gacha

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/dice"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
)

// Summary describes a sample of integer observations.
type Summary struct {
	Mean   float64 `json:"mean"`
	Var    float64 `json:"var"`
	StdDev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
	Max    int     `json:"max"`
}

// Summarize computes mean, population variance and interpolated percentiles.
func Summarize(xs []int) Summary {
	n := len(xs)
	if n == 0 {
		return Summary{}
	}
	var sum float64
	for _, v := range xs {
		sum += float64(v)
	}
	mean := sum / float64(n)

	var acc float64
	for _, v := range xs {
		d := float64(v) - mean
		acc += d * d
	}
	variance := acc / float64(n)

	cp := append([]int(nil), xs...)
	sort.Ints(cp)
	percentile := func(p float64) float64 {
		pos := p * float64(n-1)
		i := int(math.Floor(pos))
		if i+1 >= n {
			return float64(cp[n-1])
		}
		f := pos - float64(i)
		return float64(cp[i])*(1-f) + float64(cp[i+1])*f
	}
	return Summary{
		Mean:   mean,
		Var:    variance,
		StdDev: math.Sqrt(variance),
		P50:    percentile(0.50),
		P90:    percentile(0.90),
		P99:    percentile(0.99),
		Max:    cp[n-1],
	}
}

// SimOptions configures Simulate.
type SimOptions struct {
	Trials  int
	Workers int
	// Seed makes the run reproducible for a fixed Workers count; 0 uses
	// crypto randomness.
	Seed uint64
}

// Report is the outcome of a Monte Carlo run over one stream.
type Report struct {
	Stream          string                    `json:"stream"`
	Trials          int                       `json:"trials"`
	TotalPulls      int                       `json:"total_pulls"`
	PullsToFloor    Summary                   `json:"pulls_to_floor"`
	HardPityRate    float64                   `json:"hard_pity_rate"`
	RarityFrequency map[rarity.Rarity]float64 `json:"rarity_frequency"`
	DeclaredRates   map[rarity.Rarity]float64 `json:"declared_rates"`
	// DeclaredFloorRate is the base chance of a tier >= floor on one pull.
	DeclaredFloorRate float64 `json:"declared_floor_rate"`
	// EffectiveFloorRate is 1 / mean pulls-to-floor, including pity.
	EffectiveFloorRate float64 `json:"effective_floor_rate"`
}

// Simulate runs opts.Trials independent trials on def. A trial starts with a
// fresh pity counter and pulls until the result reaches the pity floor; the
// pull count of each trial is summarized.
//
// Precondition: def is a validated stream; opts.Trials >= 1.
func Simulate(ctx context.Context, def ruleset.StreamDef, opts SimOptions) (Report, error) {
	if opts.Trials < 1 {
		return Report{}, gerrors.New(gerrors.CodeInvalidArgument, fmt.Sprintf("trials must be >= 1, got %d", opts.Trials))
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > opts.Trials {
		workers = opts.Trials
	}

	samples := make([]int, opts.Trials)
	partial := make([]Statistics, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			src := dice.NewCryptoSource()
			if opts.Seed != 0 {
				src = dice.NewSeededSource(opts.Seed + uint64(w))
			}
			e := &Engine{roller: dice.NewLoggedRoller(src, zap.NewNop()), logger: zap.NewNop()}
			stats := NewStatistics()
			for i := w; i < opts.Trials; i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				s := NewStream(def)
				s.Stats = stats
				pulls := 0
				for {
					pulls++
					r, _ := e.resolveRarity(s)
					s.Stats.Record(r)
					if r >= def.Pity.Floor {
						break
					}
				}
				stats = s.Stats
				samples[i] = pulls
			}
			partial[w] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	total := NewStatistics()
	for _, p := range partial {
		total.Total += p.Total
		total.HardPityTriggers += p.HardPityTriggers
		for r, c := range p.ByRarity {
			total.ByRarity[r] += c
		}
	}
	report := Report{
		Stream:          def.Name,
		Trials:          opts.Trials,
		TotalPulls:      total.Total,
		PullsToFloor:    Summarize(samples),
		HardPityRate:    float64(total.HardPityTriggers) / float64(opts.Trials),
		RarityFrequency: make(map[rarity.Rarity]float64, len(total.ByRarity)),
		DeclaredRates:   make(map[rarity.Rarity]float64, len(def.Rates)),
	}
	for r := range total.ByRarity {
		report.RarityFrequency[r] = total.Frequency(r)
	}
	for _, entry := range def.Rates {
		report.DeclaredRates[entry.Rarity] = entry.BaseProbability / 100
		if entry.Rarity >= def.Pity.Floor {
			report.DeclaredFloorRate += entry.BaseProbability / 100
		}
	}
	if report.PullsToFloor.Mean > 0 {
		report.EffectiveFloorRate = 1 / report.PullsToFloor.Mean
	}
	return report, nil
}
