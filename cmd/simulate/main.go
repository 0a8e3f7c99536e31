// Package main provides a Monte Carlo simulator that reports the observed
// pity behaviour of every configured pull stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gacha/internal/config"
	"github.com/cory-johannsen/gacha/internal/game/gacha"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
	"github.com/cory-johannsen/gacha/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	rulesetPath := flag.String("ruleset", "", "ruleset file; overrides content.ruleset_file")
	streamName := flag.String("stream", "", "stream to simulate; empty = all streams")
	trials := flag.Int("trials", 100_000, "number of trials per stream")
	workers := flag.Int("workers", runtime.NumCPU(), "parallel workers")
	seed := flag.Uint64("seed", 0, "seed for reproducible runs; 0 = crypto randomness")
	format := flag.String("format", "table", "output format: table or json")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	path := cfg.Content.RulesetFile
	if *rulesetPath != "" {
		path = *rulesetPath
	}
	rules, err := ruleset.Load(path)
	if err != nil {
		logger.Fatal("loading ruleset", zap.String("path", path), zap.Error(err))
	}

	names := rules.StreamNames()
	if *streamName != "" {
		if _, ok := rules.Stream(*streamName); !ok {
			logger.Fatal("unknown stream", zap.String("stream", *streamName), zap.Strings("streams", names))
		}
		names = []string{*streamName}
	}

	reports := make([]gacha.Report, 0, len(names))
	for _, name := range names {
		def, _ := rules.Stream(name)
		simStart := time.Now()
		r, err := gacha.Simulate(context.Background(), def, gacha.SimOptions{
			Trials:  *trials,
			Workers: *workers,
			Seed:    *seed,
		})
		if err != nil {
			logger.Fatal("simulating stream", zap.String("stream", name), zap.Error(err))
		}
		logger.Info("stream simulated",
			zap.String("stream", name),
			zap.Int("trials", r.Trials),
			zap.Int("pulls", r.TotalPulls),
			zap.Duration("elapsed", time.Since(simStart)),
		)
		reports = append(reports, r)
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(reports)
	case "table":
		err = writeTable(os.Stdout, reports)
	default:
		logger.Fatal("invalid format", zap.String("format", *format))
	}
	if err != nil {
		logger.Fatal("writing report", zap.Error(err))
	}
	logger.Debug("simulation complete", zap.Duration("elapsed", time.Since(start)))
}

func writeTable(out io.Writer, reports []gacha.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range reports {
		fmt.Fprintf(w, "stream %s\t%d trials\t%d pulls\n", r.Stream, r.Trials, r.TotalPulls)
		fmt.Fprintf(w, "  pulls to floor\tmean %.2f\tstddev %.2f\tp50 %.0f\tp90 %.0f\tp99 %.0f\tmax %d\n",
			r.PullsToFloor.Mean, r.PullsToFloor.StdDev, r.PullsToFloor.P50, r.PullsToFloor.P90, r.PullsToFloor.P99, r.PullsToFloor.Max)
		fmt.Fprintf(w, "  floor rate\tdeclared %.4f\teffective %.4f\thard pity %.4f\n",
			r.DeclaredFloorRate, r.EffectiveFloorRate, r.HardPityRate)
		fmt.Fprintf(w, "  rarity\tdeclared\tobserved\n")
		for _, t := range rarity.All() {
			declared, inTable := r.DeclaredRates[t]
			observed := r.RarityFrequency[t]
			if !inTable && observed == 0 {
				continue
			}
			fmt.Fprintf(w, "  %s\t%.2f%%\t%.2f%%\n", t, declared*100, observed*100)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
