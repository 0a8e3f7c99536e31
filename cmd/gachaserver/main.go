// Package main provides the gacha server binary: the player HTTP JSON API plus
// a gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gacha/internal/config"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/dice"
	"github.com/cory-johannsen/gacha/internal/game/event"
	"github.com/cory-johannsen/gacha/internal/game/fusion"
	"github.com/cory-johannsen/gacha/internal/game/gacha"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
	"github.com/cory-johannsen/gacha/internal/gameserver"
	"github.com/cory-johannsen/gacha/internal/observability"
	"github.com/cory-johannsen/gacha/internal/scripting"
	"github.com/cory-johannsen/gacha/internal/server"
	"github.com/cory-johannsen/gacha/internal/storage/postgres"
	"github.com/cory-johannsen/gacha/internal/storage/sqlite"
)

const curveScriptKey = "curve"

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting gacha server",
		zap.String("http_addr", cfg.Server.HTTPAddr()),
		zap.String("storage", cfg.Storage.Driver),
	)

	// Balance content
	contentStart := time.Now()
	rules, err := ruleset.Load(cfg.Content.RulesetFile)
	if err != nil {
		logger.Fatal("loading ruleset", zap.Error(err))
	}
	if cfg.Engine.AutoFuseMaxIterations > 0 {
		rules.Fusion.MaxAutoFuseIterations = cfg.Engine.AutoFuseMaxIterations
	}
	cat, err := catalog.Load(cfg.Content.ItemsDir)
	if err != nil {
		logger.Fatal("loading item catalog", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Strings("streams", rules.StreamNames()),
		zap.Int("templates", cat.Len()),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Optional scripted stat curve
	var curve fusion.StatCurve
	if cfg.Content.ScriptDir != "" {
		scriptMgr := scripting.NewManager(logger)
		scriptMgr.Multipliers = rules.Fusion.StatMultipliers
		if err := scriptMgr.LoadDir(curveScriptKey, cfg.Content.ScriptDir, cfg.Engine.ScriptInstructionLimit); err != nil {
			logger.Fatal("loading curve scripts", zap.Error(err))
		}
		defer scriptMgr.Close()
		curve = scripting.NewCurve(scriptMgr, curveScriptKey, rules.Fusion.StatMultipliers, logger)
		logger.Info("stat curve scripted", zap.String("dir", cfg.Content.ScriptDir))
	}

	// Storage
	stores := gameserver.MemoryStores()
	var pity gameserver.PityStore
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Fatal("opening sqlite store", zap.Error(err))
		}
		defer st.Close()
		stores = func(id string) inventory.TransactionalStore { return st.ForPlayer(id) }
		pity = st
	case config.DriverPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		invRepo := postgres.NewInventoryRepository(pool.DB())
		stores = func(id string) inventory.TransactionalStore { return invRepo.ForPlayer(id) }
		pity = postgres.NewPityRepository(pool.DB())
	}

	// Randomness
	src := dice.NewCryptoSource()
	if cfg.Engine.Seed != 0 {
		src = dice.NewSeededSource(cfg.Engine.Seed)
		logger.Warn("pulls are seeded and reproducible", zap.Uint64("seed", cfg.Engine.Seed))
	}
	pulls := gacha.NewEngine(cat, dice.NewLoggedRoller(src, logger), logger)

	bus := event.NewBus()
	unsubscribe := observability.AuditEvents(bus, logger)
	defer unsubscribe()

	players := gameserver.NewManager(gameserver.ManagerConfig{
		Rules:     rules,
		Catalog:   cat,
		Pulls:     pulls,
		Curve:     curve,
		Stores:    stores,
		Publisher: bus,
		Pity:      pity,
		Logger:    logger,
	})
	api := gameserver.NewAPI(players, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("http", &server.HTTPService{
		Server: &http.Server{
			Addr:              cfg.Server.HTTPAddr(),
			Handler:           api.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if cfg.Server.GRPCPort != 0 {
		lifecycle.Add("health", server.NewHealthService(cfg.Server.GRPCAddr(), "gacha"))
	}

	logger.Info("gacha server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
}
