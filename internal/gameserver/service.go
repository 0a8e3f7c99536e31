// Package gameserver exposes the pull and fusion engines to players: one
// Service per player, a Manager that owns them, and an HTTP JSON API.
package gameserver

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/event"
	"github.com/cory-johannsen/gacha/internal/game/fusion"
	"github.com/cory-johannsen/gacha/internal/game/gacha"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
	"github.com/cory-johannsen/gacha/internal/game/ruleset"
)

// PityStore persists pity counters per player and stream.
//
// Postcondition: LoadPity returns an empty map for an unknown player.
type PityStore interface {
	LoadPity(ctx context.Context, playerID string) (map[string]int, error)
	SavePity(ctx context.Context, playerID, stream string, pulls int) error
}

// streamSlot serializes access to one pull stream.
type streamSlot struct {
	mu     sync.Mutex
	stream *gacha.Stream
}

// Service is the inbound surface of one player's pull streams and inventory.
// All methods are safe for concurrent use; pulls on the same stream are
// serialized.
type Service struct {
	playerID string
	rules    *ruleset.Ruleset
	catalog  *catalog.Catalog
	pulls    *gacha.Engine
	fusion   *fusion.Engine
	store    inventory.TransactionalStore
	pub      event.Publisher
	pity     PityStore
	logger   *zap.Logger
	streams  map[string]*streamSlot
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	PlayerID string
	Rules    *ruleset.Ruleset
	Catalog  *catalog.Catalog
	Pulls    *gacha.Engine
	// Curve overrides Rules.Fusion.StatMultipliers when non-nil.
	Curve     fusion.StatCurve
	Store     inventory.TransactionalStore
	Publisher event.Publisher
	// Pity may be nil; counters then live only in memory.
	Pity   PityStore
	Logger *zap.Logger
}

// NewService creates a Service with a fresh stream for every stream in Rules.
//
// Precondition: cfg.Rules, cfg.Catalog, cfg.Pulls, cfg.Store and cfg.Logger must be non-nil.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger.With(zap.String("player", cfg.PlayerID))
	streams := make(map[string]*streamSlot, len(cfg.Rules.Streams))
	for _, name := range cfg.Rules.StreamNames() {
		def, _ := cfg.Rules.Stream(name)
		streams[name] = &streamSlot{stream: gacha.NewStream(def)}
	}
	return &Service{
		playerID: cfg.PlayerID,
		rules:    cfg.Rules,
		catalog:  cfg.Catalog,
		pulls:    cfg.Pulls,
		fusion: fusion.NewEngine(fusion.Config{
			Rule:      cfg.Rules.Fusion,
			Curve:     cfg.Curve,
			Catalog:   cfg.Catalog,
			Store:     cfg.Store,
			Publisher: cfg.Publisher,
			Logger:    logger,
			PlayerID:  cfg.PlayerID,
		}),
		store:   cfg.Store,
		pub:     cfg.Publisher,
		pity:    cfg.Pity,
		logger:  logger,
		streams: streams,
	}
}

// PlayerID returns the owning player's ID.
func (s *Service) PlayerID() string { return s.playerID }

// RestorePity sets the pity counter of each named stream from counts. Unknown
// streams are ignored; counts are clamped below the stream's hard threshold.
func (s *Service) RestorePity(counts map[string]int) {
	for name, n := range counts {
		slot, ok := s.streams[name]
		if !ok {
			s.logger.Warn("ignoring pity for unknown stream", zap.String("stream", name))
			continue
		}
		slot.mu.Lock()
		hard := slot.stream.Pity.HardThreshold
		switch {
		case n < 0:
			n = 0
		case n >= hard:
			n = hard - 1
		}
		slot.stream.Pity.PullsSinceGuarantee = n
		slot.mu.Unlock()
	}
}

func (s *Service) slot(stream string) (*streamSlot, error) {
	slot, ok := s.streams[stream]
	if !ok {
		return nil, gerrors.New(gerrors.CodeUnknownStream, fmt.Sprintf("unknown stream %q", stream))
	}
	return slot, nil
}

// PullSingle resolves one pull on stream and stores the item.
func (s *Service) PullSingle(ctx context.Context, stream string) (catalog.ItemInstance, error) {
	items, err := s.pull(ctx, stream, func(st *gacha.Stream) ([]catalog.ItemInstance, error) {
		item, err := s.pulls.PullSingle(st)
		if err != nil {
			return nil, err
		}
		return []catalog.ItemInstance{item}, nil
	})
	if err != nil {
		return catalog.ItemInstance{}, err
	}
	return items[0], nil
}

// PullBatch resolves a batch of n pulls using the batch rule declared for n.
//
// Postcondition: returns UNKNOWN_BATCH_SIZE when no rule declares n.
func (s *Service) PullBatch(ctx context.Context, stream string, n int) ([]catalog.ItemInstance, error) {
	rule, err := s.batchRule(n)
	if err != nil {
		return nil, err
	}
	return s.pull(ctx, stream, func(st *gacha.Stream) ([]catalog.ItemInstance, error) {
		return s.pulls.PullBatch(st, n, rule.Guarantee, rule.GuaranteeEnabled())
	})
}

// PullBatchByType is PullBatch with every item restricted to typ.
func (s *Service) PullBatchByType(ctx context.Context, stream string, n int, typ catalog.ItemType) ([]catalog.ItemInstance, error) {
	rule, err := s.batchRule(n)
	if err != nil {
		return nil, err
	}
	return s.pull(ctx, stream, func(st *gacha.Stream) ([]catalog.ItemInstance, error) {
		return s.pulls.PullBatchByType(st, n, typ, rule.Guarantee, rule.GuaranteeEnabled())
	})
}

func (s *Service) batchRule(n int) (ruleset.BatchRule, error) {
	rule, ok := s.rules.Batch(n)
	if !ok {
		return ruleset.BatchRule{}, gerrors.New(gerrors.CodeUnknownBatchSize,
			fmt.Sprintf("no batch rule for size %d", n))
	}
	return rule, nil
}

// pull runs fn under the stream lock, stores the items in one inventory
// transaction and publishes PullCompleted. If storing fails the stream's pity
// and statistics are rolled back.
func (s *Service) pull(ctx context.Context, stream string, fn func(*gacha.Stream) ([]catalog.ItemInstance, error)) ([]catalog.ItemInstance, error) {
	slot, err := s.slot(stream)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	st := slot.stream
	prevPity, prevStats := st.Pity, st.Stats.Clone()
	items, err := fn(st)
	if err != nil {
		return nil, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, inv inventory.Store) error {
		for _, item := range items {
			if err := inv.Add(ctx, item, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		st.Pity, st.Stats = prevPity, prevStats
		s.logger.Error("storing pulled items", zap.String("stream", stream), zap.Error(err))
		return nil, fmt.Errorf("storing pulled items: %w", err)
	}
	s.savePity(ctx, stream, st.Pity.PullsSinceGuarantee)

	s.logger.Info("pull completed",
		zap.String("stream", stream),
		zap.Int("items", len(items)),
		zap.Int("pity_count", st.Pity.PullsSinceGuarantee),
	)
	if s.pub != nil {
		s.pub.Publish(event.PullCompleted{PlayerID: s.playerID, Stream: stream, Items: items})
	}
	return items, nil
}

// savePity persists the counter. Failures are logged and do not undo the pull:
// the items are already stored.
func (s *Service) savePity(ctx context.Context, stream string, pulls int) {
	if s.pity == nil {
		return
	}
	if err := s.pity.SavePity(ctx, s.playerID, stream, pulls); err != nil {
		s.logger.Error("saving pity counter", zap.String("stream", stream), zap.Error(err))
	}
}

// GetPityProgress returns the stream's pity progress in [0,1].
func (s *Service) GetPityProgress(stream string) (float64, error) {
	p, err := s.Pity(stream)
	if err != nil {
		return 0, err
	}
	return p.Progress(), nil
}

// GetCurrentPityCount returns the number of pulls since the stream last
// produced its floor rarity.
func (s *Service) GetCurrentPityCount(stream string) (int, error) {
	p, err := s.Pity(stream)
	if err != nil {
		return 0, err
	}
	return p.PullsSinceGuarantee, nil
}

// Pity returns a copy of the stream's pity state.
func (s *Service) Pity(stream string) (gacha.PityState, error) {
	slot, err := s.slot(stream)
	if err != nil {
		return gacha.PityState{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.stream.Pity, nil
}

// Stats returns a copy of the stream's pull statistics.
func (s *Service) Stats(stream string) (gacha.Statistics, error) {
	slot, err := s.slot(stream)
	if err != nil {
		return gacha.Statistics{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.stream.Stats.Clone(), nil
}

// ResetStats clears the stream's statistics. Pity is untouched.
func (s *Service) ResetStats(stream string) error {
	slot, err := s.slot(stream)
	if err != nil {
		return err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.stream.ResetStats()
	return nil
}

// Streams returns the names of the player's streams in lexical order.
func (s *Service) Streams() []string { return s.rules.StreamNames() }

// Inventory returns every owned stack ordered ascending by key.
func (s *Service) Inventory(ctx context.Context) ([]inventory.Stack, error) {
	stacks, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	inventory.SortStacks(stacks)
	return stacks, nil
}

// ResolveItem returns the template for key: an owned stack's template first,
// then a catalog template.
//
// Postcondition: returns NOT_FOUND when neither holds key.
func (s *Service) ResolveItem(ctx context.Context, key catalog.Key) (catalog.ItemTemplate, error) {
	stacks, err := s.store.All(ctx)
	if err != nil {
		return catalog.ItemTemplate{}, err
	}
	for _, st := range stacks {
		if st.Key() == key {
			return st.Template, nil
		}
	}
	if t, ok := s.catalog.Template(key); ok {
		return t, nil
	}
	return catalog.ItemTemplate{}, gerrors.New(gerrors.CodeNotFound, fmt.Sprintf("item %s not found", key))
}

// TryFuse fuses count copies of item's group (RequiredCount when 0).
func (s *Service) TryFuse(ctx context.Context, item catalog.ItemTemplate, count int) (fusion.Result, error) {
	return s.fusion.TryFuse(ctx, item, count)
}

// EffectiveStat returns t's primary stat with the ruleset's subgrade bonus applied.
func (s *Service) EffectiveStat(t catalog.ItemTemplate) float64 {
	return s.fusion.EffectiveStat(t)
}

// AutoFuse fuses every eligible group of typ, or of every type when typ is empty.
func (s *Service) AutoFuse(ctx context.Context, typ catalog.ItemType) (fusion.AutoFuseReport, error) {
	if typ != "" && !typ.Valid() {
		return fusion.AutoFuseReport{}, gerrors.New(gerrors.CodeInvalidArgument, fmt.Sprintf("unknown item type %q", typ))
	}
	return s.fusion.AutoFuse(ctx, typ)
}

// GetFusionPreview projects what fusing item's group would produce.
func (s *Service) GetFusionPreview(ctx context.Context, item catalog.ItemTemplate) (fusion.Outcome, error) {
	return s.fusion.Preview(ctx, item)
}
