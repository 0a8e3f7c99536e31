package gameserver

import (
	"context"
	"fmt"
	"sort"
	"strings"
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

// StoreFactory returns the inventory of one player.
type StoreFactory func(playerID string) inventory.TransactionalStore

// MemoryStores returns a StoreFactory handing every player a fresh in-process
// inventory.
func MemoryStores() StoreFactory {
	return func(string) inventory.TransactionalStore { return inventory.NewMemory() }
}

// ManagerConfig holds the collaborators shared by every player's Service.
type ManagerConfig struct {
	Rules     *ruleset.Ruleset
	Catalog   *catalog.Catalog
	Pulls     *gacha.Engine
	Curve     fusion.StatCurve
	Stores    StoreFactory
	Publisher event.Publisher
	Pity      PityStore
	Logger    *zap.Logger
}

// Manager creates and tracks one Service per player.
// All methods are safe for concurrent use.
type Manager struct {
	cfg      ManagerConfig
	mu       sync.Mutex
	services map[string]*Service
}

// NewManager creates an empty Manager.
//
// Precondition: cfg.Rules, cfg.Catalog, cfg.Pulls, cfg.Stores and cfg.Logger must be non-nil.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg, services: make(map[string]*Service)}
}

// Service returns the player's Service, creating it on first use. A new
// Service has its pity counters loaded from the PityStore when one is set.
//
// Postcondition: returns INVALID_ARGUMENT for an empty or malformed player ID.
func (m *Manager) Service(ctx context.Context, playerID string) (*Service, error) {
	if strings.TrimSpace(playerID) == "" || strings.Contains(playerID, "/") {
		return nil, gerrors.New(gerrors.CodeInvalidArgument, fmt.Sprintf("invalid player id %q", playerID))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc, ok := m.services[playerID]; ok {
		return svc, nil
	}

	svc := NewService(ServiceConfig{
		PlayerID:  playerID,
		Rules:     m.cfg.Rules,
		Catalog:   m.cfg.Catalog,
		Pulls:     m.cfg.Pulls,
		Curve:     m.cfg.Curve,
		Store:     m.cfg.Stores(playerID),
		Publisher: m.cfg.Publisher,
		Pity:      m.cfg.Pity,
		Logger:    m.cfg.Logger,
	})
	if m.cfg.Pity != nil {
		counts, err := m.cfg.Pity.LoadPity(ctx, playerID)
		if err != nil {
			return nil, fmt.Errorf("loading pity for %s: %w", playerID, err)
		}
		svc.RestorePity(counts)
	}
	m.services[playerID] = svc
	m.cfg.Logger.Debug("player service created", zap.String("player", playerID))
	return svc, nil
}

// Players returns the IDs of every player with a Service, sorted.
func (m *Manager) Players() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.services))
	for id := range m.services {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
