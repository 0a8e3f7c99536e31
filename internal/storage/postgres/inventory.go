package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
)

// InventoryRepository persists owned item stacks for every player.
type InventoryRepository struct {
	db *pgxpool.Pool
}

// NewInventoryRepository creates an InventoryRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewInventoryRepository(db *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// ForPlayer returns the inventory of playerID.
//
// Precondition: playerID must be non-empty.
// Postcondition: the returned value implements inventory.TransactionalStore.
func (r *InventoryRepository) ForPlayer(playerID string) *PlayerInventory {
	return &PlayerInventory{db: r.db, stacks: stacks{q: r.db, playerID: playerID}}
}

// PlayerInventory is one player's stacks. Methods outside WithinTx run as
// independent statements.
type PlayerInventory struct {
	db *pgxpool.Pool
	stacks
}

// WithinTx runs fn inside a database transaction that commits iff fn
// returns nil.
func (p *PlayerInventory) WithinTx(ctx context.Context, fn func(ctx context.Context, s inventory.Store) error) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		return fn(ctx, &stacks{q: tx, playerID: p.playerID})
	})
}

// stacks implements inventory.Store over a querier.
type stacks struct {
	q        querier
	playerID string
}

const keyPredicate = `player_id = $1 AND item_type = $2 AND name = $3 AND rarity = $4 AND subgrade = $5`

func (s *stacks) keyArgs(k catalog.Key) []any {
	return []any{s.playerID, string(k.Type), k.Name, int(k.Rarity), int(k.SubGrade)}
}

// Count returns the owned copies of key.
func (s *stacks) Count(ctx context.Context, key catalog.Key) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT count FROM inventory_stacks WHERE `+keyPredicate,
		s.keyArgs(key)...,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying stack %s: %w", key, err)
	}
	return n, nil
}

// Remove consumes n copies of key.
//
// Postcondition: fails with INSUFFICIENT_MATERIALS and mutates nothing when
// fewer than n copies are owned.
func (s *stacks) Remove(ctx context.Context, key catalog.Key, n int) error {
	if err := inventory.ValidateQuantity(n); err != nil {
		return err
	}
	args := append(s.keyArgs(key), n)
	tag, err := s.q.Exec(ctx,
		`UPDATE inventory_stacks SET count = count - $6, updated_at = NOW()
		 WHERE `+keyPredicate+` AND count >= $6`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("removing %d of %s: %w", n, key, err)
	}
	if tag.RowsAffected() == 0 {
		have, err := s.Count(ctx, key)
		if err != nil {
			return err
		}
		return inventory.InsufficientError(key, have, n)
	}
	if _, err := s.q.Exec(ctx,
		`DELETE FROM inventory_stacks WHERE `+keyPredicate+` AND count = 0`,
		s.keyArgs(key)...,
	); err != nil {
		return fmt.Errorf("pruning empty stack %s: %w", key, err)
	}
	return nil
}

// Add stores n copies of item's template. The first template stored for a
// key is kept.
func (s *stacks) Add(ctx context.Context, item catalog.ItemInstance, n int) error {
	if err := inventory.ValidateQuantity(n); err != nil {
		return err
	}
	tmpl, err := json.Marshal(item.Template)
	if err != nil {
		return fmt.Errorf("encoding template %s: %w", item.Key(), err)
	}
	args := append(s.keyArgs(item.Key()), tmpl, n)
	_, err = s.q.Exec(ctx,
		`INSERT INTO inventory_stacks (player_id, item_type, name, rarity, subgrade, template, count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (player_id, item_type, name, rarity, subgrade)
		 DO UPDATE SET count = inventory_stacks.count + EXCLUDED.count, updated_at = NOW()`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("adding %d of %s: %w", n, item.Key(), err)
	}
	return nil
}

// All returns every non-empty stack ordered ascending by key.
func (s *stacks) All(ctx context.Context) ([]inventory.Stack, error) {
	rows, err := s.q.Query(ctx,
		`SELECT template, count FROM inventory_stacks WHERE player_id = $1 AND count > 0`,
		s.playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stacks: %w", err)
	}
	defer rows.Close()

	var out []inventory.Stack
	for rows.Next() {
		var raw []byte
		var st inventory.Stack
		if err := rows.Scan(&raw, &st.Count); err != nil {
			return nil, fmt.Errorf("scanning stack: %w", err)
		}
		if err := json.Unmarshal(raw, &st.Template); err != nil {
			return nil, fmt.Errorf("decoding template: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stacks: %w", err)
	}
	inventory.SortStacks(out)
	return out, nil
}
