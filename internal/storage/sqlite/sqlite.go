// Package sqlite provides an embedded SQLite store for inventories and pity
// counters, for single-node deployments without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
	"github.com/cory-johannsen/gacha/internal/storage/sqlite/migrations"
)

// Store persists every player's stacks and pity counters in one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the embedded
// migrations. ":memory:" opens a private in-memory database.
//
// Postcondition: returns a migrated Store or a non-nil error.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ForPlayer returns the inventory of playerID.
//
// Postcondition: the returned value implements inventory.TransactionalStore.
func (s *Store) ForPlayer(playerID string) *PlayerInventory {
	return &PlayerInventory{db: s.db, stacks: stacks{q: s.db, playerID: playerID}}
}

// LoadPity returns every stored counter of playerID keyed by stream name.
func (s *Store) LoadPity(ctx context.Context, playerID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stream, pulls_since_guarantee FROM pity_states WHERE player_id = ?`, playerID)
	if err != nil {
		return nil, fmt.Errorf("querying pity for %s: %w", playerID, err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var stream string
		var n int
		if err := rows.Scan(&stream, &n); err != nil {
			return nil, fmt.Errorf("scanning pity: %w", err)
		}
		out[stream] = n
	}
	return out, rows.Err()
}

// SavePity upserts the counter of (playerID, stream).
//
// Precondition: pulls >= 0.
func (s *Store) SavePity(ctx context.Context, playerID, stream string, pulls int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pity_states (player_id, stream, pulls_since_guarantee, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (player_id, stream)
		 DO UPDATE SET pulls_since_guarantee = excluded.pulls_since_guarantee, updated_at = excluded.updated_at`,
		playerID, stream, pulls, nowMillis(),
	)
	if err != nil {
		if isConstraintError(err) {
			return gerrors.Wrap(gerrors.CodeInvalidArgument,
				fmt.Sprintf("pity counter must be >= 0, got %d", pulls), err)
		}
		return fmt.Errorf("saving pity for %s/%s: %w", playerID, stream, err)
	}
	return nil
}

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
}

// PlayerInventory is one player's stacks.
type PlayerInventory struct {
	db *sql.DB
	stacks
}

// WithinTx runs fn inside a transaction that commits iff fn returns nil.
func (p *PlayerInventory) WithinTx(ctx context.Context, fn func(ctx context.Context, s inventory.Store) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(ctx, &stacks{q: tx, playerID: p.playerID}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type stacks struct {
	q        querier
	playerID string
}

const keyPredicate = `player_id = ? AND item_type = ? AND name = ? AND rarity = ? AND subgrade = ?`

func (s *stacks) keyArgs(k catalog.Key) []any {
	return []any{s.playerID, string(k.Type), k.Name, int(k.Rarity), int(k.SubGrade)}
}

// Count returns the owned copies of key.
func (s *stacks) Count(ctx context.Context, key catalog.Key) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT count FROM inventory_stacks WHERE `+keyPredicate, s.keyArgs(key)...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying stack %s: %w", key, err)
	}
	return n, nil
}

// Remove consumes n copies of key or fails with INSUFFICIENT_MATERIALS.
func (s *stacks) Remove(ctx context.Context, key catalog.Key, n int) error {
	if err := inventory.ValidateQuantity(n); err != nil {
		return err
	}
	args := append([]any{n, nowMillis()}, s.keyArgs(key)...)
	args = append(args, n)
	res, err := s.q.ExecContext(ctx,
		`UPDATE inventory_stacks SET count = count - ?, updated_at = ?
		 WHERE `+keyPredicate+` AND count >= ?`, args...)
	if err != nil {
		return fmt.Errorf("removing %d of %s: %w", n, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing %d of %s: %w", n, key, err)
	}
	if affected == 0 {
		have, err := s.Count(ctx, key)
		if err != nil {
			return err
		}
		return inventory.InsufficientError(key, have, n)
	}
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM inventory_stacks WHERE `+keyPredicate+` AND count = 0`, s.keyArgs(key)...); err != nil {
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
	args := append(s.keyArgs(item.Key()), string(tmpl), n, nowMillis())
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO inventory_stacks (player_id, item_type, name, rarity, subgrade, template, count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (player_id, item_type, name, rarity, subgrade)
		 DO UPDATE SET count = inventory_stacks.count + excluded.count, updated_at = excluded.updated_at`,
		args...)
	if err != nil {
		return fmt.Errorf("adding %d of %s: %w", n, item.Key(), err)
	}
	return nil
}

// All returns every non-empty stack ordered ascending by key.
func (s *stacks) All(ctx context.Context) ([]inventory.Stack, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT template, count FROM inventory_stacks WHERE player_id = ? AND count > 0`, s.playerID)
	if err != nil {
		return nil, fmt.Errorf("listing stacks: %w", err)
	}
	defer rows.Close()
	var out []inventory.Stack
	for rows.Next() {
		var raw string
		var st inventory.Stack
		if err := rows.Scan(&raw, &st.Count); err != nil {
			return nil, fmt.Errorf("scanning stack: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &st.Template); err != nil {
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
