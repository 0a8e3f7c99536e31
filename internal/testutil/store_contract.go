package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
	"github.com/cory-johannsen/gacha/internal/game/inventory"
	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// RunStoreContract exercises the inventory.TransactionalStore contract
// against stores produced by newStore. Each subtest gets a fresh store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) inventory.TransactionalStore) {
	ctx := context.Background()
	sword := Template("Sword", rarity.Common, 1)
	axe := Template("Axe", rarity.Rare, 3)

	t.Run("add and count", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, catalog.NewInstance(sword), 3))
		require.NoError(t, s.Add(ctx, catalog.NewInstance(sword), 2))
		n, err := s.Count(ctx, sword.Key())
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		n, err = s.Count(ctx, axe.Key())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, catalog.NewInstance(sword), 5))
		require.NoError(t, s.Remove(ctx, sword.Key(), 2))
		n, err := s.Count(ctx, sword.Key())
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		require.NoError(t, s.Remove(ctx, sword.Key(), 3))
		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("remove insufficient mutates nothing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, catalog.NewInstance(sword), 2))
		err := s.Remove(ctx, sword.Key(), 3)
		require.ErrorIs(t, err, inventory.ErrInsufficientQuantity)
		assert.True(t, gerrors.IsCode(err, gerrors.CodeInsufficientMaterials))
		n, err := s.Count(ctx, sword.Key())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		s := newStore(t)
		assert.True(t, gerrors.IsCode(s.Add(ctx, catalog.NewInstance(sword), 0), gerrors.CodeInvalidArgument))
		assert.True(t, gerrors.IsCode(s.Remove(ctx, sword.Key(), -1), gerrors.CodeInvalidArgument))
	})

	t.Run("all sorted with templates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, catalog.NewInstance(axe), 1))
		require.NoError(t, s.Add(ctx, catalog.NewInstance(sword), 4))
		all, err := s.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, sword, all[0].Template)
		assert.Equal(t, 4, all[0].Count)
		assert.Equal(t, axe, all[1].Template)
	})

	t.Run("tx commits", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, catalog.NewInstance(sword), 5))
		err := s.WithinTx(ctx, func(ctx context.Context, tx inventory.Store) error {
			if err := tx.Remove(ctx, sword.Key(), 5); err != nil {
				return err
			}
			return tx.Add(ctx, catalog.NewInstance(axe), 1)
		})
		require.NoError(t, err)
		n, err := s.Count(ctx, axe.Key())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("tx rolls back", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, catalog.NewInstance(sword), 5))
		boom := errors.New("boom")
		err := s.WithinTx(ctx, func(ctx context.Context, tx inventory.Store) error {
			if err := tx.Remove(ctx, sword.Key(), 5); err != nil {
				return err
			}
			if err := tx.Add(ctx, catalog.NewInstance(axe), 1); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		n, err := s.Count(ctx, sword.Key())
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		n, err = s.Count(ctx, axe.Key())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
