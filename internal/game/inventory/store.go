// Package inventory defines the owned-item collaborator used by the pull and
// fusion engines, plus an in-process implementation.
package inventory

import (
	"context"
	"fmt"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
	"github.com/cory-johannsen/gacha/internal/game/catalog"
)

// Stack is a template-equal group of owned items.
type Stack struct {
	Template catalog.ItemTemplate `json:"template"`
	Count    int                  `json:"count"`
}

// Key returns the group key of the stack.
func (s Stack) Key() catalog.Key { return s.Template.Key() }

// Store counts, consumes and adds owned items grouped by template key.
type Store interface {
	// Count returns the number of owned copies of key (0 if none).
	Count(ctx context.Context, key catalog.Key) (int, error)
	// Remove consumes n copies of key.
	//
	// Postcondition: returns an INSUFFICIENT_MATERIALS error and mutates
	// nothing when fewer than n copies are owned.
	Remove(ctx context.Context, key catalog.Key, n int) error
	// Add stores n copies of item's template.
	Add(ctx context.Context, item catalog.ItemInstance, n int) error
	// All returns every non-empty stack ordered ascending by key.
	All(ctx context.Context) ([]Stack, error)
}

// Transactor runs fn against a Store view such that either every mutation
// made by fn is applied or none is.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// TransactionalStore is a Store that also supports atomic multi-step updates.
type TransactionalStore interface {
	Store
	Transactor
}

// ErrInsufficientQuantity is returned by Remove when too few copies are owned.
var ErrInsufficientQuantity = gerrors.New(gerrors.CodeInsufficientMaterials, "insufficient quantity")

// InsufficientError builds the Remove failure for key.
func InsufficientError(key catalog.Key, have, want int) error {
	return gerrors.Wrap(gerrors.CodeInsufficientMaterials,
		fmt.Sprintf("cannot remove %d of %s: only %d owned", want, key, have),
		ErrInsufficientQuantity)
}

// ValidateQuantity checks that n is a positive quantity.
func ValidateQuantity(n int) error {
	if n <= 0 {
		return gerrors.New(gerrors.CodeInvalidArgument, fmt.Sprintf("quantity must be > 0, got %d", n))
	}
	return nil
}
