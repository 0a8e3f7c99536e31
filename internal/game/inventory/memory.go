package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/cory-johannsen/gacha/internal/game/catalog"
)

// Memory is an in-process TransactionalStore. It is safe for concurrent use;
// WithinTx holds the store lock for the whole of fn.
type Memory struct {
	mu     sync.Mutex
	stacks map[catalog.Key]Stack
}

// NewMemory returns an empty Memory store.
//
// Postcondition: All returns an empty slice.
func NewMemory() *Memory {
	return &Memory{stacks: make(map[catalog.Key]Stack)}
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, key catalog.Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memTx)(m).Count(ctx, key)
}

// Remove implements Store.
func (m *Memory) Remove(ctx context.Context, key catalog.Key, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memTx)(m).Remove(ctx, key, n)
}

// Add implements Store.
func (m *Memory) Add(ctx context.Context, item catalog.ItemInstance, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memTx)(m).Add(ctx, item, n)
}

// All implements Store.
func (m *Memory) All(ctx context.Context) ([]Stack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memTx)(m).All(ctx)
}

// WithinTx implements Transactor. The stacks are snapshotted before fn runs
// and restored if fn returns an error or panics.
//
// Postcondition: on error, the store is byte-for-byte what it was before the call.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[catalog.Key]Stack, len(m.stacks))
	for k, v := range m.stacks {
		snapshot[k] = v
	}
	defer func() {
		if r := recover(); r != nil {
			m.stacks = snapshot
			panic(r)
		}
		if err != nil {
			m.stacks = snapshot
		}
	}()
	return fn(ctx, (*memTx)(m))
}

// memTx is the lock-free view of a Memory handed out while the lock is held.
type memTx Memory

func (t *memTx) Count(_ context.Context, key catalog.Key) (int, error) {
	return t.stacks[key].Count, nil
}

func (t *memTx) Remove(_ context.Context, key catalog.Key, n int) error {
	if err := ValidateQuantity(n); err != nil {
		return err
	}
	s, ok := t.stacks[key]
	if !ok || s.Count < n {
		return InsufficientError(key, s.Count, n)
	}
	s.Count -= n
	if s.Count == 0 {
		delete(t.stacks, key)
		return nil
	}
	t.stacks[key] = s
	return nil
}

func (t *memTx) Add(_ context.Context, item catalog.ItemInstance, n int) error {
	if err := ValidateQuantity(n); err != nil {
		return err
	}
	key := item.Key()
	s, ok := t.stacks[key]
	if !ok {
		s = Stack{Template: item.Template}
	}
	s.Count += n
	t.stacks[key] = s
	return nil
}

func (t *memTx) All(_ context.Context) ([]Stack, error) {
	out := make([]Stack, 0, len(t.stacks))
	for _, s := range t.stacks {
		out = append(out, s)
	}
	SortStacks(out)
	return out, nil
}

// SortStacks orders stacks ascending by (rarity, subgrade, name, type).
func SortStacks(stacks []Stack) {
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].Key().Less(stacks[j].Key()) })
}
