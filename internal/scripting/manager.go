package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// ErrNoVM is returned by Call when no VM is registered under the key.
var ErrNoVM = errors.New("scripting: no VM loaded")

type vm struct {
	mu        sync.Mutex
	L         *lua.LState
	instLimit int
}

// Manager owns one sandboxed LState per script namespace.
//
// A VM is single-threaded: calls into the same namespace are serialized,
// calls into different namespaces may run concurrently.
type Manager struct {
	mu     sync.RWMutex
	vms    map[string]*vm
	logger *zap.Logger

	// Multipliers backs the gacha.base_multiplier helper. nil uses
	// rarity.DefaultMultipliers.
	Multipliers rarity.Multipliers
}

// NewManager creates a Manager.
//
// Precondition: logger must be non-nil.
// Postcondition: returns a Manager with no VMs loaded.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{vms: make(map[string]*vm), logger: logger}
}

// LoadDir creates a sandboxed VM under key, registers the gacha module, then
// executes every *.lua file in scriptDir in lexicographic order. A VM
// previously loaded under key is replaced.
//
// Precondition: key must be non-empty; scriptDir must be a readable directory.
// Postcondition: the VM is registered iff every file loaded.
func (m *Manager) LoadDir(key, scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, key, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			files = append(files, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(files)

	L := NewSandboxedState(instLimit)
	m.RegisterModules(L)
	for _, path := range files {
		resetBudget(L, instLimit)
		if err := L.DoFile(path); err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, key, err)
		}
	}
	m.install(key, &vm{L: L, instLimit: instLimit})
	return nil
}

// LoadString is LoadDir for a single in-memory chunk.
func (m *Manager) LoadString(key, src string, instLimit int) error {
	L := NewSandboxedState(instLimit)
	m.RegisterModules(L)
	if err := L.DoString(src); err != nil {
		L.Close()
		return fmt.Errorf("scripting: loading chunk for %q: %w", key, err)
	}
	m.install(key, &vm{L: L, instLimit: instLimit})
	return nil
}

func (m *Manager) install(key string, v *vm) {
	m.mu.Lock()
	old := m.vms[key]
	m.vms[key] = v
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
}

// Has reports whether key has a VM defining the global function fn.
func (m *Manager) Has(key, fn string) bool {
	m.mu.RLock()
	v := m.vms[key]
	m.mu.RUnlock()
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.L.GetGlobal(fn).Type() == lua.LTFunction
}

// Call invokes the global function fn in key's VM with a fresh instruction
// budget and returns its first result. A missing function yields (LNil, nil).
//
// Postcondition: Lua runtime errors, including an exhausted budget, are
// returned and logged at Warn.
func (m *Manager) Call(key, fn string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	v := m.vms[key]
	m.mu.RUnlock()
	if v == nil {
		return lua.LNil, fmt.Errorf("%w: %q", ErrNoVM, key)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	f := v.L.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return lua.LNil, nil
	}
	cancel := resetBudget(v.L, v.instLimit)
	defer cancel()
	if err := v.L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, args...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("vm", key),
			zap.String("fn", fn),
			zap.Error(err),
		)
		return lua.LNil, fmt.Errorf("scripting: calling %s in %q: %w", fn, key, err)
	}
	ret := v.L.Get(-1)
	v.L.Pop(1)
	return ret, nil
}

// Close releases every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	vms := m.vms
	m.vms = make(map[string]*vm)
	m.mu.Unlock()
	for _, v := range vms {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
	}
}
