package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gacha/internal/game/rarity"
)

// RegisterModules installs the read-only gacha table into L:
//
//	gacha.rarities              array of tier names, lowest first
//	gacha.tier(name)            0-based tier index, or nil if unknown
//	gacha.base_multiplier(name) configured multiplier for the tier
//	gacha.log(msg)              debug log line
//
// Precondition: L must be from NewSandboxedState.
func (m *Manager) RegisterModules(L *lua.LState) {
	mod := L.NewTable()

	names := L.NewTable()
	for _, r := range rarity.All() {
		names.Append(lua.LString(r.String()))
	}
	L.SetField(mod, "rarities", names)

	L.SetField(mod, "tier", L.NewFunction(func(L *lua.LState) int {
		r, err := rarity.Parse(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(int(r)))
		return 1
	}))

	L.SetField(mod, "base_multiplier", L.NewFunction(func(L *lua.LState) int {
		r, err := rarity.Parse(L.CheckString(1))
		if err != nil {
			L.ArgError(1, err.Error())
			return 0
		}
		mults := m.Multipliers
		if mults == nil {
			mults = rarity.DefaultMultipliers()
		}
		L.Push(lua.LNumber(mults.Multiplier(r)))
		return 1
	}))

	L.SetField(mod, "log", L.NewFunction(func(L *lua.LState) int {
		m.logger.Debug("lua", zap.String("msg", L.CheckString(1)))
		return 0
	}))

	L.SetGlobal("gacha", mod)
}
