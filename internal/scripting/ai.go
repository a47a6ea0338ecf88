package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/skirmish/internal/game/combat"
)

// SelectTargetHook is the Lua function consulted for creature targeting:
//
//	function select_target(creature, players) return players[1].id end
//
// Each argument is a table with id, name, kind, level, hp, max_hp and target.
const SelectTargetHook = "select_target"

// TargetSelector is a combat.CreatureAI that asks the creature template's
// scripts, or the global scripts, which player to focus. An unknown id, nil
// or a script error falls back to Fallback.
type TargetSelector struct {
	mgr      *Manager
	Fallback combat.CreatureAI
}

// NewTargetSelector creates a TargetSelector backed by mgr.
//
// Precondition: mgr must be non-nil.
func NewTargetSelector(mgr *Manager) *TargetSelector {
	return &TargetSelector{mgr: mgr, Fallback: combat.StickyTargetAI{}}
}

// SelectTarget implements combat.CreatureAI.
func (s *TargetSelector) SelectTarget(creature *combat.Combatant, players []*combat.Combatant) string {
	if len(players) == 0 {
		return ""
	}
	ret, _ := s.mgr.Call(creature.TemplateID, SelectTargetHook, func(L *lua.LState) []lua.LValue {
		list := L.NewTable()
		for _, p := range players {
			list.Append(combatantTable(L, p))
		}
		return []lua.LValue{combatantTable(L, creature), list}
	})
	if id, ok := ret.(lua.LString); ok {
		for _, p := range players {
			if p.ID == string(id) {
				return p.ID
			}
		}
	}
	return s.Fallback.SelectTarget(creature, players)
}

func combatantTable(L *lua.LState, c *combat.Combatant) *lua.LTable {
	t := L.NewTable()
	kind := "creature"
	if c.IsPlayer() {
		kind = "player"
	}
	L.SetField(t, "id", lua.LString(c.ID))
	L.SetField(t, "name", lua.LString(c.Name))
	L.SetField(t, "kind", lua.LString(kind))
	L.SetField(t, "level", lua.LNumber(c.Level))
	L.SetField(t, "hp", lua.LNumber(c.CurrentHP))
	L.SetField(t, "max_hp", lua.LNumber(c.MaxHP))
	L.SetField(t, "target", lua.LString(c.TargetID))
	return t
}
