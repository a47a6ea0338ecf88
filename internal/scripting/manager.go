package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/game/dice"
)

// GlobalScope is the scope of scripts loaded with LoadGlobal. Calls against a
// scope with no state of its own fall back to it.
const GlobalScope = "__global__"

// vm is one Lua state. A state is single-threaded, so every use holds mu.
type vm struct {
	mu    sync.Mutex
	L     *lua.LState
	limit int
}

// Manager owns one sandboxed state per scope and dispatches hook calls.
// Scopes are creature template ids; the global scope serves every template
// without scripts of its own.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*vm
	roller *dice.Roller
	logger *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: roller and logger must be non-nil.
func NewManager(roller *dice.Roller, logger *zap.Logger) *Manager {
	if roller == nil {
		panic("scripting.NewManager: roller must not be nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		states: make(map[string]*vm),
		roller: roller,
		logger: logger,
	}
}

// Load creates a state for scope, registers the engine modules and runs every
// *.lua file in dir in lexicographic order. A previous state for scope is
// replaced.
//
// Precondition: scope is non-empty and dir is a readable directory.
func (m *Manager) Load(scope, dir string, instLimit int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", dir, scope, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	L := NewSandboxedState(instLimit)
	m.RegisterModules(L)
	for _, path := range files {
		if err := L.DoFile(path); err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, scope, err)
		}
	}
	L.RemoveContext()

	m.mu.Lock()
	old := m.states[scope]
	m.states[scope] = &vm{L: L, limit: instLimit}
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	m.logger.Info("scripts loaded", zap.String("scope", scope), zap.Int("files", len(files)))
	return nil
}

// LoadGlobal loads dir into GlobalScope.
func (m *Manager) LoadGlobal(dir string, instLimit int) error {
	return m.Load(GlobalScope, dir, instLimit)
}

// LoadTree loads dir into GlobalScope and every subdirectory of dir into the
// scope named after it.
func (m *Manager) LoadTree(dir string, instLimit int) error {
	if err := m.LoadGlobal(dir, instLimit); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scripting: reading script tree %q: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := m.Load(e.Name(), filepath.Join(dir, e.Name()), instLimit); err != nil {
			return err
		}
	}
	return nil
}

// HasHook reports whether hook is defined for scope or the global scope.
func (m *Manager) HasHook(scope, hook string) bool {
	v := m.lookup(scope)
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.L.GetGlobal(hook) != lua.LNil
}

// CallHook calls the global function hook in scope's state with args.
func (m *Manager) CallHook(scope, hook string, args ...lua.LValue) (lua.LValue, error) {
	return m.Call(scope, hook, func(*lua.LState) []lua.LValue { return args })
}

// Call calls the global function hook in scope's state, falling back to the
// global scope. build creates the arguments against the state that runs the
// hook. A missing state or hook yields LNil. Runtime errors, including an
// exhausted instruction budget, are logged at warn level and yield LNil.
//
// Postcondition: returns the hook's first return value, or LNil.
func (m *Manager) Call(scope, hook string, build func(L *lua.LState) []lua.LValue) (lua.LValue, error) {
	v := m.lookup(scope)
	if v == nil {
		m.logger.Debug("scripting: no state for scope", zap.String("scope", scope), zap.String("hook", hook))
		return lua.LNil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	fn := v.L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}
	var args []lua.LValue
	if build != nil {
		args = build(v.L)
	}

	cancel := armBudget(v.L, v.limit)
	defer func() {
		cancel()
		v.L.RemoveContext()
	}()
	if err := v.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("scope", scope),
			zap.String("hook", hook),
			zap.Error(err))
		return lua.LNil, nil
	}
	ret := v.L.Get(-1)
	v.L.Pop(1)
	return ret, nil
}

func (m *Manager) lookup(scope string) *vm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.states[scope]; ok {
		return v
	}
	return m.states[GlobalScope]
}

// Close releases every state.
func (m *Manager) Close() {
	m.mu.Lock()
	states := m.states
	m.states = make(map[string]*vm)
	m.mu.Unlock()
	for _, v := range states {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
	}
}
