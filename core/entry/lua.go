package entry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/Breadcord/Breadcord/core/gateway"
	"github.com/Breadcord/Breadcord/core/permissions"
)

// luaFileName is the entry-code file a Lua module ships.
const luaFileName = "entry.lua"

// LuaLoader loads entry code from an entry.lua script in the module
// directory. The script may define global functions init, on_enable,
// on_disable and on_unload; all are optional. The host API is exposed as a
// global breadcord table.
type LuaLoader struct{}

func (LuaLoader) Name() string { return "lua" }

func (LuaLoader) CanLoad(dir, moduleID string) bool {
	_, err := os.Stat(filepath.Join(dir, luaFileName))
	return err == nil
}

func (LuaLoader) Load(ctx context.Context, dir, moduleID string) (ModuleEntry, error) {
	return &luaEntry{path: filepath.Join(dir, luaFileName)}, nil
}

// luaEntry runs a module's entry.lua. The embedded state is not safe for
// concurrent use, so every hook and handler invocation takes the mutex.
type luaEntry struct {
	path string

	mu    sync.Mutex
	state *lua.LState
}

func (m *luaEntry) Init(ctx context.Context, mc *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	L := lua.NewState()
	m.state = L
	m.installAPI(L, mc)

	if err := L.DoFile(m.path); err != nil {
		L.Close()
		m.state = nil
		return fmt.Errorf("run %s: %w", m.path, err)
	}
	return m.callHookLocked(ctx, "init")
}

func (m *luaEntry) OnEnable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callHookLocked(ctx, "on_enable")
}

func (m *luaEntry) OnDisable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callHookLocked(ctx, "on_disable")
}

func (m *luaEntry) OnUnload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.callHookLocked(ctx, "on_unload")
	if m.state != nil {
		m.state.Close()
		m.state = nil
	}
	return err
}

// callHookLocked invokes an optional global hook function by name.
func (m *luaEntry) callHookLocked(ctx context.Context, name string) error {
	if m.state == nil {
		return fmt.Errorf("lua entry %s is not initialized", m.path)
	}
	fn, ok := m.state.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil
	}
	m.state.SetContext(ctx)
	defer m.state.RemoveContext()
	if err := m.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return fmt.Errorf("lua hook %s: %w", name, err)
	}
	return nil
}

// installAPI registers the breadcord table exposing the module context.
func (m *luaEntry) installAPI(L *lua.LState, mc *Context) {
	api := L.NewTable()
	L.SetGlobal("breadcord", api)

	api.RawSetString("module_id", lua.LString(mc.ModuleID))
	api.RawSetString("storage_path", lua.LString(mc.StoragePath))

	api.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		mc.Logger.Info(L.CheckString(1))
		return 0
	}))

	api.RawSetString("subscribe", L.NewFunction(func(L *lua.LState) int {
		category := L.CheckString(1)
		fn := L.CheckFunction(2)
		mc.Subscribe(category, m.handler(fn))
		return 0
	}))

	api.RawSetString("send_message", L.NewFunction(func(L *lua.LState) int {
		channelID := L.CheckString(1)
		content := L.CheckString(2)
		if err := mc.Actions.SendMessage(L.Context(), channelID, content); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))

	api.RawSetString("has_permission", L.NewFunction(func(L *lua.LState) int {
		tag := permissions.Tag(L.CheckString(1))
		L.Push(lua.LBool(mc.Actions.HasPermission(tag)))
		return 1
	}))

	api.RawSetString("setting_get", L.NewFunction(func(L *lua.LState) int {
		value, err := mc.Settings.Get(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(goToLua(L, value))
		L.Push(lua.LNil)
		return 2
	}))

	api.RawSetString("setting_set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if err := mc.Settings.Set(key, luaToGo(L.CheckAny(2))); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))
}

// handler wraps a Lua function as an event handler. The event is passed as a
// table with the decoded event fields.
func (m *luaEntry) handler(fn *lua.LFunction) Handler {
	return func(ctx context.Context, ev gateway.Event) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.state == nil {
			return fmt.Errorf("lua entry %s is not initialized", m.path)
		}
		L := m.state
		L.SetContext(ctx)
		defer L.RemoveContext()

		tbl := L.NewTable()
		tbl.RawSetString("category", lua.LString(ev.Category))
		tbl.RawSetString("channel_id", lua.LString(ev.ChannelID))
		tbl.RawSetString("user_id", lua.LString(ev.UserID))
		tbl.RawSetString("message_id", lua.LString(ev.MessageID))
		tbl.RawSetString("content", lua.LString(ev.Content))
		payload := L.NewTable()
		for k, v := range ev.Payload {
			payload.RawSetString(k, goToLua(L, v))
		}
		tbl.RawSetString("payload", payload)

		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl); err != nil {
			return fmt.Errorf("lua handler for %s: %w", ev.Category, err)
		}
		return nil
	}
}

func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []interface{}:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaToGo(lv lua.LValue) interface{} {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		out := make(map[string]interface{})
		v.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return nil
	}
}
