package script

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/stratawm/strata/scripting/internal/events"
)

// register installs the strata global. Called once, before the
// executor starts, so it may touch the state directly.
func (r *Runtime) register() {
	L := r.state
	root := L.NewTable()
	L.SetField(root, "event", r.eventModule(L))
	L.SetField(root, "state", r.stateModule(L))
	L.SetField(root, "process", r.processModule(L))
	L.SetField(root, "timer", r.timerModule(L))
	L.SetField(root, "util", r.utilModule(L))
	L.SetField(root, "log", r.logModule(L))
	L.SetField(root, "json", r.jsonModule(L))
	L.SetField(root, "http", r.httpModule(L))
	L.SetGlobal("strata", root)
}

func (r *Runtime) eventModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "on", L.NewFunction(r.luaOn(false)))
	L.SetField(mod, "once", L.NewFunction(r.luaOn(true)))
	L.SetField(mod, "off", L.NewFunction(r.luaOff))
	L.SetField(mod, "emit", L.NewFunction(r.luaEmit))
	L.SetField(mod, "list", L.NewFunction(r.luaList))
	L.SetField(mod, "clear", L.NewFunction(r.luaClear))
	return mod
}

// luaOn implements on/once. A single name returns one handler ID; a
// list of names subscribes the function independently under each and
// returns a name-to-ID map suitable for off().
func (r *Runtime) luaOn(once bool) lua.LGFunction {
	return func(L *lua.LState) int {
		fn := L.CheckFunction(2)

		switch arg := L.Get(1).(type) {
		case lua.LString:
			if arg == "" {
				L.ArgError(1, "event name must not be empty")
			}
			L.Push(lua.LNumber(r.subscribe(string(arg), fn, once)))
		case *lua.LTable:
			var names []string
			ok := true
			arg.ForEach(func(_, v lua.LValue) {
				s, isStr := v.(lua.LString)
				if !isStr || s == "" {
					ok = false
					return
				}
				names = append(names, string(s))
			})
			if !ok || len(names) == 0 {
				L.ArgError(1, "event list must hold non-empty strings")
			}
			out := L.NewTable()
			for _, name := range names {
				L.SetField(out, name, lua.LNumber(r.subscribe(name, fn, once)))
			}
			L.Push(out)
		default:
			L.ArgError(1, "event name or list of names expected")
		}
		return 1
	}
}

func (r *Runtime) subscribe(event string, fn *lua.LFunction, once bool) events.HandlerID {
	cb := r.callbacks.Register(fn)
	id := r.bus.On(event, cb, once)
	r.metrics.SetHandlersActive(r.bus.Len())
	return id
}

// luaOff removes subscriptions: off(event, id) one, off(event) all
// for the event, off(id_map) a batch as returned by on(). Returns
// whether anything was removed and how many.
func (r *Runtime) luaOff(L *lua.LState) int {
	defer r.metrics.SetHandlersActive(r.bus.Len())

	switch arg := L.Get(1).(type) {
	case lua.LString:
		event := string(arg)
		if id := L.OptInt64(2, 0); id != 0 {
			cb, ok := r.bus.Off(event, events.HandlerID(id))
			if ok {
				r.callbacks.Unregister(cb)
			}
			L.Push(lua.LBool(ok))
			return 1
		}
		cbs := r.bus.OffAll(event)
		for _, cb := range cbs {
			r.callbacks.Unregister(cb)
		}
		L.Push(lua.LNumber(len(cbs)))
		return 1
	case *lua.LTable:
		ids := make(map[string]events.HandlerID)
		arg.ForEach(func(k, v lua.LValue) {
			name, okK := k.(lua.LString)
			id, okV := v.(lua.LNumber)
			if okK && okV {
				ids[string(name)] = events.HandlerID(id)
			}
		})
		cbs := r.bus.OffMap(ids)
		for _, cb := range cbs {
			r.callbacks.Unregister(cb)
		}
		L.Push(lua.LNumber(len(cbs)))
		return 1
	default:
		L.ArgError(1, "event name or id map expected")
		return 0
	}
}

func (r *Runtime) luaEmit(L *lua.LState) int {
	event := L.CheckString(1)
	if event == "" {
		L.ArgError(1, "event name must not be empty")
	}
	payload := r.normalizePayload(L, L.Get(2))
	L.Push(lua.LNumber(r.emitScript(L, event, payload)))
	return 1
}

func (r *Runtime) luaList(L *lua.LState) int {
	pattern := L.OptString(1, "")
	L.Push(ToLua(L, r.bus.List(pattern)))
	return 1
}

func (r *Runtime) luaClear(L *lua.LState) int {
	pattern := L.CheckString(1)
	cbs := r.bus.Clear(pattern)
	for _, cb := range cbs {
		r.callbacks.Unregister(cb)
	}
	r.metrics.SetHandlersActive(r.bus.Len())
	L.Push(lua.LNumber(len(cbs)))
	return 1
}

func (r *Runtime) stateModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "windows", L.NewFunction(r.luaWindows))
	L.SetField(mod, "workspaces", L.NewFunction(r.luaWorkspaces))
	L.SetField(mod, "outputs", L.NewFunction(r.luaOutputs))
	L.SetField(mod, "focused_window", L.NewFunction(r.luaFocusedWindow))
	L.SetField(mod, "cursor_position", L.NewFunction(r.luaCursorPosition))
	L.SetField(mod, "reserved_space", L.NewFunction(r.luaReservedSpace))
	L.SetField(mod, "focus_mode", L.NewFunction(r.luaFocusMode))
	return mod
}

func (r *Runtime) luaWindows(L *lua.LState) int {
	windows, err := r.dispatch.Windows(r.qctx)
	if err != nil {
		L.RaiseError("windows: %v", err)
	}
	L.Push(ToLua(L, windows))
	return 1
}

func (r *Runtime) luaWorkspaces(L *lua.LState) int {
	workspaces, err := r.dispatch.Workspaces(r.qctx)
	if err != nil {
		L.RaiseError("workspaces: %v", err)
	}
	L.Push(ToLua(L, workspaces))
	return 1
}

func (r *Runtime) luaOutputs(L *lua.LState) int {
	outputs, err := r.dispatch.Outputs(r.qctx)
	if err != nil {
		L.RaiseError("outputs: %v", err)
	}
	L.Push(ToLua(L, outputs))
	return 1
}

func (r *Runtime) luaFocusedWindow(L *lua.LState) int {
	win, err := r.dispatch.FocusedWindow(r.qctx)
	if err != nil {
		L.RaiseError("focused_window: %v", err)
	}
	if win == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(ToLua(L, win))
	return 1
}

func (r *Runtime) luaCursorPosition(L *lua.LState) int {
	cur, err := r.dispatch.CursorPosition(r.qctx)
	if err != nil {
		L.RaiseError("cursor_position: %v", err)
	}
	if cur == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(ToLua(L, cur))
	return 1
}

func (r *Runtime) luaReservedSpace(L *lua.LState) int {
	output := L.CheckString(1)
	reserved, found, err := r.dispatch.ReservedSpace(r.qctx, output)
	if err != nil {
		L.RaiseError("reserved_space: %v", err)
	}
	if !found {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(ToLua(L, reserved))
	return 1
}

func (r *Runtime) luaFocusMode(L *lua.LState) int {
	mode, err := r.dispatch.FocusMode(r.qctx)
	if err != nil {
		L.RaiseError("focus_mode: %v", err)
	}
	L.Push(lua.LString(mode))
	return 1
}
