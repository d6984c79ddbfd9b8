package script

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/fetch"
)

func (r *Runtime) httpModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "fetch", L.NewFunction(r.luaFetch))
	return mod
}

// luaFetch starts an asynchronous request. The callback receives a
// result table once, whether the request succeeded or failed; with no
// callback the request is fire and forget.
func (r *Runtime) luaFetch(L *lua.LState) int {
	url := L.CheckString(1)

	var opts fetch.Options
	if raw := L.Get(2); raw != lua.LNil {
		tbl, ok := raw.(*lua.LTable)
		if !ok {
			L.ArgError(2, "options table expected")
		}
		opts.Method = optStringField(L, tbl, "method")
		opts.Body = optStringField(L, tbl, "body")
		opts.TimeoutMS = int(lua.LVAsNumber(L.GetField(tbl, "timeout_ms")))
		if headers := L.GetField(tbl, "headers"); headers != lua.LNil {
			ht, isTbl := headers.(*lua.LTable)
			if !isTbl {
				L.ArgError(2, "headers must be a table of strings")
			}
			opts.Headers = make(map[string]string)
			ht.ForEach(func(k, v lua.LValue) {
				opts.Headers[k.String()] = v.String()
			})
		}
	}

	cb := callback.None
	if fn := L.OptFunction(3, nil); fn != nil {
		cb = r.callbacks.Register(fn)
	}

	if err := r.fetcher.Do(url, opts, cb); err != nil {
		if cb != callback.None {
			r.callbacks.Unregister(cb)
		}
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func fetchTable(L *lua.LState, res *fetch.Result) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "url", lua.LString(res.URL))
	L.SetField(t, "ok", lua.LBool(res.OK()))
	L.SetField(t, "elapsed_ms", lua.LNumber(res.ElapsedMS))
	if res.Err != "" {
		L.SetField(t, "error", lua.LString(res.Err))
		return t
	}
	L.SetField(t, "status", lua.LNumber(res.Status))
	L.SetField(t, "status_text", lua.LString(res.StatusText))
	L.SetField(t, "body", lua.LString(res.Body))
	headers := L.NewTable()
	for k, v := range res.Headers {
		L.SetField(headers, k, lua.LString(v))
	}
	L.SetField(t, "headers", headers)
	return t
}
