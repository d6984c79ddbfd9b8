package script

import (
	"os"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/monitoring"
)

func (r *Runtime) utilModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "defer", L.NewFunction(r.luaDefer))
	L.SetField(mod, "uuid", L.NewFunction(luaUUID))
	L.SetField(mod, "env", L.NewFunction(luaEnv))
	return mod
}

// luaDefer queues fn to run in the next tick's deferred batch. The
// closure never leaves the executor, so it may hold the function
// reference directly. Returns false when the queue was full and the
// oldest pending task was discarded.
func (r *Runtime) luaDefer(L *lua.LState) int {
	fn := L.CheckFunction(1)
	ok := r.deferred.Push(func() {
		if err := r.invoke(r.state, fn, monitoring.KindDeferred); err != nil {
			r.logger.Warn("deferred task failed", zap.Error(err))
		}
	})
	if !ok {
		r.metrics.IncDeferredDropped()
	}
	L.Push(lua.LBool(ok))
	return 1
}

func luaUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

func luaEnv(L *lua.LState) int {
	val, ok := os.LookupEnv(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(val))
	return 1
}

func (r *Runtime) logModule(L *lua.LState) *lua.LTable {
	log := r.logger.Named("user")
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(luaLog(log.Debug)))
	L.SetField(mod, "info", L.NewFunction(luaLog(log.Info)))
	L.SetField(mod, "warn", L.NewFunction(luaLog(log.Warn)))
	L.SetField(mod, "error", L.NewFunction(luaLog(log.Error)))
	return mod
}

// luaLog adapts one zap level: log("msg", {key = value, ...}). Field
// values go through FromLua so nested tables land as structured data.
func luaLog(sink func(string, ...zap.Field)) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		tbl := L.OptTable(2, nil)
		if tbl == nil {
			sink(msg)
			return 0
		}
		var fields []zap.Field
		tbl.ForEach(func(k, v lua.LValue) {
			fields = append(fields, zap.Any(k.String(), FromLua(v)))
		})
		sink(msg, fields...)
		return 0
	}
}

func (r *Runtime) jsonModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "encode", L.NewFunction(luaJSONEncode))
	L.SetField(mod, "decode", L.NewFunction(luaJSONDecode))
	return mod
}

func luaJSONEncode(L *lua.LState) int {
	data, err := sonic.Marshal(FromLua(L.Get(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	return 1
}

func luaJSONDecode(L *lua.LState) int {
	var out any
	if err := sonic.Unmarshal([]byte(L.CheckString(1)), &out); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(ToLua(L, out))
	return 1
}
