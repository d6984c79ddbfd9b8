package script

import (
	"strconv"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/timers"
)

const timerTypeName = "strata.timer"

func (r *Runtime) timerModule(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(timerTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"start":      r.timerStart,
		"stop":       r.timerStop,
		"again":      r.timerAgain,
		"close":      r.timerClose,
		"is_active":  r.timerIsActive,
		"get_due_in": r.timerDueIn,
		"set_repeat": r.timerSetRepeat,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(timerToString))

	mod := L.NewTable()
	L.SetField(mod, "new_timer", L.NewFunction(r.luaNewTimer))
	L.SetField(mod, "now", L.NewFunction(r.luaNow))
	L.SetField(mod, "wait", L.NewFunction(r.luaWait))
	return mod
}

func (r *Runtime) luaNewTimer(L *lua.LState) int {
	ud := L.NewUserData()
	ud.Value = r.timers.Create()
	L.SetMetatable(ud, L.GetTypeMetatable(timerTypeName))
	L.Push(ud)
	return 1
}

func checkTimer(L *lua.LState) timers.ID {
	ud := L.CheckUserData(1)
	if id, ok := ud.Value.(timers.ID); ok {
		return id
	}
	L.ArgError(1, "timer expected")
	return 0
}

func timerToString(L *lua.LState) int {
	id := checkTimer(L)
	L.Push(lua.LString("timer: " + strconv.FormatUint(uint64(id), 10)))
	return 1
}

// timerStart arms the timer. A repeat of 0 is one-shot. Restarting a
// live timer replaces its callback, releasing the old one.
func (r *Runtime) timerStart(L *lua.LState) int {
	id := checkTimer(L)
	delay := msArg(L, 2, 0)
	repeat := msArg(L, 3, 0)
	fn := L.CheckFunction(4)
	if delay < 0 || repeat < 0 {
		L.ArgError(2, "delay and repeat must not be negative")
	}

	cb := r.callbacks.Register(fn)
	prev, err := r.timers.Start(id, delay, repeat, cb)
	if err != nil {
		r.callbacks.Unregister(cb)
		return pushOK(L, err)
	}
	if prev != callback.None {
		r.callbacks.Unregister(prev)
	}
	r.metrics.SetTimersActive(r.timers.Active())
	L.Push(lua.LTrue)
	return 1
}

func (r *Runtime) timerStop(L *lua.LState) int {
	id := checkTimer(L)
	err := r.timers.Stop(id)
	r.metrics.SetTimersActive(r.timers.Active())
	return pushOK(L, err)
}

func (r *Runtime) timerAgain(L *lua.LState) int {
	id := checkTimer(L)
	err := r.timers.Again(id)
	r.metrics.SetTimersActive(r.timers.Active())
	return pushOK(L, err)
}

// timerClose destroys the timer and releases its callback. Dropping
// the handle without close leaves the timer running.
func (r *Runtime) timerClose(L *lua.LState) int {
	id := checkTimer(L)
	cb, err := r.timers.Close(id)
	if err != nil {
		return pushOK(L, err)
	}
	if cb != callback.None {
		r.callbacks.Unregister(cb)
	}
	r.metrics.SetTimersActive(r.timers.Active())
	L.Push(lua.LTrue)
	return 1
}

func (r *Runtime) timerIsActive(L *lua.LState) int {
	active, err := r.timers.IsActive(checkTimer(L))
	if err != nil {
		return pushOK(L, err)
	}
	L.Push(lua.LBool(active))
	return 1
}

func (r *Runtime) timerDueIn(L *lua.LState) int {
	due, active, err := r.timers.DueIn(checkTimer(L))
	if err != nil {
		return pushOK(L, err)
	}
	if !active {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(due.Milliseconds()))
	return 1
}

func (r *Runtime) timerSetRepeat(L *lua.LState) int {
	id := checkTimer(L)
	repeat := msArg(L, 2, 0)
	if repeat < 0 {
		L.ArgError(2, "repeat must not be negative")
	}
	return pushOK(L, r.timers.SetRepeat(id, repeat))
}

func (r *Runtime) luaNow(L *lua.LState) int {
	L.Push(lua.LNumber(r.timers.Now()))
	return 1
}

// luaWait sleeps the calling invocation. With a condition it polls at
// the given interval, clamped to 1ms so a zero interval cannot spin,
// until the condition returns a truthy value or the timeout elapses.
// Returns whether the condition was satisfied and its final value.
func (r *Runtime) luaWait(L *lua.LState) int {
	timeout := msArg(L, 1, 0)
	if timeout < 0 {
		L.ArgError(1, "timeout must not be negative")
	}
	cond := L.OptFunction(2, nil)
	interval := msArg(L, 3, 1)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	var cancel <-chan struct{}
	if ctx := L.Context(); ctx != nil {
		cancel = ctx.Done()
	}
	sleep := func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-cancel:
			return false
		}
	}

	if cond == nil {
		if !sleep(timeout) {
			L.RaiseError("wait interrupted by execution limit")
		}
		L.Push(lua.LFalse)
		L.Push(lua.LNil)
		return 2
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := L.CallByParam(lua.P{Fn: cond, NRet: 1, Protect: true}); err != nil {
			L.RaiseError("wait condition failed: %s", err.Error())
		}
		v := L.Get(-1)
		L.Pop(1)
		if lua.LVAsBool(v) {
			L.Push(lua.LTrue)
			L.Push(v)
			return 2
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			L.Push(lua.LFalse)
			L.Push(v)
			return 2
		}
		if remaining < interval {
			if !sleep(remaining) {
				L.RaiseError("wait interrupted by execution limit")
			}
			continue
		}
		if !sleep(interval) {
			L.RaiseError("wait interrupted by execution limit")
		}
	}
}
