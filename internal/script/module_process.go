package script

import (
	"strconv"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/stratawm/strata/scripting/internal/callback"
	"github.com/stratawm/strata/scripting/internal/process"
)

const procTypeName = "strata.process"

func (r *Runtime) processModule(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(procTypeName)
	methods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"write":       r.procWrite,
		"close_stdin": r.procCloseStdin,
		"is_closing":  r.procIsClosing,
		"kill":        r.procKill,
		"wait":        r.procWait,
		"shutdown":    r.procShutdown,
		"resize":      r.procResize,
	})
	L.SetField(mt, "__index", L.NewFunction(procIndex(methods)))
	L.SetField(mt, "__tostring", L.NewFunction(procToString))

	mod := L.NewTable()
	L.SetField(mod, "spawn", L.NewFunction(r.luaSpawn))
	L.SetField(mod, "count", L.NewFunction(r.luaProcCount))
	return mod
}

// procIndex serves pid as a read-only field and everything else from
// the method table.
func procIndex(methods *lua.LTable) lua.LGFunction {
	return func(L *lua.LState) int {
		p := checkProc(L)
		key := L.CheckString(2)
		if key == "pid" {
			L.Push(lua.LNumber(p.PID()))
			return 1
		}
		L.Push(L.GetField(methods, key))
		return 1
	}
}

func procToString(L *lua.LState) int {
	p := checkProc(L)
	L.Push(lua.LString("process: pid " + strconv.Itoa(p.PID())))
	return 1
}

func checkProc(L *lua.LState) *process.Proc {
	ud := L.CheckUserData(1)
	if p, ok := ud.Value.(*process.Proc); ok {
		return p
	}
	L.ArgError(1, "process handle expected")
	return nil
}

func (r *Runtime) luaSpawn(L *lua.LState) int {
	argv := checkArgv(L)
	opts, fns := r.parseSpawnOptions(L)

	var ids []callback.ID
	register := func(fn *lua.LFunction) callback.ID {
		if fn == nil {
			return callback.None
		}
		id := r.callbacks.Register(fn)
		ids = append(ids, id)
		return id
	}
	opts.StdoutCB = register(fns.stdout)
	opts.StderrCB = register(fns.stderr)
	opts.ExitCB = register(fns.onExit)

	p, err := r.procs.Spawn(argv, opts)
	if err != nil {
		for _, id := range ids {
			r.callbacks.Unregister(id)
		}
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	if len(ids) > 0 {
		r.procCBs[p.PID()] = ids
	}

	if opts.Detach {
		// Fire and forget: the child runs in its own session with
		// no script-side handle.
		L.Push(lua.LBool(true))
		return 1
	}
	ud := L.NewUserData()
	ud.Value = p
	L.SetMetatable(ud, L.GetTypeMetatable(procTypeName))
	L.Push(ud)
	return 1
}

func (r *Runtime) luaProcCount(L *lua.LState) int {
	L.Push(lua.LNumber(r.procs.Count()))
	return 1
}

func checkArgv(L *lua.LState) []string {
	switch arg := L.Get(1).(type) {
	case lua.LString:
		if arg == "" {
			L.ArgError(1, "command must not be empty")
		}
		return []string{string(arg)}
	case *lua.LTable:
		var argv []string
		ok := true
		arg.ForEach(func(_, v lua.LValue) {
			s, isStr := v.(lua.LString)
			if !isStr {
				ok = false
				return
			}
			argv = append(argv, string(s))
		})
		if !ok || len(argv) == 0 {
			L.ArgError(1, "argv must be a list of strings")
		}
		return argv
	default:
		L.ArgError(1, "command string or argv list expected")
		return nil
	}
}

type spawnFns struct {
	stdout, stderr, onExit *lua.LFunction
}

func (r *Runtime) parseSpawnOptions(L *lua.LState) (process.SpawnOptions, spawnFns) {
	var opts process.SpawnOptions
	var fns spawnFns

	raw := L.Get(2)
	if raw == lua.LNil {
		return opts, fns
	}
	tbl, ok := raw.(*lua.LTable)
	if !ok {
		L.ArgError(2, "options table expected")
	}

	opts.Cwd = optStringField(L, tbl, "cwd")
	opts.ClearEnv = optBoolField(L, tbl, "clear_env")
	opts.CaptureStdout = optBoolField(L, tbl, "capture_stdout")
	opts.CaptureStderr = optBoolField(L, tbl, "capture_stderr")
	opts.Text = optBoolField(L, tbl, "text")
	opts.Detach = optBoolField(L, tbl, "detach")

	if env := L.GetField(tbl, "env"); env != lua.LNil {
		et, isTbl := env.(*lua.LTable)
		if !isTbl {
			L.ArgError(2, "env must be a table of strings")
		}
		valid := true
		opts.Env = make(map[string]string)
		et.ForEach(func(k, v lua.LValue) {
			ks, okK := k.(lua.LString)
			vs, okV := v.(lua.LString)
			if !okK || !okV {
				valid = false
				return
			}
			opts.Env[string(ks)] = string(vs)
		})
		if !valid {
			L.ArgError(2, "env must be a table of strings")
		}
	}

	switch s := L.GetField(tbl, "stdin").(type) {
	case *lua.LNilType:
	case lua.LString:
		switch string(s) {
		case "closed":
			opts.Stdin = process.StdinClosed
		case "pipe":
			opts.Stdin = process.StdinPipe
		default:
			opts.Stdin = process.StdinData
			opts.StdinData = string(s)
		}
	default:
		L.ArgError(2, `stdin must be "closed", "pipe", or literal data`)
	}

	fns.stdout = optFuncField(L, tbl, "stdout")
	fns.stderr = optFuncField(L, tbl, "stderr")
	fns.onExit = optFuncField(L, tbl, "on_exit")

	switch p := L.GetField(tbl, "pty").(type) {
	case *lua.LNilType:
	case lua.LBool:
		opts.PTY = bool(p)
	case *lua.LTable:
		opts.PTY = true
		opts.PTYCols = int(lua.LVAsNumber(L.GetField(p, "cols")))
		opts.PTYRows = int(lua.LVAsNumber(L.GetField(p, "rows")))
	default:
		L.ArgError(2, "pty must be a boolean or {cols, rows}")
	}

	return opts, fns
}

func (r *Runtime) procWrite(L *lua.LState) int {
	p := checkProc(L)
	data := L.CheckString(2)
	return pushOK(L, p.Write([]byte(data)))
}

func (r *Runtime) procCloseStdin(L *lua.LState) int {
	return pushOK(L, checkProc(L).CloseStdin())
}

func (r *Runtime) procIsClosing(L *lua.LState) int {
	L.Push(lua.LBool(checkProc(L).IsClosing()))
	return 1
}

// procKill sends a named signal, or with no argument starts the
// graceful escalation: terminate, grace period, then forced kill.
// It never blocks the script.
func (r *Runtime) procKill(L *lua.LState) int {
	p := checkProc(L)
	name := L.OptString(2, "")
	if name == "" {
		p.Stop()
		L.Push(lua.LTrue)
		return 1
	}
	sig, err := process.ParseSignal(name)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	return pushOK(L, p.Kill(sig))
}

// procWait blocks until the child exits or the timeout elapses,
// returning the exit table or nil while still running. No timeout
// waits indefinitely, bounded only by the invocation limit.
func (r *Runtime) procWait(L *lua.LState) int {
	p := checkProc(L)
	res := r.await(L, p, msArg(L, 2, -1))
	if res == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(exitTable(L, res))
	return 1
}

// procShutdown waits up to the timeout for a natural exit, then
// escalates through the graceful kill path and returns the final
// result. A missing timeout escalates immediately.
func (r *Runtime) procShutdown(L *lua.LState) int {
	p := checkProc(L)
	res := r.await(L, p, msArg(L, 2, 0))
	if res == nil {
		p.Stop()
		res = r.await(L, p, -1)
	}
	L.Push(exitTable(L, res))
	return 1
}

func (r *Runtime) procResize(L *lua.LState) int {
	p := checkProc(L)
	cols := L.CheckInt(2)
	rows := L.CheckInt(3)
	return pushOK(L, p.Resize(cols, rows))
}

// await blocks on the child's exit with an optional timeout, bailing
// out through a script error when the invocation limit fires so the
// VM regains control. A negative timeout waits indefinitely.
func (r *Runtime) await(L *lua.LState, p *process.Proc, timeout time.Duration) *process.ExitResult {
	var expire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	var cancel <-chan struct{}
	if ctx := L.Context(); ctx != nil {
		cancel = ctx.Done()
	}

	select {
	case <-p.Done():
		return p.Result()
	case <-expire:
		return nil
	case <-cancel:
		L.RaiseError("wait interrupted by execution limit")
		return nil
	}
}

func exitTable(L *lua.LState, res *process.ExitResult) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "pid", lua.LNumber(res.PID))
	L.SetField(t, "code", lua.LNumber(res.Code))
	if res.Signaled() {
		L.SetField(t, "signal", lua.LNumber(res.Signal))
		L.SetField(t, "signal_name", lua.LString(res.SignalName()))
	}
	if res.Stdout != "" {
		L.SetField(t, "stdout", lua.LString(res.Stdout))
	}
	if res.Stderr != "" {
		L.SetField(t, "stderr", lua.LString(res.Stderr))
	}
	if res.Err != "" {
		L.SetField(t, "error", lua.LString(res.Err))
	}
	return t
}

func outputTable(L *lua.LState, out *process.Output) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "pid", lua.LNumber(out.PID))
	L.SetField(t, "stream", lua.LString(out.Stream.String()))
	L.SetField(t, "data", lua.LString(out.Data))
	return t
}

// pushOK translates a resource error into the nil-plus-message pair
// scripts test against, or true on success.
func pushOK(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func msArg(L *lua.LState, idx int, def float64) time.Duration {
	ms := float64(L.OptNumber(idx, lua.LNumber(def)))
	if ms < 0 {
		return -1
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func optStringField(L *lua.LState, tbl *lua.LTable, key string) string {
	switch v := L.GetField(tbl, key).(type) {
	case *lua.LNilType:
		return ""
	case lua.LString:
		return string(v)
	default:
		L.ArgError(2, key+" must be a string")
		return ""
	}
}

func optBoolField(L *lua.LState, tbl *lua.LTable, key string) bool {
	switch v := L.GetField(tbl, key).(type) {
	case *lua.LNilType:
		return false
	case lua.LBool:
		return bool(v)
	default:
		L.ArgError(2, key+" must be a boolean")
		return false
	}
}

func optFuncField(L *lua.LState, tbl *lua.LTable, key string) *lua.LFunction {
	switch v := L.GetField(tbl, key).(type) {
	case *lua.LNilType:
		return nil
	case *lua.LFunction:
		return v
	default:
		L.ArgError(2, key+" must be a function")
		return nil
	}
}
